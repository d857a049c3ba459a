package cart

import (
	"context"

	"cartsync/internal/domain"
)

// Repository persists the last known cart snapshot per owner so a restarted
// client can show the cart before the first fetch completes.
type Repository interface {
	Save(ctx context.Context, owner string, snap domain.Snapshot) error
	Load(ctx context.Context, owner string) (*domain.Snapshot, error)
	Delete(ctx context.Context, owner string) error
	Ping(ctx context.Context) error
}
