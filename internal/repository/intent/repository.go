package intent

import (
	"context"

	"cartsync/internal/domain"
)

// KeyPrefix namespaces checkout hand-off records.
const KeyPrefix = "checkout:intent:"

// Repository holds at most one checkout hand-off per owner. Load returns
// domain.ErrNotFound when there is none and domain.ErrIntentExpired once it is
// past its expiry.
type Repository interface {
	Save(ctx context.Context, in domain.CheckoutIntent) error
	Load(ctx context.Context, owner string) (*domain.CheckoutIntent, error)
	Delete(ctx context.Context, owner string) error
}

// Key returns the namespaced storage key for an owner.
func Key(owner string) string {
	return KeyPrefix + owner
}
