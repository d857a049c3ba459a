package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cartsync/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Save(ctx context.Context, owner string, snap domain.Snapshot) error {
	items, err := encodeItems(snap.Items)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO cart_snapshots (owner, items, item_count, version, saved_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (owner) DO UPDATE
SET items = EXCLUDED.items,
    item_count = EXCLUDED.item_count,
    version = EXCLUDED.version,
    saved_at = EXCLUDED.saved_at
`
	_, err = r.pool.Exec(ctx, q, owner, items, snap.Count, int64(snap.Version), snap.SavedAt)
	return err
}

func (r *postgresRepo) Load(ctx context.Context, owner string) (*domain.Snapshot, error) {
	const q = `
SELECT items, item_count, version, saved_at
FROM cart_snapshots
WHERE owner = $1
`
	var (
		raw     []byte
		snap    domain.Snapshot
		version int64
	)
	if err := r.pool.QueryRow(ctx, q, owner).Scan(&raw, &snap.Count, &version, &snap.SavedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	items, err := decodeItems(raw)
	if err != nil {
		return nil, err
	}
	snap.Items = items
	snap.Version = uint64(version)
	return &snap, nil
}

func (r *postgresRepo) Delete(ctx context.Context, owner string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cart_snapshots WHERE owner = $1`, owner)
	return err
}

func (r *postgresRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func encodeItems(items []domain.CartLineItem) ([]byte, error) {
	if items == nil {
		items = []domain.CartLineItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode cart items: %w", err)
	}
	return raw, nil
}

func decodeItems(raw []byte) ([]domain.CartLineItem, error) {
	var items []domain.CartLineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode cart items: %w", err)
	}
	return items, nil
}
