package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cartsync/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool, now: time.Now}
}

func (r *postgresRepo) Save(ctx context.Context, in domain.CheckoutIntent) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	const q = `
INSERT INTO checkout_intents (owner, intent_id, payload, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (owner) DO UPDATE
SET intent_id = EXCLUDED.intent_id,
    payload = EXCLUDED.payload,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
`
	_, err = r.pool.Exec(ctx, q, Key(in.Owner), in.ID, payload, in.CreatedAt, in.ExpiresAt)
	return err
}

func (r *postgresRepo) Load(ctx context.Context, owner string) (*domain.CheckoutIntent, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT payload FROM checkout_intents WHERE owner = $1`, Key(owner)).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return decodeIntent(payload, r.now())
}

func (r *postgresRepo) Delete(ctx context.Context, owner string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM checkout_intents WHERE owner = $1`, Key(owner))
	return err
}

func decodeIntent(payload []byte, now time.Time) (*domain.CheckoutIntent, error) {
	var in domain.CheckoutIntent
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	if in.Expired(now) {
		return nil, domain.ErrIntentExpired
	}
	return &in, nil
}
