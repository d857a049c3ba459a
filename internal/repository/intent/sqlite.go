package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cartsync/internal/domain"
	"github.com/jmoiron/sqlx"
)

type sqliteRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQLite(db *sqlx.DB) Repository {
	return &sqliteRepo{db: db, now: time.Now}
}

func (r *sqliteRepo) Save(ctx context.Context, in domain.CheckoutIntent) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO checkout_intents (owner, intent_id, payload, created_at, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(owner) DO UPDATE SET
  intent_id = excluded.intent_id,
  payload = excluded.payload,
  created_at = excluded.created_at,
  expires_at = excluded.expires_at
`, Key(in.Owner), in.ID, string(payload),
		in.CreatedAt.UTC().Format(time.RFC3339Nano), in.ExpiresAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *sqliteRepo) Load(ctx context.Context, owner string) (*domain.CheckoutIntent, error) {
	var payload string
	err := r.db.GetContext(ctx, &payload, `SELECT payload FROM checkout_intents WHERE owner = ?`, Key(owner))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return decodeIntent([]byte(payload), r.now())
}

func (r *sqliteRepo) Delete(ctx context.Context, owner string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM checkout_intents WHERE owner = ?`, Key(owner))
	return err
}
