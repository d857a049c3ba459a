package cart

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cartsync/internal/domain"
	"github.com/jmoiron/sqlx"
)

type sqliteRepo struct {
	db *sqlx.DB
}

// NewSQLite stores snapshots in the local sqlite database.
func NewSQLite(db *sqlx.DB) Repository {
	return &sqliteRepo{db: db}
}

type snapshotRow struct {
	Items     string `db:"items"`
	ItemCount int    `db:"item_count"`
	Version   int64  `db:"version"`
	SavedAt   string `db:"saved_at"`
}

func (r *sqliteRepo) Save(ctx context.Context, owner string, snap domain.Snapshot) error {
	items, err := encodeItems(snap.Items)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO cart_snapshots (owner, items, item_count, version, saved_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(owner) DO UPDATE SET
  items = excluded.items,
  item_count = excluded.item_count,
  version = excluded.version,
  saved_at = excluded.saved_at
`, owner, string(items), snap.Count, int64(snap.Version), snap.SavedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *sqliteRepo) Load(ctx context.Context, owner string) (*domain.Snapshot, error) {
	var row snapshotRow
	err := r.db.GetContext(ctx, &row, `
SELECT items, item_count, version, saved_at
FROM cart_snapshots
WHERE owner = ?
`, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	items, err := decodeItems([]byte(row.Items))
	if err != nil {
		return nil, err
	}
	savedAt, _ := time.Parse(time.RFC3339Nano, row.SavedAt)
	return &domain.Snapshot{
		Items:   items,
		Count:   row.ItemCount,
		Version: uint64(row.Version),
		SavedAt: savedAt,
	}, nil
}

func (r *sqliteRepo) Delete(ctx context.Context, owner string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_snapshots WHERE owner = ?`, owner)
	return err
}

func (r *sqliteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
