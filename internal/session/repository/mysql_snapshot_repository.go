package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cartsync/internal/domain"
	"cartsync/internal/errors"
)

// MySQLSnapshotRepository keeps the last server-confirmed cart of every
// identity as a JSON document in CartSnapshots.
type MySQLSnapshotRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLSnapshotRepository(db *sql.DB) *MySQLSnapshotRepository {
	return &MySQLSnapshotRepository{db: db, now: time.Now}
}

func (r *MySQLSnapshotRepository) Find(ctx context.Context, key string) (*domain.Cart, error) {
	query := `
		SELECT payload
		FROM CartSnapshots
		WHERE snapshotKey = ?
	`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(fmt.Sprintf("cart snapshot for %s not found", key))
	}
	if err != nil {
		return nil, fmt.Errorf("querying cart snapshot: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(payload, &cart); err != nil {
		return nil, fmt.Errorf("decoding cart snapshot: %w", err)
	}
	return &cart, nil
}

func (r *MySQLSnapshotRepository) Save(ctx context.Context, key string, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encoding cart snapshot: %w", err)
	}

	query := `
		INSERT INTO CartSnapshots (snapshotKey, payload, updatedAt)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), updatedAt = VALUES(updatedAt)
	`

	if _, err := r.db.ExecContext(ctx, query, key, string(payload), r.now().UTC()); err != nil {
		return fmt.Errorf("saving cart snapshot: %w", err)
	}
	return nil
}

func (r *MySQLSnapshotRepository) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM CartSnapshots WHERE snapshotKey = ?`

	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("deleting cart snapshot: %w", err)
	}
	return nil
}
