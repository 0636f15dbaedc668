package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"weatherdash/internal/domain"

	"github.com/google/uuid"
)

var _ domain.SearchRepository = (*DB)(nil)

type searchRow struct {
	ID        uuid.UUID `db:"id"`
	UserID    int64     `db:"user_id"`
	Query     string    `db:"query"`
	Result    []byte    `db:"result"`
	CreatedAt time.Time `db:"created_at"`
}

// Add inserts a search record.
func (d *DB) Add(ctx context.Context, rec domain.SearchRecord) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode search result: %w", err)
	}
	_, err = d.sql.ExecContext(ctx,
		"INSERT INTO searches (id, user_id, query, result, created_at) VALUES ($1, $2, $3, $4, $5)",
		rec.ID, rec.UserID, rec.Query, result, rec.CreatedAt.UTC(),
	)
	return err
}

// ListRecent returns the most recent searches up to limit for a user.
func (d *DB) ListRecent(ctx context.Context, userID int64, limit int) ([]domain.SearchRecord, error) {
	var rows []searchRow
	err := d.sql.SelectContext(ctx, &rows,
		"SELECT id, user_id, query, result, created_at FROM searches WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		userID, limit,
	)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SearchRecord, 0, len(rows))
	for _, r := range rows {
		rec := domain.SearchRecord{ID: r.ID, UserID: r.UserID, Query: r.Query, CreatedAt: r.CreatedAt}
		if err := json.Unmarshal(r.Result, &rec.Result); err != nil {
			return nil, fmt.Errorf("decode search %s: %w", r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
