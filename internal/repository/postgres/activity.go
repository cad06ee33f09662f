package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/companionspay/ledgerd/internal/models"
)

type ActivityRepo struct {
	DB DBTX
}

const appendActivity = `-- name: AppendActivity
INSERT INTO activity_log (id, user_id, action, amount, provider, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_id, action, amount, provider, created_at
`

func (r *ActivityRepo) Append(ctx context.Context, entry models.ActivityEntry) (models.ActivityEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	rows, _ := r.DB.Query(ctx, appendActivity,
		entry.ID, entry.UserID, entry.Action, entry.Amount, entry.Provider, entry.CreatedAt,
	)
	entry, err := pgx.CollectOneRow(rows, rowToActivity)
	if err != nil {
		return entry, fmt.Errorf("db error: %w", err)
	}

	return entry, nil
}

const listActivity = `-- name: ListActivity
SELECT id, user_id, action, amount, provider, created_at FROM activity_log
WHERE user_id = $1
ORDER BY created_at DESC
`

func (r *ActivityRepo) List(ctx context.Context, userID string) ([]models.ActivityEntry, error) {
	rows, _ := r.DB.Query(ctx, listActivity, userID)
	entries, err := pgx.CollectRows(rows, rowToActivity)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return entries, nil
}

func rowToActivity(row pgx.CollectableRow) (models.ActivityEntry, error) {
	var e models.ActivityEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Action, &e.Amount, &e.Provider, &e.CreatedAt)
	return e, err
}
