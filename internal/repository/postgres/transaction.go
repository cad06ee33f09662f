package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/models"
)

type TransactionRepo struct {
	DB DBTX
}

// Create transaction with provided fields
// If a transaction with the same (user_id, type, external_ref) exists already
// return it as is: the unique index is the idempotency signal, the caller
// detects the conflict by comparing IDs
const createTransaction = `-- name: CreateTransaction
WITH insert_transaction AS (
	INSERT INTO transactions (id, user_id, type, status, amount, external_ref, created_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT DO NOTHING
	RETURNING id, user_id, type, status, amount, external_ref, created_at, completed_at
)
SELECT * FROM insert_transaction
UNION
SELECT id, user_id, type, status, amount, external_ref, created_at, completed_at FROM transactions
WHERE user_id = $2 AND type = $3 AND external_ref = $6 AND $6 IS NOT NULL
`

func (r *TransactionRepo) CreateTransaction(ctx context.Context, tr models.Transaction) (models.Transaction, error) {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now()
	}
	if tr.Status == models.TransactionStatusCompleted && tr.CompletedAt == nil {
		now := time.Now()
		tr.CompletedAt = &now
	}

	rows, _ := r.DB.Query(ctx, createTransaction,
		tr.ID, tr.UserID, tr.Type, tr.Status, tr.Amount, tr.ExternalRef, tr.CreatedAt, tr.CompletedAt,
	)
	tr, err := pgx.CollectOneRow(rows, rowToTransaction)
	if err != nil {
		return tr, fmt.Errorf("db error: %w", err)
	}

	return tr, nil
}

// Complete the transaction with the given reference and record the captured
// amount on it. 'status <> completed' admits pending rows and failed rows
// both: an expired intent is revived when the provider confirmation arrives
// late, already completed rows stay untouched (that replay is a duplicate)
const completeByRef = `-- name: CompleteByRef
UPDATE transactions
SET status = $4, completed_at = $5, amount = $6
WHERE user_id = $1 AND type = $2 AND external_ref = $3 AND status <> $4
RETURNING id, user_id, type, status, amount, external_ref, created_at, completed_at
`

func (r *TransactionRepo) CompleteByRef(ctx context.Context, userID string, trType string, externalRef string, amount decimal.Decimal) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, completeByRef,
		userID, trType, externalRef,
		models.TransactionStatusCompleted, time.Now(), amount,
	)
	return collectTransaction(rows)
}

// Flip the oldest pending transaction of the given type and amount
// Used when the provider event carries no reference to match on
const completePendingByAmount = `-- name: CompletePendingByAmount
UPDATE transactions
SET status = $4, completed_at = $5
WHERE id = (
	SELECT id FROM transactions
	WHERE user_id = $1 AND type = $2 AND amount = $3 AND status = $6
	ORDER BY created_at
	LIMIT 1
)
RETURNING id, user_id, type, status, amount, external_ref, created_at, completed_at
`

func (r *TransactionRepo) CompletePendingByAmount(ctx context.Context, userID string, trType string, amount decimal.Decimal) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, completePendingByAmount,
		userID, trType, amount,
		models.TransactionStatusCompleted, time.Now(), models.TransactionStatusPending,
	)
	return collectTransaction(rows)
}

const findCompletedByAmount = `-- name: FindCompletedByAmount
SELECT id, user_id, type, status, amount, external_ref, created_at, completed_at FROM transactions
WHERE user_id = $1 AND type = $2 AND amount = $3 AND status = $4
ORDER BY created_at
LIMIT 1
`

func (r *TransactionRepo) FindCompletedByAmount(ctx context.Context, userID string, trType string, amount decimal.Decimal) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, findCompletedByAmount, userID, trType, amount, models.TransactionStatusCompleted)
	return collectTransaction(rows)
}

const listTransactions = `-- name: ListTransactions
SELECT id, user_id, type, status, amount, external_ref, created_at, completed_at FROM transactions
WHERE user_id = $1 AND ($2::text[] IS NULL OR type = ANY($2))
ORDER BY created_at DESC
`

func (r *TransactionRepo) ListTransactions(ctx context.Context, userID string, types []string) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listTransactions, userID, types)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

const listStalePending = `-- name: ListStalePending
SELECT id, user_id, type, status, amount, external_ref, created_at, completed_at FROM transactions
WHERE status = $1 AND created_at < $2
ORDER BY created_at
LIMIT $3
`

func (r *TransactionRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, listStalePending, models.TransactionStatusPending, olderThan, limit)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

const markFailed = `-- name: MarkFailed
UPDATE transactions
SET status = $2
WHERE id = $1 AND status = $3
RETURNING id, user_id, type, status, amount, external_ref, created_at, completed_at
`

func (r *TransactionRepo) MarkFailed(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, markFailed, id, models.TransactionStatusFailed, models.TransactionStatusPending)
	return collectTransaction(rows)
}

func collectTransaction(rows pgx.Rows) (models.Transaction, error) {
	tr, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return tr, nil
	case errors.Is(err, pgx.ErrNoRows):
		return tr, apperrors.ErrTransactionNotFound
	default:
		return tr, fmt.Errorf("db error: %w", err)
	}
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var tr models.Transaction
	err := row.Scan(&tr.ID, &tr.UserID, &tr.Type, &tr.Status, &tr.Amount, &tr.ExternalRef, &tr.CreatedAt, &tr.CompletedAt)
	return tr, err
}
