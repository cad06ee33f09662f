package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/models"
)

type LedgerRepo struct {
	DB DBTX
}

// Create ledger if it not exists yet and return it
// A payment webhook may arrive before the app ever touched the user's ledger,
// so crediting paths must not fail on a missing row
const getOrCreateLedger = `-- name: GetOrCreateLedger
WITH insert_ledger AS (
	INSERT INTO ledgers (id, user_id, balance, created_at, updated_at)
	VALUES ($1, $2, 0, $3, $3)
	ON CONFLICT (user_id) DO NOTHING
	RETURNING id, user_id, balance, created_at, updated_at
)
SELECT * FROM insert_ledger
UNION
SELECT id, user_id, balance, created_at, updated_at FROM ledgers WHERE user_id = $2
`

func (r *LedgerRepo) GetOrCreateLedger(ctx context.Context, userID string) (models.Ledger, error) {
	rows, _ := r.DB.Query(ctx, getOrCreateLedger, uuid.New(), userID, time.Now())
	ledger, err := pgx.CollectOneRow(rows, rowToLedger)
	if err != nil {
		return ledger, fmt.Errorf("db error: %w", err)
	}

	return ledger, nil
}

const getLedger = `-- name: GetLedger
SELECT id, user_id, balance, created_at, updated_at FROM ledgers
WHERE user_id = $1
`

const getLedgerForUpdate = getLedger + `
FOR UPDATE
`

func (r *LedgerRepo) GetLedger(ctx context.Context, userID string, forUpdate bool) (models.Ledger, error) {
	query := getLedger
	if forUpdate {
		query = getLedgerForUpdate
	}

	rows, _ := r.DB.Query(ctx, query, userID)
	ledger, err := pgx.CollectOneRow(rows, rowToLedger)

	switch {
	case err == nil:
		return ledger, nil
	case errors.Is(err, pgx.ErrNoRows):
		return ledger, apperrors.ErrUserNotFound
	default:
		return ledger, fmt.Errorf("db error: %w", err)
	}
}

const updateBalance = `-- name: UpdateBalance
UPDATE ledgers
SET balance = $2, updated_at = $3
WHERE user_id = $1
RETURNING id, user_id, balance, created_at, updated_at
`

func (r *LedgerRepo) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) (models.Ledger, error) {
	rows, _ := r.DB.Query(ctx, updateBalance, userID, balance, time.Now())
	ledger, err := pgx.CollectOneRow(rows, rowToLedger)

	var pgErr *pgconn.PgError

	switch {
	case err == nil:
		return ledger, nil
	case errors.Is(err, pgx.ErrNoRows):
		return ledger, apperrors.ErrUserNotFound
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation:
		// The balance >= 0 constraint is the backstop behind the service check
		return ledger, apperrors.ErrInsufficientBalance
	default:
		return ledger, fmt.Errorf("db error: %w", err)
	}
}

func rowToLedger(row pgx.CollectableRow) (models.Ledger, error) {
	var l models.Ledger
	err := row.Scan(&l.ID, &l.UserID, &l.Balance, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}
