package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/models"
)

// Ledger repository interface
type LedgerRepo interface {
	// Create ledger with zero balance
	// If ledger for the user exists already it is returned as is
	GetOrCreateLedger(ctx context.Context, userID string) (models.Ledger, error)

	// Get user ledger
	// If forUpdate is set the ledger row is locked until the surrounding
	// transaction ends; this is what serializes concurrent mutations per user
	// If ledger not found must return apperrors.ErrUserNotFound
	GetLedger(ctx context.Context, userID string, forUpdate bool) (models.Ledger, error)

	// Overwrite the denormalized balance
	// Must only be called with the ledger row locked (see GetLedger forUpdate)
	UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) (models.Ledger, error)
}

// Transaction repository interface
type TransactionRepo interface {
	// Create transaction with the given fields
	// If a transaction with the same (user_id, type, external_ref) exists
	// already it is returned as is; compare IDs to detect the conflict
	CreateTransaction(ctx context.Context, tr models.Transaction) (models.Transaction, error)

	// Complete the transaction with the given reference, overwriting its
	// amount with the captured amount. Pending rows and failed rows (expired
	// intents whose capture arrived late) both qualify; completed rows never do.
	// If no such transaction exists must return apperrors.ErrTransactionNotFound
	CompleteByRef(ctx context.Context, userID string, trType string, externalRef string, amount decimal.Decimal) (models.Transaction, error)

	// Flip the oldest pending transaction of the given type and amount
	// If no pending transaction matches must return apperrors.ErrTransactionNotFound
	CompletePendingByAmount(ctx context.Context, userID string, trType string, amount decimal.Decimal) (models.Transaction, error)

	// Find a completed transaction of the given type and amount.
	// Legacy dedup path for events that carry no external reference
	FindCompletedByAmount(ctx context.Context, userID string, trType string, amount decimal.Decimal) (models.Transaction, error)

	// List user transactions, newest first, optionally filtered by type
	ListTransactions(ctx context.Context, userID string, types []string) ([]models.Transaction, error)

	// List pending transactions created before the given time, oldest first
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)

	// Mark a pending transaction failed; completed transactions are never touched
	MarkFailed(ctx context.Context, id uuid.UUID) (models.Transaction, error)
}

// Activity log repository interface
type ActivityRepo interface {
	// Append entry to the activity log
	Append(ctx context.Context, entry models.ActivityEntry) (models.ActivityEntry, error)

	// List user activity, newest first
	List(ctx context.Context, userID string) ([]models.ActivityEntry, error)
}

// Storage aggregates all repositories and runs them in one db transaction
type Storage interface {
	Ledger() LedgerRepo
	Transaction() TransactionRepo
	Activity() ActivityRepo

	// Run fn within a database transaction
	// The storage passed to fn operates on that transaction
	InTx(ctx context.Context, fn func(Storage) error) error
}
