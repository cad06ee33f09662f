package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/logger"
	"github.com/companionspay/ledgerd/internal/models"
	"github.com/companionspay/ledgerd/internal/repository"
)

// Service owns every balance mutation.
// All mutations run in one db transaction with the user's ledger row locked,
// so concurrent credits to the same user are serialized while different users
// proceed in parallel.
type Service struct {
	storage repository.Storage
	logger  logger.Logger
}

func NewService(storage repository.Storage, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage: storage,
		logger:  l,
	}
}

type CreditParams struct {
	UserID string
	Amount decimal.Decimal
	Type   string

	// Provider assigned reference, empty for internal credits
	ExternalRef string
}

type CreditResult struct {
	Ledger      models.Ledger
	Transaction models.Transaction

	// Duplicate is set when the credit had been applied before.
	// The balance is returned unchanged and no transaction is appended
	Duplicate bool
}

// Credit increases the user balance and appends (or completes) the matching
// transaction, exactly once per external reference.
func (s *Service) Credit(ctx context.Context, p CreditParams) (CreditResult, error) {
	var result CreditResult

	if !p.Amount.IsPositive() {
		return result, apperrors.ErrNonPositiveAmount
	}

	err := s.storage.InTx(ctx, func(storage repository.Storage) error {
		if _, err := storage.Ledger().GetOrCreateLedger(ctx, p.UserID); err != nil {
			return err
		}

		// Lock the ledger row for the rest of the transaction
		ledger, err := storage.Ledger().GetLedger(ctx, p.UserID, true)
		if err != nil {
			return err
		}

		tr, duplicate, err := s.applyTransaction(ctx, storage, p)
		if err != nil {
			return err
		}

		if duplicate {
			result = CreditResult{Ledger: ledger, Transaction: tr, Duplicate: true}
			return nil
		}

		updated, err := storage.Ledger().UpdateBalance(ctx, p.UserID, ledger.Balance.Add(p.Amount))
		if err != nil {
			return err
		}

		result = CreditResult{Ledger: updated, Transaction: tr}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("credit failed: %w", err)
	}

	if !result.Duplicate {
		s.appendActivity(ctx, p.UserID, "credit", p.Amount, p.Type)
	}

	return result, nil
}

// applyTransaction records the completed transaction for the credit and
// reports whether the credit is a replay of an already applied one.
//
// Preference order: complete the transaction created at purchase intent time
// (pending, or failed when the reaper expired it before the confirmation
// arrived), then insert keyed by the external reference (the unique index
// turns a concurrent duplicate into the existing row), then the legacy amount
// match for events without a reference. The completed row always carries the
// captured amount, so the balance stays the sum of completed amounts.
func (s *Service) applyTransaction(ctx context.Context, storage repository.Storage, p CreditParams) (models.Transaction, bool, error) {
	if p.ExternalRef == "" {
		return s.applyLegacyTransaction(ctx, storage, p)
	}

	tr, err := storage.Transaction().CompleteByRef(ctx, p.UserID, p.Type, p.ExternalRef, p.Amount)
	switch {
	case err == nil:
		return tr, false, nil
	case !errors.Is(err, apperrors.ErrTransactionNotFound):
		return tr, false, err
	}

	tr = models.Transaction{
		ID:          uuid.New(),
		UserID:      p.UserID,
		Type:        p.Type,
		Status:      models.TransactionStatusCompleted,
		Amount:      p.Amount,
		ExternalRef: &p.ExternalRef,
	}
	created, err := storage.Transaction().CreateTransaction(ctx, tr)
	if err != nil {
		return created, false, err
	}

	if created.ID == tr.ID {
		return created, false, nil
	}

	// Conflict on (user_id, type, external_ref): the reference was seen before
	if created.Status == models.TransactionStatusCompleted {
		return created, true, nil
	}

	// The existing row is not applied yet (committed while we waited on the
	// insert), complete it now
	flipped, err := storage.Transaction().CompleteByRef(ctx, p.UserID, p.Type, p.ExternalRef, p.Amount)
	if errors.Is(err, apperrors.ErrTransactionNotFound) {
		return created, true, nil
	}

	return flipped, false, err
}

// applyLegacyTransaction handles events without a provider reference.
// Dedup falls back to the coarse (type, amount) match on completed
// transactions; a matching pending transaction is preferred over inserting
func (s *Service) applyLegacyTransaction(ctx context.Context, storage repository.Storage, p CreditParams) (models.Transaction, bool, error) {
	tr, err := storage.Transaction().FindCompletedByAmount(ctx, p.UserID, p.Type, p.Amount)
	switch {
	case err == nil:
		return tr, true, nil
	case !errors.Is(err, apperrors.ErrTransactionNotFound):
		return tr, false, err
	}

	tr, err = storage.Transaction().CompletePendingByAmount(ctx, p.UserID, p.Type, p.Amount)
	switch {
	case err == nil:
		return tr, false, nil
	case !errors.Is(err, apperrors.ErrTransactionNotFound):
		return tr, false, err
	}

	tr, err = storage.Transaction().CreateTransaction(ctx, models.Transaction{
		UserID: p.UserID,
		Type:   p.Type,
		Status: models.TransactionStatusCompleted,
		Amount: p.Amount,
	})

	return tr, false, err
}

// Debit decreases the user balance and appends a completed transaction with a
// negative amount. Fails with apperrors.ErrInsufficientBalance when the
// balance does not cover the amount.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, trType string) (models.Ledger, error) {
	var result models.Ledger

	if !amount.IsPositive() {
		return result, apperrors.ErrNonPositiveAmount
	}

	err := s.storage.InTx(ctx, func(storage repository.Storage) error {
		ledger, err := storage.Ledger().GetLedger(ctx, userID, true)
		if err != nil {
			return err
		}

		if ledger.Balance.LessThan(amount) {
			return apperrors.ErrInsufficientBalance
		}

		_, err = storage.Transaction().CreateTransaction(ctx, models.Transaction{
			UserID: userID,
			Type:   trType,
			Status: models.TransactionStatusCompleted,
			Amount: amount.Neg(),
		})
		if err != nil {
			return err
		}

		result, err = storage.Ledger().UpdateBalance(ctx, userID, ledger.Balance.Sub(amount))
		return err
	})
	if err != nil {
		// Keep well known errors unwrapped for the callers
		if errors.Is(err, apperrors.ErrInsufficientBalance) || errors.Is(err, apperrors.ErrUserNotFound) {
			return result, err
		}
		return result, fmt.Errorf("debit failed: %w", err)
	}

	s.appendActivity(ctx, userID, "debit", amount.Neg(), trType)

	return result, nil
}

// CreatePending records the purchase intent transaction before the user is
// redirected to the provider. The balance is not touched until the matching
// payment event completes it.
func (s *Service) CreatePending(ctx context.Context, userID string, trType string, amount decimal.Decimal, externalRef string) (models.Transaction, error) {
	var tr models.Transaction

	if !amount.IsPositive() {
		return tr, apperrors.ErrNonPositiveAmount
	}

	if _, err := s.storage.Ledger().GetOrCreateLedger(ctx, userID); err != nil {
		return tr, err
	}

	tr = models.Transaction{
		UserID: userID,
		Type:   trType,
		Status: models.TransactionStatusPending,
		Amount: amount,
	}
	if externalRef != "" {
		tr.ExternalRef = &externalRef
	}

	tr, err := s.storage.Transaction().CreateTransaction(ctx, tr)
	if err != nil {
		return tr, fmt.Errorf("create pending transaction failed: %w", err)
	}

	return tr, nil
}

func (s *Service) GetBalance(ctx context.Context, userID string) (models.Ledger, error) {
	return s.storage.Ledger().GetLedger(ctx, userID, false)
}

func (s *Service) ListTransactions(ctx context.Context, userID string, types []string) ([]models.Transaction, error) {
	return s.storage.Transaction().ListTransactions(ctx, userID, types)
}

// appendActivity mirrors the mutation into the audit log.
// Best effort: a failure is logged and never fails the mutation itself
func (s *Service) appendActivity(ctx context.Context, userID string, action string, amount decimal.Decimal, provider string) {
	_, err := s.storage.Activity().Append(ctx, models.ActivityEntry{
		UserID:   userID,
		Action:   action,
		Amount:   amount,
		Provider: provider,
	})
	if err != nil {
		s.logger.Error("Failed to append activity log entry",
			"error", err,
			"user_id", userID,
			"action", action,
		)
	}
}
