package ledger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/models"
	"github.com/companionspay/ledgerd/internal/repository"
	"github.com/companionspay/ledgerd/internal/repository/postgres"
	"github.com/companionspay/ledgerd/internal/testutil"
)

func TestLedgerService(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, fn func(service *Service, storage repository.Storage)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			fn(NewService(storage, nil), storage)
		})
	}

	t.Run("Credit", func(t *testing.T) {
		t.Run("creates ledger and applies amount", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				result, err := service.Credit(t.Context(), CreditParams{
					UserID:      "alice",
					Amount:      decimal.NewFromInt(50),
					Type:        models.TransactionTypeStripe,
					ExternalRef: "cs_123",
				})

				require.NoError(t, err)
				require.False(t, result.Duplicate)
				require.True(t, result.Ledger.Balance.Equal(decimal.NewFromInt(50)))
				require.Equal(t, models.TransactionStatusCompleted, result.Transaction.Status)
				require.Equal(t, "cs_123", *result.Transaction.ExternalRef)
			})
		})

		t.Run("replayed reference leaves balance unchanged", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				params := CreditParams{
					UserID:      "alice",
					Amount:      decimal.NewFromInt(50),
					Type:        models.TransactionTypeStripe,
					ExternalRef: "cs_123",
				}
				first, err := service.Credit(t.Context(), params)
				require.NoError(t, err)

				second, err := service.Credit(t.Context(), params)

				require.NoError(t, err)
				require.True(t, second.Duplicate)
				require.Equal(t, first.Transaction.ID, second.Transaction.ID)
				require.True(t, second.Ledger.Balance.Equal(decimal.NewFromInt(50)))

				transactions, err := service.ListTransactions(t.Context(), "alice", nil)
				require.NoError(t, err)
				require.Len(t, transactions, 1, "a replay should not append a second transaction")
			})
		})

		t.Run("completes the matching pending transaction", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				pending, err := service.CreatePending(t.Context(), "bob", models.TransactionTypePayPal, decimal.NewFromInt(100), "ORDER-1")
				require.NoError(t, err)

				balance, err := service.GetBalance(t.Context(), "bob")
				require.NoError(t, err)
				require.True(t, balance.Balance.IsZero(), "pending transaction should not touch the balance")

				result, err := service.Credit(t.Context(), CreditParams{
					UserID:      "bob",
					Amount:      decimal.NewFromInt(100),
					Type:        models.TransactionTypePayPal,
					ExternalRef: "ORDER-1",
				})

				require.NoError(t, err)
				require.False(t, result.Duplicate)
				require.Equal(t, pending.ID, result.Transaction.ID, "the pending transaction itself should be completed")
				require.True(t, result.Ledger.Balance.Equal(decimal.NewFromInt(100)), "the credit should be applied once, not per row")
			})
		})

		t.Run("credits a capture arriving after the intent expired", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				pending, err := service.CreatePending(t.Context(), "henry", models.TransactionTypePayPal, decimal.NewFromInt(100), "ORDER-3")
				require.NoError(t, err)

				// The reaper gave up on the intent before the confirmation arrived
				_, err = storage.Transaction().MarkFailed(t.Context(), pending.ID)
				require.NoError(t, err)

				result, err := service.Credit(t.Context(), CreditParams{
					UserID:      "henry",
					Amount:      decimal.NewFromInt(100),
					Type:        models.TransactionTypePayPal,
					ExternalRef: "ORDER-3",
				})

				require.NoError(t, err)
				require.False(t, result.Duplicate, "a confirmed payment must never be dropped as a replay")
				require.Equal(t, pending.ID, result.Transaction.ID, "the expired intent should be revived, not duplicated")
				require.Equal(t, models.TransactionStatusCompleted, result.Transaction.Status)
				require.True(t, result.Ledger.Balance.Equal(decimal.NewFromInt(100)))
			})
		})

		t.Run("captured amount wins over the intent amount", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				_, err := service.CreatePending(t.Context(), "iris", models.TransactionTypePayPal, decimal.NewFromInt(100), "ORDER-4")
				require.NoError(t, err)

				result, err := service.Credit(t.Context(), CreditParams{
					UserID:      "iris",
					Amount:      decimal.NewFromInt(50),
					Type:        models.TransactionTypePayPal,
					ExternalRef: "ORDER-4",
				})

				require.NoError(t, err)
				require.True(t, result.Ledger.Balance.Equal(decimal.NewFromInt(50)))
				require.True(t, result.Transaction.Amount.Equal(decimal.NewFromInt(50)), "the completed row should record what was actually captured")

				transactions, err := service.ListTransactions(t.Context(), "iris", nil)
				require.NoError(t, err)

				sum := decimal.Zero
				for _, tr := range transactions {
					if tr.Status == models.TransactionStatusCompleted {
						sum = sum.Add(tr.Amount)
					}
				}
				require.True(t, result.Ledger.Balance.Equal(sum), "balance should equal the sum of completed amounts")
			})
		})

		t.Run("events without reference dedup by amount", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				params := CreditParams{
					UserID: "carol",
					Amount: decimal.NewFromInt(25),
					Type:   models.TransactionTypePayPal,
				}
				_, err := service.Credit(t.Context(), params)
				require.NoError(t, err)

				second, err := service.Credit(t.Context(), params)

				require.NoError(t, err)
				require.True(t, second.Duplicate)
				require.True(t, second.Ledger.Balance.Equal(decimal.NewFromInt(25)))
			})
		})

		t.Run("non positive amount rejected", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				_, err := service.Credit(t.Context(), CreditParams{
					UserID: "alice",
					Amount: decimal.Zero,
					Type:   models.TransactionTypeStripe,
				})

				require.ErrorIs(t, err, apperrors.ErrNonPositiveAmount)
			})
		})
	})

	t.Run("Debit", func(t *testing.T) {
		t.Run("decreases balance and records negative amount", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				_, err := service.Credit(t.Context(), CreditParams{
					UserID:      "dave",
					Amount:      decimal.NewFromInt(100),
					Type:        models.TransactionTypeStripe,
					ExternalRef: "cs_dave",
				})
				require.NoError(t, err)

				ledger, err := service.Debit(t.Context(), "dave", decimal.NewFromInt(40), models.TransactionTypeRedemption)

				require.NoError(t, err)
				require.True(t, ledger.Balance.Equal(decimal.NewFromInt(60)))

				transactions, err := service.ListTransactions(t.Context(), "dave", []string{models.TransactionTypeRedemption})
				require.NoError(t, err)
				require.Len(t, transactions, 1)
				require.True(t, transactions[0].Amount.Equal(decimal.NewFromInt(-40)))
			})
		})

		t.Run("insufficient balance keeps everything unchanged", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				_, err := service.Credit(t.Context(), CreditParams{
					UserID:      "erin",
					Amount:      decimal.NewFromInt(300),
					Type:        models.TransactionTypeStripe,
					ExternalRef: "cs_erin",
				})
				require.NoError(t, err)

				_, err = service.Debit(t.Context(), "erin", decimal.NewFromInt(500), models.TransactionTypeRedemption)
				require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)

				ledger, err := service.GetBalance(t.Context(), "erin")
				require.NoError(t, err)
				require.True(t, ledger.Balance.Equal(decimal.NewFromInt(300)))

				transactions, err := service.ListTransactions(t.Context(), "erin", []string{models.TransactionTypeRedemption})
				require.NoError(t, err)
				require.Empty(t, transactions, "a rejected debit should not leave a transaction behind")
			})
		})

		t.Run("unknown user", func(t *testing.T) {
			inTx(t, func(service *Service, storage repository.Storage) {
				_, err := service.Debit(t.Context(), "nobody", decimal.NewFromInt(10), models.TransactionTypeRedemption)

				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})
	})

	t.Run("balance equals transaction sum", func(t *testing.T) {
		inTx(t, func(service *Service, storage repository.Storage) {
			_, err := service.Credit(t.Context(), CreditParams{UserID: "frank", Amount: decimal.NewFromInt(70), Type: models.TransactionTypeStripe, ExternalRef: "cs_1"})
			require.NoError(t, err)
			_, err = service.Credit(t.Context(), CreditParams{UserID: "frank", Amount: decimal.NewFromInt(30), Type: models.TransactionTypePayPal, ExternalRef: "ORDER-2"})
			require.NoError(t, err)
			_, err = service.Debit(t.Context(), "frank", decimal.NewFromInt(45), models.TransactionTypeRedemption)
			require.NoError(t, err)

			ledger, err := service.GetBalance(t.Context(), "frank")
			require.NoError(t, err)

			transactions, err := service.ListTransactions(t.Context(), "frank", nil)
			require.NoError(t, err)

			sum := decimal.Zero
			for _, tr := range transactions {
				if tr.Status == models.TransactionStatusCompleted {
					sum = sum.Add(tr.Amount)
				}
			}
			require.True(t, ledger.Balance.Equal(sum), "balance should equal the sum of completed transactions")
		})
	})
}

// Concurrent credits run against the pool directly, each connection opens its
// own db transaction
func TestLedgerServiceConcurrentCredits(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	service := NewService(postgres.NewStorage(pg.Pool), nil)

	const workers = 8
	amount := decimal.NewFromInt(10)

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Credit(t.Context(), CreditParams{
				UserID:      "grace",
				Amount:      amount,
				Type:        models.TransactionTypeStripe,
				ExternalRef: fmt.Sprintf("cs_concurrent_%d", i),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	ledger, err := service.GetBalance(t.Context(), "grace")
	require.NoError(t, err)
	require.True(t, ledger.Balance.Equal(decimal.NewFromInt(10*workers)), "every concurrent credit should be applied exactly once")

	transactions, err := service.ListTransactions(t.Context(), "grace", nil)
	require.NoError(t, err)
	require.Len(t, transactions, workers)
}
