package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/companionspay/ledgerd/internal/models"
	"github.com/companionspay/ledgerd/internal/testutil"
)

func TestActivity(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("append and list newest first", func(t *testing.T) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := NewStorage(tx)

			_, err := storage.Ledger().GetOrCreateLedger(t.Context(), "u1")
			require.NoError(t, err)

			credit, err := storage.Activity().Append(t.Context(), models.ActivityEntry{
				UserID:   "u1",
				Action:   "credit",
				Amount:   decimal.NewFromInt(50),
				Provider: models.TransactionTypeStripe,
			})
			require.NoError(t, err)
			require.NotZero(t, credit.ID)
			require.False(t, credit.CreatedAt.IsZero())

			debit, err := storage.Activity().Append(t.Context(), models.ActivityEntry{
				UserID:   "u1",
				Action:   "debit",
				Amount:   decimal.NewFromInt(-20),
				Provider: models.TransactionTypeRedemption,
			})
			require.NoError(t, err)

			entries, err := storage.Activity().List(t.Context(), "u1")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			require.Equal(t, debit.ID, entries[0].ID)
			require.Equal(t, credit.ID, entries[1].ID)
		})
	})

	t.Run("unknown user is empty", func(t *testing.T) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := NewStorage(tx)

			entries, err := storage.Activity().List(t.Context(), "nobody")

			require.NoError(t, err)
			require.Empty(t, entries)
		})
	})
}
