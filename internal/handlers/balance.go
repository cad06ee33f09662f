package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/handlers/render"
	"github.com/companionspay/ledgerd/internal/logger"
	"github.com/companionspay/ledgerd/internal/models"
)

func handleGetBalance(s ledgerService, l logger.Logger) http.Handler {
	type response struct {
		UserID  string  `json:"userId"`
		Balance float64 `json:"balance"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("userId")

		ledger, err := s.GetBalance(r.Context(), userID)

		switch {
		case err == nil:
			balance, _ := ledger.Balance.Float64()
			render.JSON(w, response{UserID: ledger.UserID, Balance: balance})
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			l.Error("Failed to get balance", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListTransactions(s ledgerService, l logger.Logger) http.Handler {
	type transaction struct {
		ID          string     `json:"id"`
		Type        string     `json:"type"`
		Status      string     `json:"status"`
		Amount      float64    `json:"amount"`
		ExternalRef *string    `json:"externalRef,omitempty"`
		CreatedAt   time.Time  `json:"createdAt"`
		CompletedAt *time.Time `json:"completedAt,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("userId")

		var types []string
		if t := r.URL.Query().Get("type"); t != "" {
			types = []string{t}
		}

		trs, err := s.ListTransactions(r.Context(), userID, types)

		switch err {
		case nil:
			transactions := make([]transaction, 0, len(trs))
			for _, tr := range trs {
				amount, _ := tr.Amount.Float64()
				transactions = append(transactions, transaction{
					ID:          tr.ID.String(),
					Type:        tr.Type,
					Status:      tr.Status,
					Amount:      amount,
					ExternalRef: tr.ExternalRef,
					CreatedAt:   tr.CreatedAt,
					CompletedAt: tr.CompletedAt,
				})
			}
			render.JSON(w, transactions)
		default:
			l.Error("Failed to list transactions", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRedeem(s ledgerService, l logger.Logger) http.Handler {
	type request struct {
		Amount decimal.Decimal `json:"amount" validate:"required"`
		Type   string          `json:"type"`
	}

	type response struct {
		Balance float64 `json:"balance"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("userId")

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		trType := req.Type
		if trType == "" {
			trType = models.TransactionTypeRedemption
		}

		ledger, err := s.Debit(r.Context(), userID, req.Amount, trType)

		switch {
		case err == nil:
			balance, _ := ledger.Balance.Float64()
			render.JSON(w, response{Balance: balance})
		case errors.Is(err, apperrors.ErrInsufficientBalance):
			render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrNonPositiveAmount):
			render.ServiceError(w, "Amount must be positive", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			l.Error("Failed to redeem credits", "error", err, "user_id", userID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
