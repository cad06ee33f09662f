package handlers

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/handlers/render"
	"github.com/companionspay/ledgerd/internal/logger"
)

func handleCreateCheckoutSession(s reconcileService, l logger.Logger) http.Handler {
	type request struct {
		Amount decimal.Decimal `json:"amount" validate:"required"`
		UserID string          `json:"userId" validate:"required"`
		Email  string          `json:"email" validate:"required,email"`
	}

	type response struct {
		URL string `json:"url"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		url, err := s.CreateStripeCheckout(r.Context(), req.UserID, req.Email, req.Amount)

		switch {
		case err == nil:
			render.JSON(w, response{URL: url})
		case errors.Is(err, apperrors.ErrNonPositiveAmount):
			render.ServiceError(w, "Amount must be positive", http.StatusBadRequest)
		default:
			l.Error("Failed to create checkout session", "error", err, "user_id", req.UserID)
			render.ServiceError(w, "Failed to create checkout session", http.StatusInternalServerError)
		}
	})
}

func handleCreatePayPalOrder(s reconcileService, l logger.Logger) http.Handler {
	type request struct {
		Amount decimal.Decimal `json:"amount" validate:"required"`
		UserID string          `json:"userId" validate:"required"`
	}

	type response struct {
		ApprovalURL string `json:"approvalUrl"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		order, err := s.CreatePayPalOrder(r.Context(), req.UserID, req.Amount)

		switch {
		case err == nil:
			render.JSON(w, response{ApprovalURL: order.ApprovalURL})
		case errors.Is(err, apperrors.ErrNonPositiveAmount):
			render.ServiceError(w, "Amount must be positive", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrProviderAuth):
			l.Error("PayPal authentication failed", "error", err)
			render.ServiceError(w, "Payment provider unavailable", http.StatusInternalServerError)
		default:
			l.Error("Failed to create PayPal order", "error", err, "user_id", req.UserID)
			render.ServiceError(w, "Failed to create order", http.StatusInternalServerError)
		}
	})
}

func handleCapturePayPal(s reconcileService, l logger.Logger) http.Handler {
	type request struct {
		OrderID string `json:"orderId" validate:"required"`
		UserID  string `json:"userId" validate:"required"`
	}

	type response struct {
		Success   bool    `json:"success"`
		Amount    float64 `json:"amount"`
		Balance   float64 `json:"balance"`
		Duplicate bool    `json:"duplicate,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		result, err := s.CapturePayPalOrder(r.Context(), req.OrderID, req.UserID)

		switch {
		case err == nil:
			amount, _ := result.Amount.Float64()
			balance, _ := result.Balance.Float64()
			render.JSON(w, response{
				Success:   true,
				Amount:    amount,
				Balance:   balance,
				Duplicate: result.Duplicate,
			})
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrMalformedEvent):
			l.Warn("Capture returned malformed payload", "error", err, "order_id", req.OrderID)
			render.ServiceError(w, "Invalid capture response", http.StatusBadRequest)
		default:
			l.Error("Failed to capture PayPal order", "error", err, "order_id", req.OrderID)
			render.ServiceError(w, "Capture failed", http.StatusInternalServerError)
		}
	})
}
