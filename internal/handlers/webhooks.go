package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/handlers/render"
	"github.com/companionspay/ledgerd/internal/logger"
)

// Providers retry webhooks until they see 2xx, so the handlers respond 200
// for everything that was durably handled, including skips and replays.
// Only authenticity and payload errors earn a 400: retrying those can't help.

func handleStripeWebhook(s reconcileService, l logger.Logger) http.Handler {
	type response struct {
		Received  bool `json:"received"`
		Duplicate bool `json:"duplicate,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Signature is computed over the exact bytes, read before any decode
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			render.ServiceError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		result, err := s.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))

		switch {
		case err == nil:
			render.JSON(w, response{Received: true, Duplicate: result.Duplicate})
		case errors.Is(err, apperrors.ErrSignatureInvalid):
			render.ServiceError(w, "Invalid signature", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrMalformedEvent):
			l.Warn("Malformed Stripe webhook", "error", err)
			render.ServiceError(w, "Malformed event", http.StatusBadRequest)
		default:
			l.Error("Failed to process Stripe webhook", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handlePayPalWebhook(s reconcileService, l logger.Logger) http.Handler {
	type response struct {
		Received  bool `json:"received,omitempty"`
		Ignored   bool `json:"ignored,omitempty"`
		Duplicate bool `json:"duplicate,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			render.ServiceError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		result, err := s.HandlePayPalWebhook(r.Context(), payload)

		switch {
		case err == nil && result.Ignored:
			render.JSON(w, response{Ignored: true})
		case err == nil:
			render.JSON(w, response{Received: true, Duplicate: result.Duplicate})
		case errors.Is(err, apperrors.ErrMalformedEvent):
			l.Warn("Malformed PayPal webhook", "error", err)
			render.ServiceError(w, "Malformed event", http.StatusBadRequest)
		default:
			l.Error("Failed to process PayPal webhook", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
