package handlers

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/handlers/middleware"
	"github.com/companionspay/ledgerd/internal/logger"
	"github.com/companionspay/ledgerd/internal/models"
	"github.com/companionspay/ledgerd/internal/service/paypal"
	"github.com/companionspay/ledgerd/internal/service/reconcile"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	reconcileService reconcileService,
	ledgerService ledgerService,
	l logger.Logger,
) http.Handler {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	mux := http.NewServeMux()

	mux.Handle("POST /api/create-checkout-session", handleCreateCheckoutSession(reconcileService, l))
	mux.Handle("POST /api/webhook", handleStripeWebhook(reconcileService, l))
	mux.Handle("POST /api/payments/paypal", handleCreatePayPalOrder(reconcileService, l))
	mux.Handle("POST /api/payments/capture", handleCapturePayPal(reconcileService, l))
	mux.Handle("POST /api/webhooks/paypal", handlePayPalWebhook(reconcileService, l))

	mux.Handle("GET /api/users/{userId}/balance", handleGetBalance(ledgerService, l))
	mux.Handle("GET /api/users/{userId}/transactions", handleListTransactions(ledgerService, l))
	mux.Handle("POST /api/users/{userId}/redeem", handleRedeem(ledgerService, l))

	mux.Handle("GET /healthz", handleHealthz())
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := chain(mux,
		middleware.LoggerMiddleware(l),
	)

	return handler
}

type reconcileService interface {
	// Verify, normalize and apply a raw Stripe webhook delivery
	HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) (reconcile.Result, error)

	// Normalize and apply a raw PayPal webhook delivery
	HandlePayPalWebhook(ctx context.Context, payload []byte) (reconcile.Result, error)

	// Create a hosted Stripe checkout session, returns the redirect url
	CreateStripeCheckout(ctx context.Context, userID string, email string, amount decimal.Decimal) (string, error)

	// Create a PayPal order and the matching pending transaction
	CreatePayPalOrder(ctx context.Context, userID string, amount decimal.Decimal) (paypal.Order, error)

	// Capture an approved PayPal order and credit the ledger
	// Has to return apperrors.ErrUserNotFound when the user ledger not exists
	CapturePayPalOrder(ctx context.Context, orderID string, userID string) (reconcile.Result, error)
}

type ledgerService interface {
	GetBalance(ctx context.Context, userID string) (models.Ledger, error)
	ListTransactions(ctx context.Context, userID string, types []string) ([]models.Transaction, error)

	// Has to return apperrors.ErrInsufficientBalance when balance does not cover amount
	Debit(ctx context.Context, userID string, amount decimal.Decimal, trType string) (models.Ledger, error)
}

func handleHealthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
