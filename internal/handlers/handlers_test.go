package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/models"
	"github.com/companionspay/ledgerd/internal/service/paypal"
	"github.com/companionspay/ledgerd/internal/service/reconcile"
)

type fakeReconcileService struct {
	stripeResult reconcile.Result
	stripeErr    error

	paypalResult reconcile.Result
	paypalErr    error

	checkoutURL string
	checkoutErr error

	order    paypal.Order
	orderErr error

	captureResult reconcile.Result
	captureErr    error

	gotPayload   []byte
	gotSignature string
}

func (f *fakeReconcileService) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) (reconcile.Result, error) {
	f.gotPayload = payload
	f.gotSignature = signatureHeader
	return f.stripeResult, f.stripeErr
}

func (f *fakeReconcileService) HandlePayPalWebhook(ctx context.Context, payload []byte) (reconcile.Result, error) {
	f.gotPayload = payload
	return f.paypalResult, f.paypalErr
}

func (f *fakeReconcileService) CreateStripeCheckout(ctx context.Context, userID string, email string, amount decimal.Decimal) (string, error) {
	return f.checkoutURL, f.checkoutErr
}

func (f *fakeReconcileService) CreatePayPalOrder(ctx context.Context, userID string, amount decimal.Decimal) (paypal.Order, error) {
	return f.order, f.orderErr
}

func (f *fakeReconcileService) CapturePayPalOrder(ctx context.Context, orderID string, userID string) (reconcile.Result, error) {
	return f.captureResult, f.captureErr
}

type fakeLedgerService struct {
	ledger       models.Ledger
	transactions []models.Transaction
	err          error

	gotUserID string
	gotAmount decimal.Decimal
	gotType   string
	gotTypes  []string
}

func (f *fakeLedgerService) GetBalance(ctx context.Context, userID string) (models.Ledger, error) {
	f.gotUserID = userID
	return f.ledger, f.err
}

func (f *fakeLedgerService) ListTransactions(ctx context.Context, userID string, types []string) ([]models.Transaction, error) {
	f.gotUserID = userID
	f.gotTypes = types
	return f.transactions, f.err
}

func (f *fakeLedgerService) Debit(ctx context.Context, userID string, amount decimal.Decimal, trType string) (models.Ledger, error) {
	f.gotUserID = userID
	f.gotAmount = amount
	f.gotType = trType
	return f.ledger, f.err
}

func doRequest(t *testing.T, rs reconcileService, ls ledgerService, method string, target string, body string) *httptest.ResponseRecorder {
	t.Helper()

	router := NewRouter(rs, ls, nil)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestCreateCheckoutSession(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		rs := &fakeReconcileService{checkoutURL: "https://checkout.stripe.test/cs_1"}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/create-checkout-session",
			`{"amount": 50, "userId": "alice", "email": "alice@example.com"}`)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"url": "https://checkout.stripe.test/cs_1"}`, resp.Body.String())
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := doRequest(t, &fakeReconcileService{}, &fakeLedgerService{}, http.MethodPost, "/api/create-checkout-session",
			`{"amount": 50}`)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("invalid email", func(t *testing.T) {
		resp := doRequest(t, &fakeReconcileService{}, &fakeLedgerService{}, http.MethodPost, "/api/create-checkout-session",
			`{"amount": 50, "userId": "alice", "email": "not-an-email"}`)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("provider failure", func(t *testing.T) {
		rs := &fakeReconcileService{checkoutErr: apperrors.ErrProviderAuth}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/create-checkout-session",
			`{"amount": 50, "userId": "alice", "email": "alice@example.com"}`)

		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

func TestStripeWebhook(t *testing.T) {
	t.Run("received", func(t *testing.T) {
		rs := &fakeReconcileService{}

		router := NewRouter(rs, &fakeLedgerService{}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"type": "checkout.session.completed"}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.JSONEq(t, `{"received": true}`, recorder.Body.String())
		assert.Equal(t, "t=1,v1=abc", rs.gotSignature, "the signature header should be passed through as is")
		assert.Equal(t, `{"type": "checkout.session.completed"}`, string(rs.gotPayload), "the raw body should be passed through unmodified")
	})

	t.Run("duplicate delivery still 200", func(t *testing.T) {
		rs := &fakeReconcileService{stripeResult: reconcile.Result{Duplicate: true}}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/webhook", `{}`)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"received": true, "duplicate": true}`, resp.Body.String())
	})

	t.Run("invalid signature", func(t *testing.T) {
		rs := &fakeReconcileService{stripeErr: apperrors.ErrSignatureInvalid}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/webhook", `{}`)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("malformed event", func(t *testing.T) {
		rs := &fakeReconcileService{stripeErr: apperrors.ErrMalformedEvent}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/webhook", `not json`)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("ledger write failure", func(t *testing.T) {
		rs := &fakeReconcileService{stripeErr: assert.AnError}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/webhook", `{}`)

		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

func TestPayPalWebhook(t *testing.T) {
	t.Run("received", func(t *testing.T) {
		resp := doRequest(t, &fakeReconcileService{}, &fakeLedgerService{}, http.MethodPost, "/api/webhooks/paypal", `{}`)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"received": true}`, resp.Body.String())
	})

	t.Run("ignored event type", func(t *testing.T) {
		rs := &fakeReconcileService{paypalResult: reconcile.Result{Ignored: true}}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/webhooks/paypal", `{}`)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"ignored": true}`, resp.Body.String())
	})

	t.Run("malformed event", func(t *testing.T) {
		rs := &fakeReconcileService{paypalErr: apperrors.ErrMalformedEvent}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/webhooks/paypal", `{}`)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestCreatePayPalOrder(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		rs := &fakeReconcileService{order: paypal.Order{ID: "ORDER-1", ApprovalURL: "https://paypal.test/approve"}}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/payments/paypal",
			`{"amount": 25, "userId": "bob"}`)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"approvalUrl": "https://paypal.test/approve"}`, resp.Body.String())
	})

	t.Run("provider auth failure", func(t *testing.T) {
		rs := &fakeReconcileService{orderErr: apperrors.ErrProviderAuth}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/payments/paypal",
			`{"amount": 25, "userId": "bob"}`)

		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

func TestCapturePayPal(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		rs := &fakeReconcileService{captureResult: reconcile.Result{
			Amount:  decimal.NewFromInt(25),
			Balance: decimal.NewFromInt(75),
		}}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/payments/capture",
			`{"orderId": "ORDER-1", "userId": "bob"}`)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"success": true, "amount": 25, "balance": 75}`, resp.Body.String())
	})

	t.Run("duplicate capture", func(t *testing.T) {
		rs := &fakeReconcileService{captureResult: reconcile.Result{
			Amount:    decimal.NewFromInt(25),
			Balance:   decimal.NewFromInt(75),
			Duplicate: true,
		}}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/payments/capture",
			`{"orderId": "ORDER-1", "userId": "bob"}`)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"success": true, "amount": 25, "balance": 75, "duplicate": true}`, resp.Body.String())
	})

	t.Run("unknown user", func(t *testing.T) {
		rs := &fakeReconcileService{captureErr: apperrors.ErrUserNotFound}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/payments/capture",
			`{"orderId": "ORDER-1", "userId": "nobody"}`)

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("malformed capture response", func(t *testing.T) {
		rs := &fakeReconcileService{captureErr: apperrors.ErrMalformedEvent}

		resp := doRequest(t, rs, &fakeLedgerService{}, http.MethodPost, "/api/payments/capture",
			`{"orderId": "ORDER-1", "userId": "bob"}`)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestGetBalance(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ls := &fakeLedgerService{ledger: models.Ledger{UserID: "alice", Balance: decimal.NewFromInt(120)}}

		resp := doRequest(t, &fakeReconcileService{}, ls, http.MethodGet, "/api/users/alice/balance", "")

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"userId": "alice", "balance": 120}`, resp.Body.String())
		assert.Equal(t, "alice", ls.gotUserID)
	})

	t.Run("unknown user", func(t *testing.T) {
		ls := &fakeLedgerService{err: apperrors.ErrUserNotFound}

		resp := doRequest(t, &fakeReconcileService{}, ls, http.MethodGet, "/api/users/nobody/balance", "")

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestListTransactions(t *testing.T) {
	t.Run("type filter from query", func(t *testing.T) {
		ls := &fakeLedgerService{}

		resp := doRequest(t, &fakeReconcileService{}, ls, http.MethodGet, "/api/users/alice/transactions?type=stripe", "")

		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, []string{models.TransactionTypeStripe}, ls.gotTypes)
	})

	t.Run("empty list renders as array", func(t *testing.T) {
		resp := doRequest(t, &fakeReconcileService{}, &fakeLedgerService{}, http.MethodGet, "/api/users/alice/transactions", "")

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `[]`, resp.Body.String())
	})
}

func TestRedeem(t *testing.T) {
	t.Run("ok with default type", func(t *testing.T) {
		ls := &fakeLedgerService{ledger: models.Ledger{UserID: "alice", Balance: decimal.NewFromInt(60)}}

		resp := doRequest(t, &fakeReconcileService{}, ls, http.MethodPost, "/api/users/alice/redeem",
			`{"amount": 40}`)

		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"balance": 60}`, resp.Body.String())
		assert.Equal(t, models.TransactionTypeRedemption, ls.gotType)
		assert.True(t, ls.gotAmount.Equal(decimal.NewFromInt(40)))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		ls := &fakeLedgerService{err: apperrors.ErrInsufficientBalance}

		resp := doRequest(t, &fakeReconcileService{}, ls, http.MethodPost, "/api/users/alice/redeem",
			`{"amount": 500}`)

		assert.Equal(t, http.StatusPaymentRequired, resp.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		ls := &fakeLedgerService{err: apperrors.ErrUserNotFound}

		resp := doRequest(t, &fakeReconcileService{}, ls, http.MethodPost, "/api/users/nobody/redeem",
			`{"amount": 10}`)

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestHealthz(t *testing.T) {
	resp := doRequest(t, &fakeReconcileService{}, &fakeLedgerService{}, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status": "ok"}`, resp.Body.String())
}
