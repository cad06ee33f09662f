// Package reconcile implements the orchestration invoked by every external
// payment trigger: Stripe webhook, PayPal webhook and the PayPal capture
// endpoint. It verifies authenticity, normalizes the payload and applies the
// credit exactly once.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/logger"
	"github.com/companionspay/ledgerd/internal/metrics"
	"github.com/companionspay/ledgerd/internal/models"
	"github.com/companionspay/ledgerd/internal/service/ledger"
	"github.com/companionspay/ledgerd/internal/service/normalize"
	"github.com/companionspay/ledgerd/internal/service/paypal"
	"github.com/companionspay/ledgerd/internal/service/stripe"
)

type ledgerService interface {
	Credit(ctx context.Context, p ledger.CreditParams) (ledger.CreditResult, error)
	CreatePending(ctx context.Context, userID string, trType string, amount decimal.Decimal, externalRef string) (models.Transaction, error)
	GetBalance(ctx context.Context, userID string) (models.Ledger, error)
}

type paypalClient interface {
	CreateOrder(ctx context.Context, p paypal.OrderParams) (paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string) ([]byte, error)
}

type stripeClient interface {
	CreateCheckoutSession(ctx context.Context, p stripe.CheckoutParams) (stripe.CheckoutSession, error)
}

type Result struct {
	Balance decimal.Decimal
	Amount  decimal.Decimal

	// Duplicate is true when the event had been applied before; the response
	// is otherwise identical to a fresh application
	Duplicate bool

	// Ignored is true for event types this service does not reconcile
	Ignored bool
}

type Config struct {
	// Secret for Stripe webhook signature verification.
	// An empty secret is only accepted with InsecureWebhooks set
	StripeWebhookSecret string

	// InsecureWebhooks makes the service process unsigned webhooks.
	// A degraded mode for development; every use is logged
	InsecureWebhooks bool

	// Allowed clock drift for signed webhooks, stripe.DefaultTolerance when zero
	SignatureTolerance time.Duration

	// Redirect targets for checkout flows
	StripeSuccessURL string
	StripeCancelURL  string
	PayPalReturnURL  string
	PayPalCancelURL  string
}

type Service struct {
	config Config

	ledger ledgerService
	paypal paypalClient
	stripe stripeClient
	logger logger.Logger
}

func NewService(config Config, ledgerService ledgerService, paypalClient paypalClient, stripeClient stripeClient, l logger.Logger) (*Service, error) {
	if config.StripeWebhookSecret == "" && !config.InsecureWebhooks {
		return nil, fmt.Errorf("stripe webhook secret is not set; set one or enable insecure webhooks explicitly")
	}
	if config.SignatureTolerance == 0 {
		config.SignatureTolerance = stripe.DefaultTolerance
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	if config.StripeWebhookSecret == "" {
		l.Warn("Webhook signature verification is DISABLED; do not run this in production")
	}

	return &Service{
		config: config,
		ledger: ledgerService,
		paypal: paypalClient,
		stripe: stripeClient,
		logger: l,
	}, nil
}

// Apply credits a normalized payment event to the user ledger exactly once
func (s *Service) Apply(ctx context.Context, event models.PaymentEvent) (Result, error) {
	if event.UserID == "" || !event.Amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: event has no user or amount", apperrors.ErrMalformedEvent)
	}

	// Failed applies are observed too, error-path latency matters as much
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.WithLabelValues(event.Provider).Observe(time.Since(start).Seconds())
	}()

	credit, err := s.ledger.Credit(ctx, ledger.CreditParams{
		UserID:      event.UserID,
		Amount:      event.Amount,
		Type:        event.Provider,
		ExternalRef: event.ExternalRef,
	})
	if err != nil {
		return Result{}, err
	}

	if credit.Duplicate {
		metrics.DuplicateEvents.WithLabelValues(event.Provider).Inc()
		s.logger.Info("Payment event already applied, skipping",
			"provider", event.Provider,
			"external_ref", event.ExternalRef,
			"user_id", event.UserID,
		)

		return Result{
			Balance:   credit.Ledger.Balance,
			Amount:    event.Amount,
			Duplicate: true,
		}, nil
	}

	metrics.CreditsApplied.WithLabelValues(event.Provider).Inc()
	s.logger.Info("Payment credited",
		"provider", event.Provider,
		"external_ref", event.ExternalRef,
		"user_id", event.UserID,
		"amount", event.Amount,
		"balance", credit.Ledger.Balance,
		"raw_status", event.RawStatus,
	)

	return Result{
		Balance: credit.Ledger.Balance,
		Amount:  event.Amount,
	}, nil
}

// HandleStripeWebhook verifies and applies a raw Stripe webhook delivery.
// Event types other than checkout completion are reported as ignored
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) (Result, error) {
	if s.config.StripeWebhookSecret == "" {
		s.logger.Warn("Processing Stripe webhook WITHOUT signature verification")
	} else {
		err := stripe.VerifySignature(payload, signatureHeader, s.config.StripeWebhookSecret, s.config.SignatureTolerance)
		if err != nil {
			metrics.SignatureFailures.Inc()
			s.logger.Warn("Stripe webhook signature rejected", "error", err)
			return Result{}, err
		}
	}

	event, err := normalize.ParseStripeEvent(payload)
	if err != nil {
		metrics.MalformedEvents.WithLabelValues(models.ProviderStripe).Inc()
		return Result{}, err
	}

	if event.Type != normalize.StripeCheckoutCompleted {
		s.logger.Debug("Ignoring Stripe event", "type", event.Type)
		return Result{Ignored: true}, nil
	}

	payment, err := normalize.StripeCheckoutSession(event.Session)
	if err != nil {
		metrics.MalformedEvents.WithLabelValues(models.ProviderStripe).Inc()
		return Result{}, err
	}

	return s.Apply(ctx, payment)
}

// HandlePayPalWebhook applies a raw PayPal webhook delivery.
// Only PAYMENT.CAPTURE.COMPLETED credits a ledger
func (s *Service) HandlePayPalWebhook(ctx context.Context, payload []byte) (Result, error) {
	webhook, err := normalize.ParsePayPalWebhook(payload)
	if err != nil {
		metrics.MalformedEvents.WithLabelValues(models.ProviderPayPal).Inc()
		return Result{}, err
	}

	if webhook.EventType != normalize.PayPalCaptureCompleted {
		s.logger.Debug("Ignoring PayPal event", "event_type", webhook.EventType)
		return Result{Ignored: true}, nil
	}

	payment, err := normalize.PayPalCaptureResource(webhook.Resource)
	if err != nil {
		metrics.MalformedEvents.WithLabelValues(models.ProviderPayPal).Inc()
		return Result{}, err
	}

	return s.Apply(ctx, payment)
}

// CreateStripeCheckout creates a hosted checkout session for a top-up
func (s *Service) CreateStripeCheckout(ctx context.Context, userID string, email string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", apperrors.ErrNonPositiveAmount
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, stripe.CheckoutParams{
		Amount:     amount,
		UserID:     userID,
		Email:      email,
		SuccessURL: s.config.StripeSuccessURL,
		CancelURL:  s.config.StripeCancelURL,
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Stripe checkout session created", "session_id", session.ID, "user_id", userID, "amount", amount)

	return session.URL, nil
}

// CreatePayPalOrder creates the provider order and records the pending
// transaction keyed by the order id, so the later capture completes it
// instead of inserting a second ledger entry
func (s *Service) CreatePayPalOrder(ctx context.Context, userID string, amount decimal.Decimal) (paypal.Order, error) {
	var order paypal.Order

	if !amount.IsPositive() {
		return order, apperrors.ErrNonPositiveAmount
	}

	order, err := s.paypal.CreateOrder(ctx, paypal.OrderParams{
		Amount:    amount,
		UserID:    userID,
		ReturnURL: s.config.PayPalReturnURL,
		CancelURL: s.config.PayPalCancelURL,
	})
	if err != nil {
		return order, err
	}

	_, err = s.ledger.CreatePending(ctx, userID, models.TransactionTypePayPal, amount, order.ID)
	if err != nil {
		return order, err
	}

	s.logger.Info("PayPal order created", "order_id", order.ID, "user_id", userID, "amount", amount)

	return order, nil
}

// CapturePayPalOrder captures an approved order with the provider and
// reconciles the capture response into the ledger
func (s *Service) CapturePayPalOrder(ctx context.Context, orderID string, userID string) (Result, error) {
	// The user must be known before money moves; the handler maps this to 404
	if _, err := s.ledger.GetBalance(ctx, userID); err != nil {
		return Result{}, err
	}

	raw, err := s.paypal.CaptureOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}

	payment, err := normalize.PayPalOrderCapture(raw)
	if err != nil {
		metrics.MalformedEvents.WithLabelValues(models.ProviderPayPal).Inc()
		return Result{}, err
	}

	if payment.UserID != userID {
		return Result{}, fmt.Errorf("%w: order %s belongs to a different user", apperrors.ErrMalformedEvent, orderID)
	}

	return s.Apply(ctx, payment)
}
