// Package stripe talks to the Stripe HTTP API directly: the service only
// needs checkout session creation and webhook signature verification
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/logger"
)

const DefaultAPIBase = "https://api.stripe.com"

type Client struct {
	APIBase   string
	secretKey string

	client *http.Client
	logger logger.Logger
}

func NewClient(apiBase string, secretKey string, l logger.Logger) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		APIBase:   apiBase,
		secretKey: secretKey,
		client:    &http.Client{},
		logger:    l,
	}
}

type CheckoutParams struct {
	// Credits to purchase; 1 credit = 1 USD
	Amount decimal.Decimal

	UserID string
	Email  string

	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSession creates a hosted checkout session and returns its
// redirect URL. userId and tokens travel in session metadata so the webhook
// can resolve the ledger to credit.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	var session CheckoutSession

	cents := p.Amount.Mul(decimal.NewFromInt(100)).Round(0)

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("customer_email", p.Email)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", "Ihram Credits")
	form.Set("line_items[0][price_data][unit_amount]", cents.String())
	form.Set("metadata[userId]", p.UserID)
	form.Set("metadata[tokens]", p.Amount.String())

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return session, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return session, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return session, fmt.Errorf("%w: stripe responded %d", apperrors.ErrProviderAuth, resp.StatusCode)
	default:
		c.logger.Warn("Stripe checkout session creation failed", "status_code", resp.StatusCode)
		return session, fmt.Errorf("stripe responded with unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return session, fmt.Errorf("failed to decode response: %w", err)
	}
	if session.URL == "" {
		return session, fmt.Errorf("stripe session has no redirect url")
	}

	return session, nil
}
