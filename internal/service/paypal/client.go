// Package paypal implements the small slice of the PayPal Orders v2 API the
// service needs: OAuth token exchange, order creation and order capture.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/logger"
)

const DefaultAPIBase = "https://api-m.sandbox.paypal.com"

// Every provider call is bounded; on timeout the payment stays unapplied and
// the provider retries the webhook
const requestTimeout = 10 * time.Second

type Client struct {
	APIBase  string
	clientID string
	secret   string

	client *http.Client
	logger logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(apiBase string, clientID string, secret string, l logger.Logger) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		APIBase:  apiBase,
		clientID: clientID,
		secret:   secret,
		client:   &http.Client{},
		logger:   l,
	}
}

// token returns a cached OAuth access token, exchanging client credentials
// when the cache is empty or expired
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange failed: %s", apperrors.ErrProviderAuth, err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("PayPal token exchange failed", "status_code", resp.StatusCode)
		return "", fmt.Errorf("%w: paypal responded %d", apperrors.ErrProviderAuth, resp.StatusCode)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: failed to decode token response: %s", apperrors.ErrProviderAuth, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", apperrors.ErrProviderAuth)
	}

	c.accessToken = token.AccessToken
	// Refresh one minute before the provider expires the token
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)

	return c.accessToken, nil
}

type OrderParams struct {
	// Credits to purchase; 1 credit = 1 USD
	Amount decimal.Decimal

	// Internal user id, sent as custom_id so capture events can resolve it
	UserID string

	ReturnURL string
	CancelURL string
}

type Order struct {
	ID          string
	ApprovalURL string
}

// CreateOrder creates an order and returns its id with the approval link the
// user is redirected to
func (c *Client) CreateOrder(ctx context.Context, p OrderParams) (Order, error) {
	var order Order

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"custom_id": p.UserID,
			"amount": map[string]string{
				"currency_code": "USD",
				"value":         p.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"return_url": p.ReturnURL,
			"cancel_url": p.CancelURL,
		},
	}

	raw, err := c.post(ctx, "/v2/checkout/orders", body)
	if err != nil {
		return order, err
	}

	var decoded struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return order, fmt.Errorf("failed to decode order response: %w", err)
	}
	if decoded.ID == "" {
		return order, fmt.Errorf("paypal order has no id")
	}

	order.ID = decoded.ID
	for _, link := range decoded.Links {
		if link.Rel == "approve" {
			order.ApprovalURL = link.Href
		}
	}
	if order.ApprovalURL == "" {
		return order, fmt.Errorf("paypal order %s has no approval link", order.ID)
	}

	return order, nil
}

// CaptureOrder captures an approved order and returns the raw capture
// response for normalization
func (c *Client) CaptureOrder(ctx context.Context, orderID string) ([]byte, error) {
	return c.post(ctx, "/v2/checkout/orders/"+orderID+"/capture", map[string]any{})
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	accessToken, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return raw, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: paypal responded %d", apperrors.ErrProviderAuth, resp.StatusCode)
	default:
		c.logger.Warn("PayPal request failed", "path", path, "status_code", resp.StatusCode)
		return nil, fmt.Errorf("paypal responded with unexpected status %d: %s", resp.StatusCode, raw)
	}
}
