// Package normalize maps provider specific payloads (Stripe checkout
// sessions, PayPal orders and webhook resources) into the single internal
// PaymentEvent shape. All functions are pure transformations.
package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/companionspay/ledgerd/internal/apperrors"
	"github.com/companionspay/ledgerd/internal/models"
)

// Event types this service reconciles; everything else is ignored upstream
const (
	StripeCheckoutCompleted = "checkout.session.completed"
	PayPalCaptureCompleted  = "PAYMENT.CAPTURE.COMPLETED"
)

// StripeEvent is the decoded Stripe webhook envelope
type StripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Session json.RawMessage
}

func ParseStripeEvent(body []byte) (StripeEvent, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return StripeEvent{}, fmt.Errorf("%w: %s", apperrors.ErrMalformedEvent, err)
	}
	if envelope.Type == "" {
		return StripeEvent{}, fmt.Errorf("%w: event type missing", apperrors.ErrMalformedEvent)
	}

	return StripeEvent{
		ID:      envelope.ID,
		Type:    envelope.Type,
		Session: envelope.Data.Object,
	}, nil
}

// StripeCheckoutSession maps a checkout session object to a PaymentEvent.
// The credited amount comes from metadata.tokens when present, otherwise
// from amount_total cents
func StripeCheckoutSession(session []byte) (models.PaymentEvent, error) {
	var event models.PaymentEvent

	var s struct {
		ID            string `json:"id"`
		PaymentStatus string `json:"payment_status"`
		AmountTotal   *int64 `json:"amount_total"`
		Metadata      struct {
			UserID string `json:"userId"`
			Tokens string `json:"tokens"`
		} `json:"metadata"`
	}

	if err := json.Unmarshal(session, &s); err != nil {
		return event, fmt.Errorf("%w: %s", apperrors.ErrMalformedEvent, err)
	}
	if s.Metadata.UserID == "" {
		return event, fmt.Errorf("%w: metadata.userId missing", apperrors.ErrMalformedEvent)
	}

	amount, err := stripeAmount(s.Metadata.Tokens, s.AmountTotal)
	if err != nil {
		return event, err
	}

	return models.PaymentEvent{
		Provider:    models.ProviderStripe,
		ExternalRef: s.ID,
		UserID:      s.Metadata.UserID,
		Amount:      amount,
		RawStatus:   s.PaymentStatus,
	}, nil
}

func stripeAmount(tokens string, amountTotal *int64) (decimal.Decimal, error) {
	if tokens != "" {
		amount, err := decimal.NewFromString(tokens)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: metadata.tokens is not numeric: %q", apperrors.ErrMalformedEvent, tokens)
		}
		if !amount.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: metadata.tokens must be positive: %q", apperrors.ErrMalformedEvent, tokens)
		}
		return amount, nil
	}

	if amountTotal == nil || *amountTotal <= 0 {
		return decimal.Zero, fmt.Errorf("%w: amount missing", apperrors.ErrMalformedEvent)
	}

	// amount_total is in cents; 1 credit = 1 USD
	return decimal.NewFromInt(*amountTotal).Div(decimal.NewFromInt(100)), nil
}

// PayPalWebhook is the decoded PayPal webhook envelope
type PayPalWebhook struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  json.RawMessage
}

func ParsePayPalWebhook(body []byte) (PayPalWebhook, error) {
	var envelope struct {
		ID        string          `json:"id"`
		EventType string          `json:"event_type"`
		Resource  json.RawMessage `json:"resource"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return PayPalWebhook{}, fmt.Errorf("%w: %s", apperrors.ErrMalformedEvent, err)
	}
	if envelope.EventType == "" {
		return PayPalWebhook{}, fmt.Errorf("%w: event_type missing", apperrors.ErrMalformedEvent)
	}

	return PayPalWebhook{
		ID:        envelope.ID,
		EventType: envelope.EventType,
		Resource:  envelope.Resource,
	}, nil
}

// PayPalCaptureResource maps the capture resource of a
// PAYMENT.CAPTURE.COMPLETED webhook to a PaymentEvent.
// The order id lives in supplementary_data; older payloads only carry the
// capture id, which serves as the reference then
func PayPalCaptureResource(resource []byte) (models.PaymentEvent, error) {
	var event models.PaymentEvent

	var r struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		CustomID string `json:"custom_id"`
		Amount   struct {
			Value string `json:"value"`
		} `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	}

	if err := json.Unmarshal(resource, &r); err != nil {
		return event, fmt.Errorf("%w: %s", apperrors.ErrMalformedEvent, err)
	}
	if r.CustomID == "" {
		return event, fmt.Errorf("%w: resource.custom_id missing", apperrors.ErrMalformedEvent)
	}

	amount, err := paypalAmount(r.Amount.Value)
	if err != nil {
		return event, err
	}

	ref := r.SupplementaryData.RelatedIDs.OrderID
	if ref == "" {
		ref = r.ID
	}

	return models.PaymentEvent{
		Provider:    models.ProviderPayPal,
		ExternalRef: ref,
		UserID:      r.CustomID,
		Amount:      amount,
		RawStatus:   r.Status,
	}, nil
}

// PayPalOrderCapture maps a capture-order API response to a PaymentEvent.
// userID and amount come from purchase_units[0] and its first capture
func PayPalOrderCapture(body []byte) (models.PaymentEvent, error) {
	var event models.PaymentEvent

	var o struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			CustomID string `json:"custom_id"`
			Payments struct {
				Captures []struct {
					CustomID string `json:"custom_id"`
					Amount   struct {
						Value string `json:"value"`
					} `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}

	if err := json.Unmarshal(body, &o); err != nil {
		return event, fmt.Errorf("%w: %s", apperrors.ErrMalformedEvent, err)
	}
	if o.ID == "" {
		return event, fmt.Errorf("%w: order id missing", apperrors.ErrMalformedEvent)
	}
	if len(o.PurchaseUnits) == 0 || len(o.PurchaseUnits[0].Payments.Captures) == 0 {
		return event, fmt.Errorf("%w: order has no captures", apperrors.ErrMalformedEvent)
	}

	unit := o.PurchaseUnits[0]
	capture := unit.Payments.Captures[0]

	userID := capture.CustomID
	if userID == "" {
		userID = unit.CustomID
	}
	if userID == "" {
		return event, fmt.Errorf("%w: custom_id missing", apperrors.ErrMalformedEvent)
	}

	amount, err := paypalAmount(capture.Amount.Value)
	if err != nil {
		return event, err
	}

	return models.PaymentEvent{
		Provider:    models.ProviderPayPal,
		ExternalRef: o.ID,
		UserID:      userID,
		Amount:      amount,
		RawStatus:   o.Status,
	}, nil
}

func paypalAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("%w: amount.value missing", apperrors.ErrMalformedEvent)
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount.value is not numeric: %q", apperrors.ErrMalformedEvent, value)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount.value must be positive: %q", apperrors.ErrMalformedEvent, value)
	}

	return amount, nil
}
