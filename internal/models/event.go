package models

import (
	"github.com/shopspring/decimal"
)

const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

// PaymentEvent is the normalized view of a provider payload.
// It is ephemeral: never persisted as its own entity, only applied to the ledger.
type PaymentEvent struct {
	// 'stripe' or 'paypal'; matches the transaction type written on apply
	Provider string

	// Provider assigned id: Stripe checkout session id or PayPal order id.
	// Empty only for legacy payloads that carry no reference.
	ExternalRef string

	// Internal user id resolved from provider metadata / custom_id
	UserID string

	// Amount in ledger units (1 unit = 1 USD = 1 credit)
	Amount decimal.Decimal

	// Provider reported status, kept for diagnostics only
	RawStatus string
}
