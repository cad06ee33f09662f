package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction types
// Payment types ('paypal', 'stripe') double as the provider tag of the
// payment event that created them
const (
	TransactionTypePayPal     = "paypal"
	TransactionTypeStripe     = "stripe"
	TransactionTypeReward     = "reward"
	TransactionTypeRedemption = "redemption"
	TransactionTypeDonation   = "donation"
	TransactionTypePurchase   = "purchase"
	TransactionTypeCardLoad   = "card_load"
	TransactionTypeCheckin    = "checkin"
	TransactionTypeTransfer   = "transfer"
	TransactionTypeGift       = "gift"
	TransactionTypeWithdrawal = "withdrawal"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Ledger holds the current credit balance for a single user.
// Invariant: Balance equals the sum of amounts of all completed transactions.
type Ledger struct {
	ID        uuid.UUID
	UserID    string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is a single ledger entry.
// Amount is signed: positive for credits, negative for debits.
// ExternalRef carries the provider assigned id (Stripe session id, PayPal
// order id) and is nil for internal transaction types.
type Transaction struct {
	ID          uuid.UUID
	UserID      string
	Type        string
	Status      string
	Amount      decimal.Decimal
	ExternalRef *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// ActivityEntry mirrors a balance mutation for audit and reporting.
// Appending it is best effort and never blocks reconciliation.
type ActivityEntry struct {
	ID        uuid.UUID
	UserID    string
	Action    string
	Amount    decimal.Decimal
	Provider  string
	CreatedAt time.Time
}
