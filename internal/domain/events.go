package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEvent is published when a payment reaches a terminal gateway outcome.
type PaymentEvent struct {
	PaymentID  uuid.UUID `json:"payment_id"`
	BuyerID    uuid.UUID `json:"buyer_id"`
	SellerID   uuid.UUID `json:"seller_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// CommissionReleasedEvent is published when held funds move to available balances.
type CommissionReleasedEvent struct {
	CommissionID   uuid.UUID `json:"commission_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	SellerAmount   int64     `json:"seller_amount"`
	PlatformAmount int64     `json:"platform_amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// RefundDecisionEvent is published when an admin resolves a refund request.
type RefundDecisionEvent struct {
	RefundID   uuid.UUID `json:"refund_id"`
	PaymentID  uuid.UUID `json:"payment_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	SellerID   uuid.UUID `json:"seller_id"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// WithdrawalEvent is published when a withdrawal request is created or resolved.
type WithdrawalEvent struct {
	RequestID uuid.UUID `json:"request_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
