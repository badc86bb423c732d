/**
 * @description
 * This file defines the core domain models for the settlement-service. These structs
 * represent the ledger entities (payments, commissions, wallets, refunds, withdrawal
 * requests) and the data transfer objects used by the API and business logic layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit, which avoids
 *   floating-point inaccuracies with financial data.
 * - Money fields are never mutated directly; every movement goes through the
 *   repository's atomic operations.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment statuses.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

// Commission statuses. Allowed transitions: PENDING -> RELEASED, PENDING -> REFUNDED,
// PENDING -> CANCELLED, RELEASED -> REFUNDED. Transitions are applied via conditional
// updates so a commission can never be released and refunded at the same time.
const (
	CommissionStatusPending   = "PENDING"
	CommissionStatusReleased  = "RELEASED"
	CommissionStatusRefunded  = "REFUNDED"
	CommissionStatusCancelled = "CANCELLED"
)

// Refund statuses.
const (
	RefundStatusPending  = "PENDING"
	RefundStatusApproved = "APPROVED"
	RefundStatusRejected = "REJECTED"
)

// Withdrawal request statuses. APPROVED requests are persisted as COMPLETED once the
// admin decision is applied; the transient APPROVED value only appears in API input.
const (
	WithdrawalStatusPending   = "PENDING"
	WithdrawalStatusApproved  = "APPROVED"
	WithdrawalStatusCompleted = "COMPLETED"
	WithdrawalStatusRejected  = "REJECTED"
)

// Document publication status required before a purchase can be initiated.
const DocumentStatusApproved = "APPROVED"

// Actor roles carried in the verified JWT. Identity and role are validated upstream;
// this service only reads them.
const (
	RoleCustomer = "CUSTOMER"
	RoleSeller   = "SELLER"
	RoleAdmin    = "ADMIN"
)

// Payment is the ledger record for one purchase attempt. Its amount is immutable
// once created; only the status and the gateway correlation fields change.
type Payment struct {
	ID               uuid.UUID `json:"id"`
	BuyerID          uuid.UUID `json:"buyer_id"`
	DocumentID       uuid.UUID `json:"document_id"`
	SellerID         uuid.UUID `json:"seller_id"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status"`
	GatewayOrderCode *int64    `json:"gateway_order_code,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Enrollment grants a user access to a document. At most one enrollment exists per
// (user, document) pair; refund approval deletes it.
type Enrollment struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	DocumentID uuid.UUID `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Commission is the split of one completed payment into a seller share and a
// platform fee, held pending until ReleaseAt elapses uncontested.
// Invariant: SellerAmount + PlatformAmount == payment amount.
type Commission struct {
	ID              uuid.UUID `json:"id"`
	PaymentID       uuid.UUID `json:"payment_id"`
	SellerID        uuid.UUID `json:"seller_id"`
	PlatformFeeRate float64   `json:"platform_fee_rate"`
	SellerAmount    int64     `json:"seller_amount"`
	PlatformAmount  int64     `json:"platform_amount"`
	Status          string    `json:"status"`
	ReleaseAt       time.Time `json:"release_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SellerWallet tracks one seller's balances. PendingBalance mirrors the sum of the
// seller's still-PENDING commissions; all fields stay non-negative.
type SellerWallet struct {
	SellerID         uuid.UUID `json:"seller_id"`
	AvailableBalance int64     `json:"available_balance"`
	PendingBalance   int64     `json:"pending_balance"`
	TotalEarned      int64     `json:"total_earned"`
	TotalWithdrawn   int64     `json:"total_withdrawn"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PlatformWallet is the singleton platform ledger row, created on first access.
type PlatformWallet struct {
	AvailableBalance      int64     `json:"available_balance"`
	PendingBalance        int64     `json:"pending_balance"`
	TotalBalance          int64     `json:"total_balance"`
	TotalCommissionEarned int64     `json:"total_commission_earned"`
	TotalRefunded         int64     `json:"total_refunded"`
	TotalWithdrawals      int64     `json:"total_withdrawals"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// BankDetails is the payout destination attached to refunds and withdrawals.
// All three fields are required.
type BankDetails struct {
	BankName          string `json:"bank_name"`
	BankAccountName   string `json:"bank_account_name"`
	BankAccountNumber string `json:"bank_account_number"`
}

// Complete reports whether every bank detail field is populated.
func (b BankDetails) Complete() bool {
	return b.BankName != "" && b.BankAccountName != "" && b.BankAccountNumber != ""
}

// Refund is a customer's claim against a completed payment. Creation records the
// claim only; money moves when an admin approves it.
type Refund struct {
	ID                uuid.UUID   `json:"id"`
	PaymentID         uuid.UUID   `json:"payment_id"`
	CustomerID        uuid.UUID   `json:"customer_id"`
	SellerID          uuid.UUID   `json:"seller_id"`
	DocumentID        uuid.UUID   `json:"document_id"`
	Amount            int64       `json:"amount"`
	Reason            string      `json:"reason"`
	BankDetails       BankDetails `json:"bank_details"`
	Status            string      `json:"status"`
	AdminResponse     *string     `json:"admin_response,omitempty"`
	ProcessedBy       *uuid.UUID  `json:"processed_by,omitempty"`
	ProcessedAt       *time.Time  `json:"processed_at,omitempty"`
	RefundCompletedAt *time.Time  `json:"refund_completed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// WithdrawalRequest is a seller cash-out. The requested amount is debited from the
// seller's available balance at creation time (optimistic hold) and either kept
// (approval) or credited back (rejection).
type WithdrawalRequest struct {
	ID          uuid.UUID   `json:"id"`
	SellerID    uuid.UUID   `json:"seller_id"`
	Amount      int64       `json:"amount"`
	BankDetails BankDetails `json:"bank_details"`
	Status      string      `json:"status"`
	ProcessedBy *uuid.UUID  `json:"processed_by,omitempty"`
	Notes       *string     `json:"notes,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Document is the read-only view of a marketplace document needed for settlement:
// price, discount, publication status, and the selling author.
type Document struct {
	ID              uuid.UUID `json:"id"`
	AuthorID        uuid.UUID `json:"author_id"`
	Title           string    `json:"title"`
	Price           int64     `json:"price"`
	DiscountPercent float64   `json:"discount_percent"`
	Status          string    `json:"status"`
}

// User is the read-only directory view used for gateway buyer info.
type User struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Phone string    `json:"phone"`
}

// PurchaseInitiation is returned to the buyer after a payment link was created.
type PurchaseInitiation struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	Amount      int64     `json:"amount"`
	PaymentLink string    `json:"payment_link"`
}

// GatewayCallback is the webhook payload delivered by the payment gateway. Delivery
// is at-least-once with arbitrary delay, so handling must be idempotent.
type GatewayCallback struct {
	PaymentID string `json:"payment_id"`
	OrderCode int64  `json:"order_code"`
	Code      string `json:"code"`
	Status    string `json:"status"`
	Cancel    bool   `json:"cancel"`
}

// Succeeded reports whether the callback describes a successful payment.
func (c GatewayCallback) Succeeded() bool {
	return c.Code == "00" && c.Status == "PAID" && !c.Cancel
}

// CreateRefundPayload is the DTO for customer refund requests.
type CreateRefundPayload struct {
	PaymentID   uuid.UUID   `json:"payment_id"`
	Reason      string      `json:"reason"`
	BankDetails BankDetails `json:"bank_details"`
}

// ProcessRefundPayload is the DTO for the admin refund decision.
type ProcessRefundPayload struct {
	Status        string `json:"status"` // APPROVED or REJECTED
	AdminResponse string `json:"admin_response"`
}

// CreateWithdrawalPayload is the DTO for seller withdrawal requests.
type CreateWithdrawalPayload struct {
	Amount      int64       `json:"amount"`
	BankDetails BankDetails `json:"bank_details"`
}

// ProcessWithdrawalPayload is the DTO for the admin withdrawal decision.
type ProcessWithdrawalPayload struct {
	Status string  `json:"status"` // APPROVED or REJECTED
	Notes  *string `json:"notes,omitempty"`
}

// RefundEligibility is the result of a fresh eligibility evaluation.
type RefundEligibility struct {
	CanRefund bool   `json:"can_refund"`
	Reason    string `json:"reason,omitempty"`
}

// RefundStats summarizes refund activity for admin and seller dashboards.
type RefundStats struct {
	Total          int64 `json:"total"`
	Pending        int64 `json:"pending"`
	Approved       int64 `json:"approved"`
	Rejected       int64 `json:"rejected"`
	TotalAmount    int64 `json:"total_amount"`
	ApprovedAmount int64 `json:"approved_amount"`
}

// PaymentStats summarizes payment activity for the admin dashboard.
type PaymentStats struct {
	TotalPayments      int64 `json:"total_payments"`
	CompletedPayments  int64 `json:"completed_payments"`
	TotalRevenue       int64 `json:"total_revenue"`
	PlatformRevenue    int64 `json:"platform_revenue"`
	TotalCommissions   int64 `json:"total_commissions"`
	PendingWithdrawals int64 `json:"pending_withdrawals"`
}

// ListOptions controls pagination and status filtering for list endpoints.
type ListOptions struct {
	Limit  int
	Offset int
	Status string
}

// Purchase pairs an enrollment with the purchased document for history listings.
type Purchase struct {
	Document    Document  `json:"document"`
	PurchasedAt time.Time `json:"purchased_at"`
}
