/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the settlement-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * The money-moving methods are deliberately coarse: each one is a single atomic unit
 * (one database transaction or one conditional update) so that correctness never
 * depends on in-memory locking in the application layer.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/docmarket/settlement-service/internal/domain"
	"github.com/google/uuid"
)

// CompletePaymentParams carries the precomputed settlement split applied when a
// payment completes. SellerAmount + PlatformAmount must equal the payment amount.
type CompletePaymentParams struct {
	PaymentID      uuid.UUID
	OrderCode      int64
	FeeRate        float64
	SellerAmount   int64
	PlatformAmount int64
	ReleaseAt      time.Time
}

// RefundDecisionParams carries the admin resolution of a refund request.
type RefundDecisionParams struct {
	RefundID      uuid.UUID
	AdminID       uuid.UUID
	AdminResponse string
	ProcessedAt   time.Time
}

// WithdrawalDecisionParams carries the admin resolution of a withdrawal request.
type WithdrawalDecisionParams struct {
	RequestID uuid.UUID
	AdminID   uuid.UUID
	Notes     *string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Directory lookups. Documents and users are owned by the upstream marketplace
	// services; this service only reads them.
	FindDocumentByID(ctx context.Context, documentID uuid.UUID) (*domain.Document, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	// Payment methods
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	// MarkPaymentFailed transitions a payment to FAILED unless it is already in a
	// terminal state, in which case it is a no-op.
	MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, orderCode *int64) error
	// CompletePaymentAtomic performs the whole completion group in one transaction:
	// payment PENDING->COMPLETED, enrollment creation, commission creation, and both
	// wallet upserts. Returns ErrPaymentNotPending when the conditional status update
	// matches no row (duplicate delivery or concurrent completion).
	CompletePaymentAtomic(ctx context.Context, params CompletePaymentParams) (*domain.Commission, error)
	GetPaymentStats(ctx context.Context) (*domain.PaymentStats, error)

	// Enrollment methods
	HasEnrollment(ctx context.Context, userID, documentID uuid.UUID) (bool, error)
	// CreateEnrollment inserts an enrollment outside the payment flow (free
	// documents). Returns ErrAlreadyEnrolled on the uniqueness conflict.
	CreateEnrollment(ctx context.Context, userID, documentID uuid.UUID) (*domain.Enrollment, error)
	ListPurchasesByUser(ctx context.Context, userID uuid.UUID, opts domain.ListOptions) ([]domain.Purchase, error)

	// Commission methods
	FindCommissionByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Commission, error)
	// ListReleasableCommissions returns PENDING commissions whose release time has
	// elapsed and for which no PENDING refund exists.
	ListReleasableCommissions(ctx context.Context, now time.Time, limit int) ([]domain.Commission, error)
	// ReleaseCommissionAtomic moves one commission's funds from the pending pools to
	// the available pools. The release is skipped (false, nil) when the commission is
	// no longer PENDING or a PENDING refund appeared since the sweep query ran.
	ReleaseCommissionAtomic(ctx context.Context, commissionID uuid.UUID) (bool, error)

	// Refund methods
	CreateRefund(ctx context.Context, refund *domain.Refund) error
	FindRefundByID(ctx context.Context, refundID uuid.UUID) (*domain.Refund, error)
	FindRefundByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Refund, error)
	// RejectRefundAtomic resolves a PENDING refund without financial effect. Returns
	// ErrAlreadyProcessed when the request is no longer PENDING.
	RejectRefundAtomic(ctx context.Context, params RefundDecisionParams) (*domain.Refund, error)
	// ApproveRefundAtomic runs the reversal routine in one transaction: the commission
	// is moved to REFUNDED from whichever state it is in, the matching wallet pools are
	// clawed back with guarded decrements, the enrollment is deleted, and the payment
	// becomes REFUNDED. Returns ErrAlreadyProcessed when the refund is no longer
	// PENDING and ErrWalletReconciliation when a decrement would drive a balance
	// negative (the ledger is already inconsistent; nothing is committed).
	ApproveRefundAtomic(ctx context.Context, params RefundDecisionParams) (*domain.Refund, error)
	ListRefunds(ctx context.Context, opts domain.ListOptions) ([]domain.Refund, error)
	ListRefundsByCustomer(ctx context.Context, customerID uuid.UUID, opts domain.ListOptions) ([]domain.Refund, error)
	ListRefundsBySeller(ctx context.Context, sellerID uuid.UUID, opts domain.ListOptions) ([]domain.Refund, error)
	// GetRefundStats aggregates refund counts and amounts, optionally scoped to one seller.
	GetRefundStats(ctx context.Context, sellerID *uuid.UUID) (*domain.RefundStats, error)

	// Wallet methods
	GetOrCreateSellerWallet(ctx context.Context, sellerID uuid.UUID) (*domain.SellerWallet, error)
	GetOrCreatePlatformWallet(ctx context.Context) (*domain.PlatformWallet, error)

	// Withdrawal methods
	// CreateWithdrawalAtomic debits the seller's available balance (optimistic hold)
	// and inserts the request in one transaction. Returns ErrInsufficientFunds when
	// the guarded debit matches no row.
	CreateWithdrawalAtomic(ctx context.Context, request *domain.WithdrawalRequest) error
	FindWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error)
	// CompleteWithdrawalAtomic resolves a PENDING request as COMPLETED and counts the
	// amount into totalWithdrawn. The hold taken at request time is kept.
	CompleteWithdrawalAtomic(ctx context.Context, params WithdrawalDecisionParams) (*domain.WithdrawalRequest, error)
	// RejectWithdrawalAtomic resolves a PENDING request as REJECTED and credits the
	// hold back to the seller's available balance.
	RejectWithdrawalAtomic(ctx context.Context, params WithdrawalDecisionParams) (*domain.WithdrawalRequest, error)
	ListWithdrawalsBySeller(ctx context.Context, sellerID uuid.UUID, opts domain.ListOptions) ([]domain.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, opts domain.ListOptions) ([]domain.WithdrawalRequest, error)
}
