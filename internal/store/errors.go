package store

import "errors"

// Sentinel errors returned by the repository. Handlers map these to HTTP statuses
// with errors.Is; the app layer wraps them with context.
var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrCommissionNotFound = errors.New("commission not found")
	ErrRefundNotFound     = errors.New("refund request not found")
	ErrWithdrawalNotFound = errors.New("withdrawal request not found")
	ErrWalletNotFound     = errors.New("wallet not found")

	// ErrPaymentNotPending is returned when the completion CAS matches no row,
	// which happens on duplicate webhook delivery or a concurrent completion.
	ErrPaymentNotPending = errors.New("payment is not pending")

	// ErrAlreadyEnrolled is returned when an enrollment insert hits the
	// (user_id, document_id) uniqueness constraint.
	ErrAlreadyEnrolled = errors.New("user is already enrolled in document")

	// ErrAlreadyProcessed is returned when a refund or withdrawal decision targets
	// a request that is no longer PENDING.
	ErrAlreadyProcessed = errors.New("request has already been processed")

	// ErrRefundExists is returned when a refund insert hits the payment_id
	// uniqueness constraint. One refund request per payment, ever.
	ErrRefundExists = errors.New("refund request already exists for payment")

	// ErrInsufficientFunds is returned when a guarded balance debit matches no row.
	ErrInsufficientFunds = errors.New("insufficient available balance")

	// ErrWalletReconciliation is returned when a refund reversal would drive a
	// wallet balance negative. The ledger is inconsistent and the transaction is
	// rolled back; this requires operator attention, never silent clamping.
	ErrWalletReconciliation = errors.New("wallet balance inconsistent with commission ledger")
)
