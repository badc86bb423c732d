package app

import "errors"

// Validation and policy errors surfaced to the API layer. Handlers map these to
// HTTP statuses with errors.Is.
var (
	ErrDocumentNotApproved    = errors.New("document is not available for purchase")
	ErrOwnDocument            = errors.New("cannot purchase your own document")
	ErrAlreadyPurchased       = errors.New("document already purchased")
	ErrFreeDocument           = errors.New("document is free; no payment required")
	ErrNotFreeDocument        = errors.New("document is not free")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrNotPaymentOwner        = errors.New("payment belongs to another user")
	ErrPaymentNotCompleted    = errors.New("payment is not in a refundable state")
	ErrRefundWindowClosed     = errors.New("refund window has closed")
	ErrRefundAlreadyRequested = errors.New("a refund request already exists for this payment")
	ErrReasonTooShort         = errors.New("refund reason must be at least 10 characters")
	ErrResponseTooShort       = errors.New("admin response must be at least 10 characters")
	ErrBankDetailsIncomplete  = errors.New("bank details are incomplete")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidDecision        = errors.New("decision must be APPROVED or REJECTED")
	ErrRateLimited            = errors.New("too many refund requests; try again later")
)
