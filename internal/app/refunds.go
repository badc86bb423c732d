/**
 * @description
 * Refund request lifecycle: eligibility evaluation, request creation, and the
 * admin decision. Creating a request never moves money; the reversal happens in
 * one store transaction when an admin approves.
 *
 * Eligibility is evaluated fresh on every call. A rejected request still closes
 * eligibility for its payment permanently, which keeps the dispute history
 * one-to-one with payments.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docmarket/settlement-service/internal/domain"
	"github.com/docmarket/settlement-service/internal/store"
	"github.com/docmarket/settlement-service/pkg/rabbitmq"
)

const minReasonLength = 10

// rateLimitScopeRefund is the limiter scope for refund request creation.
const rateLimitScopeRefund = "refund_request"

// CanRefund evaluates whether the customer may open a refund request against the
// payment right now.
func (s *Service) CanRefund(ctx context.Context, customerID, paymentID uuid.UUID) (*domain.RefundEligibility, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.BuyerID != customerID {
		return nil, ErrNotPaymentOwner
	}
	eligibility := s.evaluateEligibility(ctx, payment)
	return &eligibility, nil
}

func (s *Service) evaluateEligibility(ctx context.Context, payment *domain.Payment) domain.RefundEligibility {
	if payment.Status != domain.PaymentStatusCompleted {
		return domain.RefundEligibility{Reason: "payment is not completed"}
	}
	if time.Since(payment.CreatedAt) > s.settings.RefundWindow {
		return domain.RefundEligibility{Reason: "refund window has closed"}
	}
	if _, err := s.repo.FindRefundByPaymentID(ctx, payment.ID); err == nil {
		return domain.RefundEligibility{Reason: "a refund request already exists for this payment"}
	} else if !errors.Is(err, store.ErrRefundNotFound) {
		log.Printf("level=error component=service op=can_refund payment_id=%s msg=\"refund lookup failed\" err=%v", payment.ID, err)
		return domain.RefundEligibility{Reason: "eligibility could not be determined"}
	}
	return domain.RefundEligibility{CanRefund: true}
}

// CreateRefundRequest opens a PENDING refund request for the customer's payment.
func (s *Service) CreateRefundRequest(ctx context.Context, customerID uuid.UUID, payload domain.CreateRefundPayload) (*domain.Refund, error) {
	if err := s.consumeRefundRateLimit(ctx, customerID); err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(payload.Reason)) < minReasonLength {
		return nil, ErrReasonTooShort
	}
	if !payload.BankDetails.Complete() {
		return nil, ErrBankDetailsIncomplete
	}

	payment, err := s.repo.FindPaymentByID(ctx, payload.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.BuyerID != customerID {
		return nil, ErrNotPaymentOwner
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, ErrPaymentNotCompleted
	}
	if time.Since(payment.CreatedAt) > s.settings.RefundWindow {
		return nil, ErrRefundWindowClosed
	}
	if _, err := s.repo.FindRefundByPaymentID(ctx, payment.ID); err == nil {
		return nil, ErrRefundAlreadyRequested
	} else if !errors.Is(err, store.ErrRefundNotFound) {
		return nil, fmt.Errorf("failed to check existing refund: %w", err)
	}

	refund := &domain.Refund{
		ID:          uuid.New(),
		PaymentID:   payment.ID,
		CustomerID:  customerID,
		SellerID:    payment.SellerID,
		DocumentID:  payment.DocumentID,
		Amount:      payment.Amount,
		Reason:      strings.TrimSpace(payload.Reason),
		BankDetails: payload.BankDetails,
		Status:      domain.RefundStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateRefund(ctx, refund); err != nil {
		if errors.Is(err, store.ErrRefundExists) {
			// Concurrent request for the same payment got there first.
			return nil, ErrRefundAlreadyRequested
		}
		return nil, fmt.Errorf("failed to create refund request: %w", err)
	}

	log.Printf("level=info component=service op=create_refund refund_id=%s payment_id=%s customer_id=%s amount=%d", refund.ID, payment.ID, customerID, refund.Amount)
	return refund, nil
}

// consumeRefundRateLimit applies the per-customer hourly cap. Limiter outages
// fail open: the one-refund-per-payment rule is the real guard.
func (s *Service) consumeRefundRateLimit(ctx context.Context, customerID uuid.UUID) error {
	if s.rateLimiter == nil {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, rateLimitScopeRefund, customerID.String(), s.settings.RefundRequestLimitPerHour, time.Hour)
	if err != nil {
		log.Printf("level=warn component=service op=create_refund msg=\"rate limiter unavailable; allowing request\" customer_id=%s err=%v", customerID, err)
		return nil
	}
	if s.settings.RefundRequestLimitPerHour > 0 && count > s.settings.RefundRequestLimitPerHour {
		log.Printf("level=warn component=service op=create_refund msg=\"rate limited\" customer_id=%s count=%d retry_after=%d", customerID, count, retryAfter)
		return ErrRateLimited
	}
	return nil
}

// ProcessRefundRequest applies an admin decision to a PENDING refund request.
// Approval triggers the full financial reversal in the store.
func (s *Service) ProcessRefundRequest(ctx context.Context, adminID, refundID uuid.UUID, payload domain.ProcessRefundPayload) (*domain.Refund, error) {
	if len(strings.TrimSpace(payload.AdminResponse)) < minReasonLength {
		return nil, ErrResponseTooShort
	}

	params := store.RefundDecisionParams{
		RefundID:      refundID,
		AdminID:       adminID,
		AdminResponse: strings.TrimSpace(payload.AdminResponse),
		ProcessedAt:   time.Now().UTC(),
	}

	var (
		refund     *domain.Refund
		err        error
		routingKey string
	)
	switch payload.Status {
	case domain.RefundStatusApproved:
		refund, err = s.repo.ApproveRefundAtomic(ctx, params)
		routingKey = rabbitmq.RoutingKeyRefundApproved
	case domain.RefundStatusRejected:
		refund, err = s.repo.RejectRefundAtomic(ctx, params)
		routingKey = rabbitmq.RoutingKeyRefundRejected
	default:
		return nil, ErrInvalidDecision
	}
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=process_refund refund_id=%s admin_id=%s decision=%s amount=%d", refundID, adminID, refund.Status, refund.Amount)
	event := domain.RefundDecisionEvent{
		RefundID:   refund.ID,
		PaymentID:  refund.PaymentID,
		CustomerID: refund.CustomerID,
		SellerID:   refund.SellerID,
		Amount:     refund.Amount,
		Status:     refund.Status,
		Timestamp:  time.Now().UTC(),
	}
	if pubErr := s.eventProducer.Publish(ctx, s.settings.EventExchange, routingKey, event); pubErr != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s refund_id=%s err=%v", routingKey, refund.ID, pubErr)
	}
	return refund, nil
}

// GetRefundRequest returns one refund request. Customers see their own, sellers
// those against them, admins everything.
func (s *Service) GetRefundRequest(ctx context.Context, actorID uuid.UUID, role string, refundID uuid.UUID) (*domain.Refund, error) {
	refund, err := s.repo.FindRefundByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	switch role {
	case domain.RoleAdmin:
	case domain.RoleSeller:
		if refund.SellerID != actorID && refund.CustomerID != actorID {
			return nil, ErrNotPaymentOwner
		}
	default:
		if refund.CustomerID != actorID {
			return nil, ErrNotPaymentOwner
		}
	}
	return refund, nil
}

// ListMyRefundRequests returns the caller's own refund requests.
func (s *Service) ListMyRefundRequests(ctx context.Context, customerID uuid.UUID, opts domain.ListOptions) ([]domain.Refund, error) {
	return s.repo.ListRefundsByCustomer(ctx, customerID, normalizeListOptions(opts))
}

// ListSellerRefundRequests returns the refund requests raised against the seller.
func (s *Service) ListSellerRefundRequests(ctx context.Context, sellerID uuid.UUID, opts domain.ListOptions) ([]domain.Refund, error) {
	return s.repo.ListRefundsBySeller(ctx, sellerID, normalizeListOptions(opts))
}

// ListAllRefundRequests returns every refund request for the admin view.
func (s *Service) ListAllRefundRequests(ctx context.Context, opts domain.ListOptions) ([]domain.Refund, error) {
	return s.repo.ListRefunds(ctx, normalizeListOptions(opts))
}

// GetRefundStats aggregates refund activity, optionally for one seller.
func (s *Service) GetRefundStats(ctx context.Context, sellerID *uuid.UUID) (*domain.RefundStats, error) {
	return s.repo.GetRefundStats(ctx, sellerID)
}
