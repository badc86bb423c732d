/**
 * @description
 * Withdrawal request lifecycle. The requested amount leaves the seller's available
 * balance the moment the request is created (an optimistic hold), so a seller can
 * never have more requested than they own. Rejection returns the hold; completion
 * keeps it and counts the payout.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/docmarket/settlement-service/internal/domain"
	"github.com/docmarket/settlement-service/internal/store"
	"github.com/docmarket/settlement-service/pkg/rabbitmq"
)

// RequestWithdrawal places a hold on the seller's available balance and records a
// PENDING withdrawal request.
func (s *Service) RequestWithdrawal(ctx context.Context, sellerID uuid.UUID, payload domain.CreateWithdrawalPayload) (*domain.WithdrawalRequest, error) {
	if payload.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !payload.BankDetails.Complete() {
		return nil, ErrBankDetailsIncomplete
	}

	// First-time sellers get their wallet row here so the guarded debit has a row
	// to miss instead of a missing-row error.
	if _, err := s.repo.GetOrCreateSellerWallet(ctx, sellerID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	request := &domain.WithdrawalRequest{
		ID:          uuid.New(),
		SellerID:    sellerID,
		Amount:      payload.Amount,
		BankDetails: payload.BankDetails,
		Status:      domain.WithdrawalStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateWithdrawalAtomic(ctx, request); err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=request_withdrawal request_id=%s seller_id=%s amount=%d", request.ID, sellerID, request.Amount)
	s.publishWithdrawalEvent(ctx, rabbitmq.RoutingKeyWithdrawalRequested, request)
	return request, nil
}

// ProcessWithdrawal applies an admin decision to a PENDING withdrawal request.
func (s *Service) ProcessWithdrawal(ctx context.Context, adminID, requestID uuid.UUID, payload domain.ProcessWithdrawalPayload) (*domain.WithdrawalRequest, error) {
	params := store.WithdrawalDecisionParams{
		RequestID: requestID,
		AdminID:   adminID,
		Notes:     payload.Notes,
	}

	var (
		request *domain.WithdrawalRequest
		err     error
	)
	switch payload.Status {
	case domain.WithdrawalStatusApproved, domain.WithdrawalStatusCompleted:
		request, err = s.repo.CompleteWithdrawalAtomic(ctx, params)
	case domain.WithdrawalStatusRejected:
		request, err = s.repo.RejectWithdrawalAtomic(ctx, params)
	default:
		return nil, ErrInvalidDecision
	}
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=process_withdrawal request_id=%s admin_id=%s decision=%s amount=%d", requestID, adminID, request.Status, request.Amount)
	s.publishWithdrawalEvent(ctx, rabbitmq.RoutingKeyWithdrawalProcessed, request)
	return request, nil
}

func (s *Service) publishWithdrawalEvent(ctx context.Context, routingKey string, request *domain.WithdrawalRequest) {
	event := domain.WithdrawalEvent{
		RequestID: request.ID,
		SellerID:  request.SellerID,
		Amount:    request.Amount,
		Status:    request.Status,
		Timestamp: time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.settings.EventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s request_id=%s err=%v", routingKey, request.ID, err)
	}
}

// ListMyWithdrawalRequests returns the seller's withdrawal requests.
func (s *Service) ListMyWithdrawalRequests(ctx context.Context, sellerID uuid.UUID, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	return s.repo.ListWithdrawalsBySeller(ctx, sellerID, normalizeListOptions(opts))
}

// ListAllWithdrawalRequests returns every withdrawal request for the admin view.
func (s *Service) ListAllWithdrawalRequests(ctx context.Context, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	return s.repo.ListWithdrawals(ctx, normalizeListOptions(opts))
}
