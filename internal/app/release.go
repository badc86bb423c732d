/**
 * @description
 * Commission release sweep. Each due PENDING commission is released independently;
 * a failure on one never blocks the rest. Commissions contested by a PENDING
 * refund are skipped and picked up again once the dispute is resolved in the
 * seller's favor.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/docmarket/settlement-service/internal/domain"
	"github.com/docmarket/settlement-service/pkg/rabbitmq"
)

// releaseBatchSize bounds one sweep so a backlog never turns into one giant pass.
const releaseBatchSize = 100

// ReleaseDueCommissions releases every eligible commission whose hold has elapsed.
// It returns how many were released.
func (s *Service) ReleaseDueCommissions(ctx context.Context) (int, error) {
	commissions, err := s.repo.ListReleasableCommissions(ctx, time.Now().UTC(), releaseBatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, commission := range commissions {
		ok, err := s.repo.ReleaseCommissionAtomic(ctx, commission.ID)
		if err != nil {
			log.Printf("level=error component=service op=release_sweep commission_id=%s msg=\"release failed; continuing\" err=%v", commission.ID, err)
			continue
		}
		if !ok {
			// Contested or already transitioned since the sweep query ran.
			continue
		}
		released++

		event := domain.CommissionReleasedEvent{
			CommissionID:   commission.ID,
			PaymentID:      commission.PaymentID,
			SellerID:       commission.SellerID,
			SellerAmount:   commission.SellerAmount,
			PlatformAmount: commission.PlatformAmount,
			Timestamp:      time.Now().UTC(),
		}
		if pubErr := s.eventProducer.Publish(ctx, s.settings.EventExchange, rabbitmq.RoutingKeyCommissionReleased, event); pubErr != nil {
			log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s commission_id=%s err=%v", rabbitmq.RoutingKeyCommissionReleased, commission.ID, pubErr)
		}
	}

	if len(commissions) > 0 {
		log.Printf("level=info component=service op=release_sweep due=%d released=%d", len(commissions), released)
	}
	return released, nil
}
