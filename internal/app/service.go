/**
 * @description
 * This file contains the core business logic for the settlement-service. The `Service`
 * struct orchestrates the purchase and settlement lifecycle, coordinating between the
 * database repository, the PayOS gateway client, and the message broker.
 *
 * Key features:
 * - Implements purchase initiation: validation, payment record, hosted checkout link.
 * - Handles the gateway webhook idempotently; the atomic completion lives in the store.
 * - Publishes settlement events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/payos, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/docmarket/settlement-service/internal/domain"
	"github.com/docmarket/settlement-service/internal/store"
	"github.com/docmarket/settlement-service/pkg/payos"
	"github.com/docmarket/settlement-service/pkg/rabbitmq"
)

// Defaults applied when list endpoints receive no explicit paging.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PaymentGateway creates hosted checkout links and answers status queries for
// existing ones. Satisfied by *payos.Client.
type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, payload payos.CreateLinkRequest) (*payos.CreateLinkResponse, error)
	GetPaymentLinkInfo(ctx context.Context, orderCode int64) (*payos.LinkInfoResponse, error)
}

// RateLimiter bounds how often a subject may perform an action within a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Settings carries the tunable settlement policy values.
type Settings struct {
	EventExchange             string
	CommissionRate            float64
	CommissionHold            time.Duration
	RefundWindow              time.Duration
	GatewayReturnURL          string
	RefundRequestLimitPerHour int
}

// Service provides the core business logic for settlement.
type Service struct {
	repo          store.Repository
	gateway       PaymentGateway
	eventProducer rabbitmq.Publisher
	rateLimiter   RateLimiter
	settings      Settings
}

// NewService creates a new settlement service instance.
func NewService(repo store.Repository, gateway PaymentGateway, producer rabbitmq.Publisher, limiter RateLimiter, settings Settings) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
		rateLimiter:   limiter,
		settings:      settings,
	}
}

// generateOrderCode produces a numeric gateway order code. Millisecond timestamp
// plus a random suffix keeps codes unique enough for correlation; the durable
// correlation key is the payment id embedded in the return URLs.
func generateOrderCode() int64 {
	return time.Now().UnixMilli()*1000 + int64(rand.Intn(1000))
}

// FinalPrice applies the document's discount to its list price, rounding to the
// nearest smallest currency unit.
func FinalPrice(price int64, discountPercent float64) int64 {
	return int64(math.Round(float64(price) * (1 - discountPercent/100)))
}

// SplitAmount divides a payment between the platform and the seller. The platform
// share is floored so the seller receives the remainder and the two shares always
// sum to the full amount.
func SplitAmount(amount int64, rate float64) (sellerAmount, platformAmount int64) {
	platformAmount = int64(math.Floor(float64(amount) * rate))
	sellerAmount = amount - platformAmount
	return sellerAmount, platformAmount
}

// InitiatePurchase validates a purchase, records a PENDING payment, and returns a
// hosted checkout link. A gateway failure marks the payment FAILED so the buyer can
// simply retry with a fresh payment.
func (s *Service) InitiatePurchase(ctx context.Context, buyerID, documentID uuid.UUID) (*domain.PurchaseInitiation, error) {
	doc, err := s.repo.FindDocumentByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc.Status != domain.DocumentStatusApproved {
		return nil, ErrDocumentNotApproved
	}
	if doc.AuthorID == buyerID {
		return nil, ErrOwnDocument
	}

	enrolled, err := s.repo.HasEnrollment(ctx, buyerID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}
	if enrolled {
		return nil, ErrAlreadyPurchased
	}

	amount := FinalPrice(doc.Price, doc.DiscountPercent)
	if amount <= 0 {
		return nil, ErrFreeDocument
	}

	buyer, err := s.repo.FindUserByID(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer: %w", err)
	}

	now := time.Now().UTC()
	orderCode := generateOrderCode()
	payment := &domain.Payment{
		ID:               uuid.New(),
		BuyerID:          buyerID,
		DocumentID:       documentID,
		SellerID:         doc.AuthorID,
		Amount:           amount,
		Status:           domain.PaymentStatusPending,
		GatewayOrderCode: &orderCode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	linkReq := payos.CreateLinkRequest{
		OrderCode:   orderCode,
		Amount:      amount,
		Description: truncateDescription(doc.Title),
		BuyerName:   buyer.Name,
		BuyerEmail:  buyer.Email,
		BuyerPhone:  buyer.Phone,
		ReturnURL:   fmt.Sprintf("%s?paymentId=%s", s.settings.GatewayReturnURL, payment.ID),
		CancelURL:   fmt.Sprintf("%s?paymentId=%s&cancelled=true", s.settings.GatewayReturnURL, payment.ID),
	}
	linkResp, err := s.gateway.CreatePaymentLink(ctx, linkReq)
	if err != nil {
		log.Printf("level=error component=service op=initiate_purchase payment_id=%s msg=\"gateway link creation failed\" err=%v", payment.ID, err)
		if failErr := s.repo.MarkPaymentFailed(ctx, payment.ID, &orderCode); failErr != nil {
			log.Printf("level=error component=service op=initiate_purchase payment_id=%s msg=\"failed to mark payment failed\" err=%v", payment.ID, failErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	log.Printf("level=info component=service op=initiate_purchase payment_id=%s buyer_id=%s document_id=%s amount=%d", payment.ID, buyerID, documentID, amount)
	return &domain.PurchaseInitiation{
		PaymentID:   payment.ID,
		Amount:      amount,
		PaymentLink: linkResp.Data.CheckoutURL,
	}, nil
}

// PayOS caps description length; keep the head of the title.
func truncateDescription(title string) string {
	const maxLen = 25
	if len(title) <= maxLen {
		return title
	}
	return title[:maxLen]
}

// HandleGatewayCallback processes a webhook delivery from the gateway. Delivery is
// at-least-once with arbitrary delay, so every branch here must be safe to repeat:
// unknown payments, already-terminal payments, and redelivered successes all return
// nil so the gateway stops retrying.
func (s *Service) HandleGatewayCallback(ctx context.Context, cb domain.GatewayCallback) error {
	paymentID, err := uuid.Parse(cb.PaymentID)
	if err != nil {
		log.Printf("level=warn component=service op=gateway_callback msg=\"unparsable payment reference; acknowledging\" ref=%q", cb.PaymentID)
		return nil
	}

	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("level=warn component=service op=gateway_callback payment_id=%s msg=\"unknown payment reference; acknowledging\"", paymentID)
			return nil
		}
		return fmt.Errorf("failed to load payment: %w", err)
	}

	if !cb.Succeeded() {
		if payment.Status == domain.PaymentStatusPending {
			if err := s.repo.MarkPaymentFailed(ctx, paymentID, &cb.OrderCode); err != nil {
				return fmt.Errorf("failed to mark payment failed: %w", err)
			}
			log.Printf("level=info component=service op=gateway_callback payment_id=%s outcome=failed code=%s", paymentID, cb.Code)
			s.publishPaymentEvent(ctx, rabbitmq.RoutingKeyPaymentFailed, payment, domain.PaymentStatusFailed)
		}
		return nil
	}

	if payment.Status != domain.PaymentStatusPending {
		log.Printf("level=info component=service op=gateway_callback payment_id=%s status=%s msg=\"payment already settled; acknowledging\"", paymentID, payment.Status)
		return nil
	}

	sellerAmount, platformAmount := SplitAmount(payment.Amount, s.settings.CommissionRate)
	_, err = s.repo.CompletePaymentAtomic(ctx, store.CompletePaymentParams{
		PaymentID:      paymentID,
		OrderCode:      cb.OrderCode,
		FeeRate:        s.settings.CommissionRate,
		SellerAmount:   sellerAmount,
		PlatformAmount: platformAmount,
		ReleaseAt:      time.Now().UTC().Add(s.settings.CommissionHold),
	})
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotPending) {
			// Lost the race against a concurrent delivery of the same callback.
			log.Printf("level=info component=service op=gateway_callback payment_id=%s msg=\"completion already claimed; acknowledging\"", paymentID)
			return nil
		}
		return fmt.Errorf("failed to complete payment: %w", err)
	}

	log.Printf("level=info component=service op=gateway_callback payment_id=%s outcome=completed seller_amount=%d platform_amount=%d", paymentID, sellerAmount, platformAmount)
	s.publishPaymentEvent(ctx, rabbitmq.RoutingKeyPaymentCompleted, payment, domain.PaymentStatusCompleted)
	return nil
}

// ReconcilePayment queries the gateway directly for a payment stuck in PENDING,
// covering the case where a webhook delivery never arrived. Payments in any other
// state are returned untouched.
func (s *Service) ReconcilePayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusPending {
		return payment, nil
	}
	if payment.GatewayOrderCode == nil {
		return nil, fmt.Errorf("payment %s has no gateway order code to reconcile", paymentID)
	}

	info, err := s.gateway.GetPaymentLinkInfo(ctx, *payment.GatewayOrderCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	switch info.Data.Status {
	case "PAID":
		sellerAmount, platformAmount := SplitAmount(payment.Amount, s.settings.CommissionRate)
		_, err := s.repo.CompletePaymentAtomic(ctx, store.CompletePaymentParams{
			PaymentID:      paymentID,
			OrderCode:      *payment.GatewayOrderCode,
			FeeRate:        s.settings.CommissionRate,
			SellerAmount:   sellerAmount,
			PlatformAmount: platformAmount,
			ReleaseAt:      time.Now().UTC().Add(s.settings.CommissionHold),
		})
		if err != nil && !errors.Is(err, store.ErrPaymentNotPending) {
			return nil, fmt.Errorf("failed to complete payment: %w", err)
		}
		if err == nil {
			log.Printf("level=info component=service op=reconcile_payment payment_id=%s outcome=completed msg=\"recovered missed webhook\"", paymentID)
			s.publishPaymentEvent(ctx, rabbitmq.RoutingKeyPaymentCompleted, payment, domain.PaymentStatusCompleted)
		}
	case "CANCELLED", "EXPIRED":
		if err := s.repo.MarkPaymentFailed(ctx, paymentID, payment.GatewayOrderCode); err != nil {
			return nil, fmt.Errorf("failed to mark payment failed: %w", err)
		}
		log.Printf("level=info component=service op=reconcile_payment payment_id=%s outcome=failed gateway_status=%s", paymentID, info.Data.Status)
		s.publishPaymentEvent(ctx, rabbitmq.RoutingKeyPaymentFailed, payment, domain.PaymentStatusFailed)
	default:
		log.Printf("level=info component=service op=reconcile_payment payment_id=%s gateway_status=%s msg=\"payment still open at gateway\"", paymentID, info.Data.Status)
	}

	return s.repo.FindPaymentByID(ctx, paymentID)
}

func (s *Service) publishPaymentEvent(ctx context.Context, routingKey string, payment *domain.Payment, status string) {
	event := domain.PaymentEvent{
		PaymentID:  payment.ID,
		BuyerID:    payment.BuyerID,
		SellerID:   payment.SellerID,
		DocumentID: payment.DocumentID,
		Amount:     payment.Amount,
		Status:     status,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.settings.EventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"event publish failed\" routing_key=%s payment_id=%s err=%v", routingKey, payment.ID, err)
	}
}

// EnrollFreeDocument grants access to a zero-priced document without a payment.
func (s *Service) EnrollFreeDocument(ctx context.Context, userID, documentID uuid.UUID) (*domain.Enrollment, error) {
	doc, err := s.repo.FindDocumentByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc.Status != domain.DocumentStatusApproved {
		return nil, ErrDocumentNotApproved
	}
	if FinalPrice(doc.Price, doc.DiscountPercent) > 0 {
		return nil, ErrNotFreeDocument
	}

	enrollment, err := s.repo.CreateEnrollment(ctx, userID, documentID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyEnrolled) {
			return nil, ErrAlreadyPurchased
		}
		return nil, fmt.Errorf("failed to enroll: %w", err)
	}
	log.Printf("level=info component=service op=enroll_free user_id=%s document_id=%s", userID, documentID)
	return enrollment, nil
}

// GetPayment returns a payment. Non-admin callers may only read their own.
func (s *Service) GetPayment(ctx context.Context, actorID uuid.UUID, role string, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleAdmin && payment.BuyerID != actorID {
		return nil, ErrNotPaymentOwner
	}
	return payment, nil
}

// ListMyPurchases returns the caller's purchase history.
func (s *Service) ListMyPurchases(ctx context.Context, userID uuid.UUID, opts domain.ListOptions) ([]domain.Purchase, error) {
	return s.repo.ListPurchasesByUser(ctx, userID, normalizeListOptions(opts))
}

// GetSellerWallet returns the seller's wallet, creating it on first access.
func (s *Service) GetSellerWallet(ctx context.Context, sellerID uuid.UUID) (*domain.SellerWallet, error) {
	return s.repo.GetOrCreateSellerWallet(ctx, sellerID)
}

// GetPlatformWallet returns the singleton platform wallet.
func (s *Service) GetPlatformWallet(ctx context.Context) (*domain.PlatformWallet, error) {
	return s.repo.GetOrCreatePlatformWallet(ctx)
}

// GetPaymentStats returns aggregate totals for the admin dashboard.
func (s *Service) GetPaymentStats(ctx context.Context) (*domain.PaymentStats, error) {
	return s.repo.GetPaymentStats(ctx)
}

func normalizeListOptions(opts domain.ListOptions) domain.ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}
	if opts.Limit > MaxPageSize {
		opts.Limit = MaxPageSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
