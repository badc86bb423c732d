package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/docmarket/settlement-service/internal/domain"
	"github.com/docmarket/settlement-service/internal/store"
	"github.com/docmarket/settlement-service/pkg/payos"
)

// fakeRepo is an in-memory Repository with the same conditional-update and
// guarded-decrement semantics as the Postgres implementation. Guard checks run
// before any mutation so a failed operation leaves the state untouched, matching
// a rolled-back transaction.
type fakeRepo struct {
	documents     map[uuid.UUID]*domain.Document
	users         map[uuid.UUID]*domain.User
	payments      map[uuid.UUID]*domain.Payment
	enrollments   map[string]*domain.Enrollment
	commissions   map[uuid.UUID]*domain.Commission
	refunds       map[uuid.UUID]*domain.Refund
	withdrawals   map[uuid.UUID]*domain.WithdrawalRequest
	sellerWallets map[uuid.UUID]*domain.SellerWallet
	platform      *domain.PlatformWallet
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		documents:     make(map[uuid.UUID]*domain.Document),
		users:         make(map[uuid.UUID]*domain.User),
		payments:      make(map[uuid.UUID]*domain.Payment),
		enrollments:   make(map[string]*domain.Enrollment),
		commissions:   make(map[uuid.UUID]*domain.Commission),
		refunds:       make(map[uuid.UUID]*domain.Refund),
		withdrawals:   make(map[uuid.UUID]*domain.WithdrawalRequest),
		sellerWallets: make(map[uuid.UUID]*domain.SellerWallet),
		platform:      &domain.PlatformWallet{},
	}
}

func enrollKey(userID, documentID uuid.UUID) string {
	return userID.String() + "/" + documentID.String()
}

func (f *fakeRepo) FindDocumentByID(ctx context.Context, documentID uuid.UUID) (*domain.Document, error) {
	doc, ok := f.documents[documentID]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeRepo) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (f *fakeRepo) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	copied := *payment
	f.payments[payment.ID] = &copied
	return nil
}

func (f *fakeRepo) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, ok := f.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	copied := *payment
	return &copied, nil
}

func (f *fakeRepo) MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, orderCode *int64) error {
	payment, ok := f.payments[paymentID]
	if !ok || payment.Status != domain.PaymentStatusPending {
		return nil
	}
	payment.Status = domain.PaymentStatusFailed
	if orderCode != nil {
		payment.GatewayOrderCode = orderCode
	}
	payment.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeRepo) CompletePaymentAtomic(ctx context.Context, params store.CompletePaymentParams) (*domain.Commission, error) {
	payment, ok := f.payments[params.PaymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, store.ErrPaymentNotPending
	}

	now := time.Now().UTC()
	payment.Status = domain.PaymentStatusCompleted
	payment.GatewayOrderCode = &params.OrderCode
	payment.UpdatedAt = now

	key := enrollKey(payment.BuyerID, payment.DocumentID)
	if _, exists := f.enrollments[key]; !exists {
		f.enrollments[key] = &domain.Enrollment{
			ID:         uuid.New(),
			UserID:     payment.BuyerID,
			DocumentID: payment.DocumentID,
			CreatedAt:  now,
		}
	}

	commission := &domain.Commission{
		ID:              uuid.New(),
		PaymentID:       payment.ID,
		SellerID:        payment.SellerID,
		PlatformFeeRate: params.FeeRate,
		SellerAmount:    params.SellerAmount,
		PlatformAmount:  params.PlatformAmount,
		Status:          domain.CommissionStatusPending,
		ReleaseAt:       params.ReleaseAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	f.commissions[commission.ID] = commission

	wallet := f.ensureSellerWallet(payment.SellerID)
	wallet.PendingBalance += params.SellerAmount
	wallet.TotalEarned += params.SellerAmount

	f.platform.PendingBalance += params.PlatformAmount
	f.platform.TotalBalance += params.PlatformAmount
	f.platform.TotalCommissionEarned += params.PlatformAmount

	copied := *commission
	return &copied, nil
}

func (f *fakeRepo) GetPaymentStats(ctx context.Context) (*domain.PaymentStats, error) {
	stats := &domain.PaymentStats{}
	for _, p := range f.payments {
		stats.TotalPayments++
		if p.Status == domain.PaymentStatusCompleted {
			stats.CompletedPayments++
			stats.TotalRevenue += p.Amount
		}
	}
	for _, c := range f.commissions {
		stats.TotalCommissions++
		if c.Status == domain.CommissionStatusPending || c.Status == domain.CommissionStatusReleased {
			stats.PlatformRevenue += c.PlatformAmount
		}
	}
	for _, w := range f.withdrawals {
		if w.Status == domain.WithdrawalStatusPending {
			stats.PendingWithdrawals += w.Amount
		}
	}
	return stats, nil
}

func (f *fakeRepo) HasEnrollment(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	_, ok := f.enrollments[enrollKey(userID, documentID)]
	return ok, nil
}

func (f *fakeRepo) CreateEnrollment(ctx context.Context, userID, documentID uuid.UUID) (*domain.Enrollment, error) {
	key := enrollKey(userID, documentID)
	if _, exists := f.enrollments[key]; exists {
		return nil, store.ErrAlreadyEnrolled
	}
	enrollment := &domain.Enrollment{
		ID:         uuid.New(),
		UserID:     userID,
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
	}
	f.enrollments[key] = enrollment
	copied := *enrollment
	return &copied, nil
}

func (f *fakeRepo) ListPurchasesByUser(ctx context.Context, userID uuid.UUID, opts domain.ListOptions) ([]domain.Purchase, error) {
	purchases := make([]domain.Purchase, 0)
	for _, e := range f.enrollments {
		if e.UserID != userID {
			continue
		}
		if doc, ok := f.documents[e.DocumentID]; ok {
			purchases = append(purchases, domain.Purchase{Document: *doc, PurchasedAt: e.CreatedAt})
		}
	}
	sort.Slice(purchases, func(i, j int) bool { return purchases[i].PurchasedAt.After(purchases[j].PurchasedAt) })
	return purchases, nil
}

func (f *fakeRepo) FindCommissionByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Commission, error) {
	for _, c := range f.commissions {
		if c.PaymentID == paymentID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, store.ErrCommissionNotFound
}

func (f *fakeRepo) hasPendingRefund(paymentID uuid.UUID) bool {
	for _, r := range f.refunds {
		if r.PaymentID == paymentID && r.Status == domain.RefundStatusPending {
			return true
		}
	}
	return false
}

func (f *fakeRepo) ListReleasableCommissions(ctx context.Context, now time.Time, limit int) ([]domain.Commission, error) {
	releasable := make([]domain.Commission, 0)
	for _, c := range f.commissions {
		if c.Status != domain.CommissionStatusPending || c.ReleaseAt.After(now) {
			continue
		}
		if f.hasPendingRefund(c.PaymentID) {
			continue
		}
		releasable = append(releasable, *c)
	}
	sort.Slice(releasable, func(i, j int) bool { return releasable[i].ReleaseAt.Before(releasable[j].ReleaseAt) })
	if len(releasable) > limit {
		releasable = releasable[:limit]
	}
	return releasable, nil
}

func (f *fakeRepo) ReleaseCommissionAtomic(ctx context.Context, commissionID uuid.UUID) (bool, error) {
	commission, ok := f.commissions[commissionID]
	if !ok || commission.Status != domain.CommissionStatusPending {
		return false, nil
	}
	if f.hasPendingRefund(commission.PaymentID) {
		return false, nil
	}

	wallet := f.ensureSellerWallet(commission.SellerID)
	if wallet.PendingBalance < commission.SellerAmount {
		return false, fmt.Errorf("seller pending balance below commission amount: %w", store.ErrWalletReconciliation)
	}
	if f.platform.PendingBalance < commission.PlatformAmount {
		return false, fmt.Errorf("platform pending balance below fee amount: %w", store.ErrWalletReconciliation)
	}

	commission.Status = domain.CommissionStatusReleased
	commission.UpdatedAt = time.Now().UTC()
	wallet.PendingBalance -= commission.SellerAmount
	wallet.AvailableBalance += commission.SellerAmount
	f.platform.PendingBalance -= commission.PlatformAmount
	f.platform.AvailableBalance += commission.PlatformAmount
	return true, nil
}

func (f *fakeRepo) CreateRefund(ctx context.Context, refund *domain.Refund) error {
	for _, r := range f.refunds {
		if r.PaymentID == refund.PaymentID {
			return store.ErrRefundExists
		}
	}
	copied := *refund
	f.refunds[refund.ID] = &copied
	return nil
}

func (f *fakeRepo) FindRefundByID(ctx context.Context, refundID uuid.UUID) (*domain.Refund, error) {
	refund, ok := f.refunds[refundID]
	if !ok {
		return nil, store.ErrRefundNotFound
	}
	copied := *refund
	return &copied, nil
}

func (f *fakeRepo) FindRefundByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Refund, error) {
	for _, r := range f.refunds {
		if r.PaymentID == paymentID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, store.ErrRefundNotFound
}

func (f *fakeRepo) RejectRefundAtomic(ctx context.Context, params store.RefundDecisionParams) (*domain.Refund, error) {
	refund, ok := f.refunds[params.RefundID]
	if !ok {
		return nil, store.ErrRefundNotFound
	}
	if refund.Status != domain.RefundStatusPending {
		return nil, store.ErrAlreadyProcessed
	}
	refund.Status = domain.RefundStatusRejected
	refund.AdminResponse = &params.AdminResponse
	refund.ProcessedBy = &params.AdminID
	refund.ProcessedAt = &params.ProcessedAt
	copied := *refund
	return &copied, nil
}

func (f *fakeRepo) ApproveRefundAtomic(ctx context.Context, params store.RefundDecisionParams) (*domain.Refund, error) {
	refund, ok := f.refunds[params.RefundID]
	if !ok {
		return nil, store.ErrRefundNotFound
	}
	if refund.Status != domain.RefundStatusPending {
		return nil, store.ErrAlreadyProcessed
	}

	var commission *domain.Commission
	for _, c := range f.commissions {
		if c.PaymentID == refund.PaymentID {
			commission = c
			break
		}
	}
	if commission == nil {
		return nil, store.ErrCommissionNotFound
	}

	wallet := f.ensureSellerWallet(commission.SellerID)

	// Guard checks first; any miss aborts with no state change.
	switch commission.Status {
	case domain.CommissionStatusPending:
		if wallet.PendingBalance < commission.SellerAmount || wallet.TotalEarned < commission.SellerAmount {
			return nil, fmt.Errorf("seller pending pool below reversal amount: %w", store.ErrWalletReconciliation)
		}
		if f.platform.PendingBalance < commission.PlatformAmount ||
			f.platform.TotalBalance < commission.PlatformAmount ||
			f.platform.TotalCommissionEarned < commission.PlatformAmount {
			return nil, fmt.Errorf("platform pending pool below reversal amount: %w", store.ErrWalletReconciliation)
		}
		wallet.PendingBalance -= commission.SellerAmount
		wallet.TotalEarned -= commission.SellerAmount
		f.platform.PendingBalance -= commission.PlatformAmount
		f.platform.TotalBalance -= commission.PlatformAmount
		f.platform.TotalCommissionEarned -= commission.PlatformAmount
	case domain.CommissionStatusReleased:
		if wallet.AvailableBalance < commission.SellerAmount || wallet.TotalEarned < commission.SellerAmount {
			return nil, fmt.Errorf("seller available pool below reversal amount: %w", store.ErrWalletReconciliation)
		}
		if f.platform.AvailableBalance < commission.PlatformAmount || f.platform.TotalBalance < commission.PlatformAmount {
			return nil, fmt.Errorf("platform available pool below reversal amount: %w", store.ErrWalletReconciliation)
		}
		wallet.AvailableBalance -= commission.SellerAmount
		wallet.TotalEarned -= commission.SellerAmount
		f.platform.AvailableBalance -= commission.PlatformAmount
		f.platform.TotalBalance -= commission.PlatformAmount
	default:
		return nil, store.ErrAlreadyProcessed
	}

	f.platform.TotalRefunded += refund.Amount
	commission.Status = domain.CommissionStatusRefunded
	commission.UpdatedAt = params.ProcessedAt

	delete(f.enrollments, enrollKey(refund.CustomerID, refund.DocumentID))
	if payment, ok := f.payments[refund.PaymentID]; ok {
		payment.Status = domain.PaymentStatusRefunded
		payment.UpdatedAt = params.ProcessedAt
	}

	refund.Status = domain.RefundStatusApproved
	refund.AdminResponse = &params.AdminResponse
	refund.ProcessedBy = &params.AdminID
	refund.ProcessedAt = &params.ProcessedAt
	refund.RefundCompletedAt = &params.ProcessedAt
	copied := *refund
	return &copied, nil
}

func (f *fakeRepo) listRefunds(filter func(*domain.Refund) bool, opts domain.ListOptions) []domain.Refund {
	refunds := make([]domain.Refund, 0)
	for _, r := range f.refunds {
		if !filter(r) {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		refunds = append(refunds, *r)
	}
	sort.Slice(refunds, func(i, j int) bool { return refunds[i].CreatedAt.After(refunds[j].CreatedAt) })
	return refunds
}

func (f *fakeRepo) ListRefunds(ctx context.Context, opts domain.ListOptions) ([]domain.Refund, error) {
	return f.listRefunds(func(*domain.Refund) bool { return true }, opts), nil
}

func (f *fakeRepo) ListRefundsByCustomer(ctx context.Context, customerID uuid.UUID, opts domain.ListOptions) ([]domain.Refund, error) {
	return f.listRefunds(func(r *domain.Refund) bool { return r.CustomerID == customerID }, opts), nil
}

func (f *fakeRepo) ListRefundsBySeller(ctx context.Context, sellerID uuid.UUID, opts domain.ListOptions) ([]domain.Refund, error) {
	return f.listRefunds(func(r *domain.Refund) bool { return r.SellerID == sellerID }, opts), nil
}

func (f *fakeRepo) GetRefundStats(ctx context.Context, sellerID *uuid.UUID) (*domain.RefundStats, error) {
	stats := &domain.RefundStats{}
	for _, r := range f.refunds {
		if sellerID != nil && r.SellerID != *sellerID {
			continue
		}
		stats.Total++
		stats.TotalAmount += r.Amount
		switch r.Status {
		case domain.RefundStatusPending:
			stats.Pending++
		case domain.RefundStatusApproved:
			stats.Approved++
			stats.ApprovedAmount += r.Amount
		case domain.RefundStatusRejected:
			stats.Rejected++
		}
	}
	return stats, nil
}

func (f *fakeRepo) ensureSellerWallet(sellerID uuid.UUID) *domain.SellerWallet {
	wallet, ok := f.sellerWallets[sellerID]
	if !ok {
		wallet = &domain.SellerWallet{SellerID: sellerID, UpdatedAt: time.Now().UTC()}
		f.sellerWallets[sellerID] = wallet
	}
	return wallet
}

func (f *fakeRepo) GetOrCreateSellerWallet(ctx context.Context, sellerID uuid.UUID) (*domain.SellerWallet, error) {
	copied := *f.ensureSellerWallet(sellerID)
	return &copied, nil
}

func (f *fakeRepo) GetOrCreatePlatformWallet(ctx context.Context) (*domain.PlatformWallet, error) {
	copied := *f.platform
	return &copied, nil
}

func (f *fakeRepo) CreateWithdrawalAtomic(ctx context.Context, request *domain.WithdrawalRequest) error {
	wallet := f.ensureSellerWallet(request.SellerID)
	if wallet.AvailableBalance < request.Amount {
		return store.ErrInsufficientFunds
	}
	wallet.AvailableBalance -= request.Amount
	copied := *request
	f.withdrawals[request.ID] = &copied
	return nil
}

func (f *fakeRepo) FindWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	request, ok := f.withdrawals[requestID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	copied := *request
	return &copied, nil
}

func (f *fakeRepo) CompleteWithdrawalAtomic(ctx context.Context, params store.WithdrawalDecisionParams) (*domain.WithdrawalRequest, error) {
	request, ok := f.withdrawals[params.RequestID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	if request.Status != domain.WithdrawalStatusPending {
		return nil, store.ErrAlreadyProcessed
	}
	request.Status = domain.WithdrawalStatusCompleted
	request.ProcessedBy = &params.AdminID
	request.Notes = params.Notes
	request.UpdatedAt = time.Now().UTC()

	wallet := f.ensureSellerWallet(request.SellerID)
	wallet.TotalWithdrawn += request.Amount
	f.platform.TotalWithdrawals += request.Amount

	copied := *request
	return &copied, nil
}

func (f *fakeRepo) RejectWithdrawalAtomic(ctx context.Context, params store.WithdrawalDecisionParams) (*domain.WithdrawalRequest, error) {
	request, ok := f.withdrawals[params.RequestID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	if request.Status != domain.WithdrawalStatusPending {
		return nil, store.ErrAlreadyProcessed
	}
	request.Status = domain.WithdrawalStatusRejected
	request.ProcessedBy = &params.AdminID
	request.Notes = params.Notes
	request.UpdatedAt = time.Now().UTC()

	wallet := f.ensureSellerWallet(request.SellerID)
	wallet.AvailableBalance += request.Amount

	copied := *request
	return &copied, nil
}

func (f *fakeRepo) listWithdrawals(filter func(*domain.WithdrawalRequest) bool, opts domain.ListOptions) []domain.WithdrawalRequest {
	requests := make([]domain.WithdrawalRequest, 0)
	for _, w := range f.withdrawals {
		if !filter(w) {
			continue
		}
		if opts.Status != "" && w.Status != opts.Status {
			continue
		}
		requests = append(requests, *w)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt.After(requests[j].CreatedAt) })
	return requests
}

func (f *fakeRepo) ListWithdrawalsBySeller(ctx context.Context, sellerID uuid.UUID, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	return f.listWithdrawals(func(w *domain.WithdrawalRequest) bool { return w.SellerID == sellerID }, opts), nil
}

func (f *fakeRepo) ListWithdrawals(ctx context.Context, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	return f.listWithdrawals(func(*domain.WithdrawalRequest) bool { return true }, opts), nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	routingKeys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

// fakeGateway returns a canned checkout link or a configured error, and reports
// linkStatus when queried for an existing link.
type fakeGateway struct {
	err        error
	calls      int
	linkStatus string
	infoErr    error
}

func (g *fakeGateway) CreatePaymentLink(ctx context.Context, payload payos.CreateLinkRequest) (*payos.CreateLinkResponse, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	resp := &payos.CreateLinkResponse{Code: "00", Desc: "success"}
	resp.Data.OrderCode = payload.OrderCode
	resp.Data.Amount = payload.Amount
	resp.Data.Status = "PENDING"
	resp.Data.CheckoutURL = "https://pay.example.com/" + payload.ReturnURL
	return resp, nil
}

func (g *fakeGateway) GetPaymentLinkInfo(ctx context.Context, orderCode int64) (*payos.LinkInfoResponse, error) {
	if g.infoErr != nil {
		return nil, g.infoErr
	}
	status := g.linkStatus
	if status == "" {
		status = "PENDING"
	}
	resp := &payos.LinkInfoResponse{Code: "00", Desc: "success"}
	resp.Data.OrderCode = orderCode
	resp.Data.Status = status
	return resp, nil
}

func defaultTestSettings() Settings {
	return Settings{
		EventExchange:             "docmarket.events",
		CommissionRate:            0.15,
		CommissionHold:            24 * time.Hour,
		RefundWindow:              24 * time.Hour,
		GatewayReturnURL:          "https://docmarket.example.com/payments/return",
		RefundRequestLimitPerHour: 5,
	}
}

func newTestService(repo *fakeRepo) (*Service, *recordingPublisher, *fakeGateway) {
	publisher := &recordingPublisher{}
	gateway := &fakeGateway{}
	svc := NewService(repo, gateway, publisher, nil, defaultTestSettings())
	return svc, publisher, gateway
}
