package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docmarket/settlement-service/internal/domain"
	"github.com/docmarket/settlement-service/internal/store"
)

func completePayment(t *testing.T, svc *Service, payment *domain.Payment) {
	t.Helper()
	if err := svc.HandleGatewayCallback(context.Background(), successCallback(payment)); err != nil {
		t.Fatalf("failed to complete payment: %v", err)
	}
}

func testBankDetails() domain.BankDetails {
	return domain.BankDetails{
		BankName:          "Vietcombank",
		BankAccountName:   "NGUYEN VAN A",
		BankAccountNumber: "0123456789",
	}
}

func openRefund(t *testing.T, svc *Service, payment *domain.Payment) *domain.Refund {
	t.Helper()
	refund, err := svc.CreateRefundRequest(context.Background(), payment.BuyerID, domain.CreateRefundPayload{
		PaymentID:   payment.ID,
		Reason:      "document content does not match its description",
		BankDetails: testBankDetails(),
	})
	if err != nil {
		t.Fatalf("failed to create refund request: %v", err)
	}
	return refund
}

func TestCanRefundWindowBoundary(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"one minute inside the window", 23*time.Hour + 59*time.Minute, true},
		{"one minute outside the window", 24*time.Hour + 1*time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			svc, _, _ := newTestService(repo)
			payment := seedPendingPayment(repo, 100_000)
			completePayment(t, svc, payment)
			repo.payments[payment.ID].CreatedAt = time.Now().UTC().Add(-tt.age)

			eligibility, err := svc.CanRefund(context.Background(), payment.BuyerID, payment.ID)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if eligibility.CanRefund != tt.want {
				t.Fatalf("expected can_refund=%v, got %+v", tt.want, eligibility)
			}
		})
	}
}

func TestCanRefundRequiresCompletedPayment(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	payment := seedPendingPayment(repo, 100_000)

	eligibility, err := svc.CanRefund(context.Background(), payment.BuyerID, payment.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if eligibility.CanRefund {
		t.Fatal("pending payment must not be refundable")
	}
}

func TestCanRefundOnlyForBuyer(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	payment := seedPendingPayment(repo, 100_000)
	completePayment(t, svc, payment)

	if _, err := svc.CanRefund(context.Background(), uuid.New(), payment.ID); !errors.Is(err, ErrNotPaymentOwner) {
		t.Fatalf("expected ErrNotPaymentOwner, got %v", err)
	}
}

func TestCreateRefundRequestValidation(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	payment := seedPendingPayment(repo, 100_000)
	completePayment(t, svc, payment)

	if _, err := svc.CreateRefundRequest(context.Background(), payment.BuyerID, domain.CreateRefundPayload{
		PaymentID:   payment.ID,
		Reason:      "too short",
		BankDetails: testBankDetails(),
	}); !errors.Is(err, ErrReasonTooShort) {
		t.Fatalf("expected ErrReasonTooShort, got %v", err)
	}

	if _, err := svc.CreateRefundRequest(context.Background(), payment.BuyerID, domain.CreateRefundPayload{
		PaymentID:   payment.ID,
		Reason:      "document content does not match its description",
		BankDetails: domain.BankDetails{BankName: "Vietcombank"},
	}); !errors.Is(err, ErrBankDetailsIncomplete) {
		t.Fatalf("expected ErrBankDetailsIncomplete, got %v", err)
	}
}

func TestCreateRefundRequestMovesNoMoney(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	payment := seedPendingPayment(repo, 100_000)
	completePayment(t, svc, payment)

	sellerBefore := *repo.sellerWallets[payment.SellerID]
	platformBefore := *repo.platform

	refund := openRefund(t, svc, payment)
	if refund.Status != domain.RefundStatusPending {
		t.Fatalf("expected PENDING refund, got %s", refund.Status)
	}
	if refund.Amount != payment.Amount {
		t.Fatalf("refund amount must snapshot the payment amount, got %d", refund.Amount)
	}

	if *repo.sellerWallets[payment.SellerID] != sellerBefore {
		t.Fatal("creating a refund request must not touch the seller wallet")
	}
	if *repo.platform != platformBefore {
		t.Fatal("creating a refund request must not touch the platform wallet")
	}
}

func TestCreateRefundRequestOncePerPayment(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	admin := uuid.New()
	payment := seedPendingPayment(repo, 100_000)
	completePayment(t, svc, payment)

	refund := openRefund(t, svc, payment)

	// A second request while the first is pending.
	if _, err := svc.CreateRefundRequest(context.Background(), payment.BuyerID, domain.CreateRefundPayload{
		PaymentID:   payment.ID,
		Reason:      "changed my mind about this purchase",
		BankDetails: testBankDetails(),
	}); !errors.Is(err, ErrRefundAlreadyRequested) {
		t.Fatalf("expected ErrRefundAlreadyRequested, got %v", err)
	}

	// Rejection closes eligibility for good.
	if _, err := svc.ProcessRefundRequest(context.Background(), admin, refund.ID, domain.ProcessRefundPayload{
		Status:        domain.RefundStatusRejected,
		AdminResponse: "document matches the description provided",
	}); err != nil {
		t.Fatalf("rejection failed: %v", err)
	}
	if _, err := svc.CreateRefundRequest(context.Background(), payment.BuyerID, domain.CreateRefundPayload{
		PaymentID:   payment.ID,
		Reason:      "trying again after the rejection",
		BankDetails: testBankDetails(),
	}); !errors.Is(err, ErrRefundAlreadyRequested) {
		t.Fatalf("expected ErrRefundAlreadyRequested after rejection, got %v", err)
	}
}

func TestProcessRefundRejectHasNoFinancialEffect(t *testing.T) {
	repo := newFakeRepo()
	svc, publisher, _ := newTestService(repo)
	admin := uuid.New()
	payment := seedPendingPayment(repo, 100_000)
	completePayment(t, svc, payment)
	refund := openRefund(t, svc, payment)

	sellerBefore := *repo.sellerWallets[payment.SellerID]
	platformBefore := *repo.platform

	resolved, err := svc.ProcessRefundRequest(context.Background(), admin, refund.ID, domain.ProcessRefundPayload{
		Status:        domain.RefundStatusRejected,
		AdminResponse: "document matches the description provided",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resolved.Status != domain.RefundStatusRejected {
		t.Fatalf("expected REJECTED, got %s", resolved.Status)
	}
	if *repo.sellerWallets[payment.SellerID] != sellerBefore || *repo.platform != platformBefore {
		t.Fatal("rejection must not move money")
	}
	if repo.payments[payment.ID].Status != domain.PaymentStatusCompleted {
		t.Fatal("rejection must leave the payment COMPLETED")
	}
	if enrolled, _ := repo.HasEnrollment(context.Background(), payment.BuyerID, payment.DocumentID); !enrolled {
		t.Fatal("rejection must keep the enrollment")
	}
	last := publisher.routingKeys[len(publisher.routingKeys)-1]
	if last != "refund.rejected" {
		t.Fatalf("expected refund.rejected event, got %s", last)
	}
}

func TestProcessRefundApprovePendingCommission(t *testing.T) {
	repo := newFakeRepo()
	svc, publisher, _ := newTestService(repo)
	admin := uuid.New()
	payment := seedPendingPayment(repo, 1_000_000)
	completePayment(t, svc, payment)
	refund := openRefund(t, svc, payment)

	resolved, err := svc.ProcessRefundRequest(context.Background(), admin, refund.ID, domain.ProcessRefundPayload{
		Status:        domain.RefundStatusApproved,
		AdminResponse: "verified duplicate content, refunding buyer",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resolved.Status != domain.RefundStatusApproved {
		t.Fatalf("expected APPROVED, got %s", resolved.Status)
	}
	if resolved.RefundCompletedAt == nil {
		t.Fatal("expected refund completion timestamp")
	}

	wallet := repo.sellerWallets[payment.SellerID]
	if wallet.PendingBalance != 0 || wallet.TotalEarned != 0 || wallet.AvailableBalance != 0 {
		t.Fatalf("seller wallet not fully reversed: %+v", wallet)
	}
	if repo.platform.PendingBalance != 0 || repo.platform.TotalBalance != 0 || repo.platform.TotalCommissionEarned != 0 {
		t.Fatalf("platform wallet not fully reversed: %+v", repo.platform)
	}
	if repo.platform.TotalRefunded != 1_000_000 {
		t.Fatalf("expected total_refunded=1000000, got %d", repo.platform.TotalRefunded)
	}

	commission, _ := repo.FindCommissionByPaymentID(context.Background(), payment.ID)
	if commission.Status != domain.CommissionStatusRefunded {
		t.Fatalf("expected commission REFUNDED, got %s", commission.Status)
	}
	if repo.payments[payment.ID].Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected payment REFUNDED, got %s", repo.payments[payment.ID].Status)
	}
	if enrolled, _ := repo.HasEnrollment(context.Background(), payment.BuyerID, payment.DocumentID); enrolled {
		t.Fatal("approval must revoke the enrollment")
	}
	last := publisher.routingKeys[len(publisher.routingKeys)-1]
	if last != "refund.approved" {
		t.Fatalf("expected refund.approved event, got %s", last)
	}
}

func TestProcessRefundApproveReleasedCommission(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	admin := uuid.New()
	payment := seedPendingPayment(repo, 1_000_000)
	completePayment(t, svc, payment)

	// Release the commission first, then dispute within the window.
	commission, _ := repo.FindCommissionByPaymentID(context.Background(), payment.ID)
	repo.commissions[commission.ID].ReleaseAt = time.Now().UTC().Add(-time.Minute)
	if _, err := svc.ReleaseDueCommissions(context.Background()); err != nil {
		t.Fatalf("release sweep failed: %v", err)
	}

	refund := openRefund(t, svc, payment)
	if _, err := svc.ProcessRefundRequest(context.Background(), admin, refund.ID, domain.ProcessRefundPayload{
		Status:        domain.RefundStatusApproved,
		AdminResponse: "verified duplicate content, refunding buyer",
	}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	wallet := repo.sellerWallets[payment.SellerID]
	if wallet.AvailableBalance != 0 || wallet.PendingBalance != 0 || wallet.TotalEarned != 0 {
		t.Fatalf("seller wallet not reversed from available pool: %+v", wallet)
	}
	if repo.platform.AvailableBalance != 0 || repo.platform.TotalBalance != 0 {
		t.Fatalf("platform wallet not reversed from available pool: %+v", repo.platform)
	}
	// Lifetime commission earnings stay as recorded for released-then-refunded sales.
	if repo.platform.TotalCommissionEarned != 150_000 {
		t.Fatalf("expected total_commission_earned to stay at 150000, got %d", repo.platform.TotalCommissionEarned)
	}
	if repo.platform.TotalRefunded != 1_000_000 {
		t.Fatalf("expected total_refunded=1000000, got %d", repo.platform.TotalRefunded)
	}
}

func TestProcessRefundApproveFailsOnInconsistentLedger(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	admin := uuid.New()
	payment := seedPendingPayment(repo, 1_000_000)
	completePayment(t, svc, payment)
	refund := openRefund(t, svc, payment)

	// Corrupt the ledger: the pending pool no longer covers the commission.
	repo.sellerWallets[payment.SellerID].PendingBalance = 100

	_, err := svc.ProcessRefundRequest(context.Background(), admin, refund.ID, domain.ProcessRefundPayload{
		Status:        domain.RefundStatusApproved,
		AdminResponse: "verified duplicate content, refunding buyer",
	})
	if !errors.Is(err, store.ErrWalletReconciliation) {
		t.Fatalf("expected ErrWalletReconciliation, got %v", err)
	}

	// Nothing may have been clamped or partially applied.
	if repo.sellerWallets[payment.SellerID].PendingBalance != 100 {
		t.Fatal("failed reversal must not mutate the seller wallet")
	}
	if repo.platform.PendingBalance != 150_000 {
		t.Fatal("failed reversal must not mutate the platform wallet")
	}
	if repo.refunds[refund.ID].Status != domain.RefundStatusPending {
		t.Fatal("failed reversal must leave the refund PENDING")
	}
	if repo.payments[payment.ID].Status != domain.PaymentStatusCompleted {
		t.Fatal("failed reversal must leave the payment COMPLETED")
	}
}

func TestProcessRefundTwiceConflicts(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	admin := uuid.New()
	payment := seedPendingPayment(repo, 100_000)
	completePayment(t, svc, payment)
	refund := openRefund(t, svc, payment)

	decision := domain.ProcessRefundPayload{
		Status:        domain.RefundStatusApproved,
		AdminResponse: "verified duplicate content, refunding buyer",
	}
	if _, err := svc.ProcessRefundRequest(context.Background(), admin, refund.ID, decision); err != nil {
		t.Fatalf("first decision failed: %v", err)
	}
	if _, err := svc.ProcessRefundRequest(context.Background(), admin, refund.ID, decision); !errors.Is(err, store.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestProcessRefundValidatesDecision(t *testing.T) {
	repo := newFakeRepo()
	svc, _, _ := newTestService(repo)
	admin := uuid.New()
	payment := seedPendingPayment(repo, 100_000)
	completePayment(t, svc, payment)
	refund := openRefund(t, svc, payment)

	if _, err := svc.ProcessRefundRequest(context.Background(), admin, refund.ID, domain.ProcessRefundPayload{
		Status:        domain.RefundStatusApproved,
		AdminResponse: "ok",
	}); !errors.Is(err, ErrResponseTooShort) {
		t.Fatalf("expected ErrResponseTooShort, got %v", err)
	}

	if _, err := svc.ProcessRefundRequest(context.Background(), admin, refund.ID, domain.ProcessRefundPayload{
		Status:        "MAYBE",
		AdminResponse: "cannot make up my mind about this one",
	}); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}
