/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It uses the pgx library for database interactions.
 *
 * Money movement rules:
 * - Multi-row groups (payment completion, refund reversal, withdrawal creation) run
 *   inside one transaction, keyed by a conditional status update so redelivered or
 *   concurrent requests fall out as ErrPaymentNotPending / ErrAlreadyProcessed.
 * - Balance changes are single UPDATE expressions. Decrements carry a
 *   `WHERE balance >= $n` guard; a guard miss during a refund reversal means the
 *   ledger is inconsistent and surfaces as ErrWalletReconciliation.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver and toolkit.
 * - internal/domain: The domain models for the service.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docmarket/settlement-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// PostgresRepository is the PostgreSQL-backed implementation of the Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindDocumentByID retrieves the settlement view of a marketplace document.
func (r *PostgresRepository) FindDocumentByID(ctx context.Context, documentID uuid.UUID) (*domain.Document, error) {
	query := `SELECT id, author_id, title, price, discount_percent, status
              FROM documents WHERE id = $1`

	var doc domain.Document
	err := r.db.QueryRow(ctx, query, documentID).Scan(
		&doc.ID, &doc.AuthorID, &doc.Title, &doc.Price, &doc.DiscountPercent, &doc.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to find document by id: %w", err)
	}
	return &doc, nil
}

// FindUserByID retrieves the directory view of a user.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT id, name, email, phone FROM users WHERE id = $1`

	var user domain.User
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Name, &user.Email, &user.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by id: %w", err)
	}
	return &user, nil
}

// CreatePayment inserts a new payment record.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `INSERT INTO payments (id, buyer_id, document_id, seller_id, amount, status, gateway_order_code, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		payment.ID, payment.BuyerID, payment.DocumentID, payment.SellerID,
		payment.Amount, payment.Status, payment.GatewayOrderCode,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// FindPaymentByID retrieves a single payment by its ID.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT id, buyer_id, document_id, seller_id, amount, status, gateway_order_code, created_at, updated_at
              FROM payments WHERE id = $1`

	var p domain.Payment
	err := r.db.QueryRow(ctx, query, paymentID).Scan(
		&p.ID, &p.BuyerID, &p.DocumentID, &p.SellerID, &p.Amount,
		&p.Status, &p.GatewayOrderCode, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to find payment by id: %w", err)
	}
	return &p, nil
}

// MarkPaymentFailed transitions a PENDING payment to FAILED. Payments already in a
// terminal state are left untouched, which makes failure callbacks idempotent.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, orderCode *int64) error {
	query := `UPDATE payments
              SET status = $2, gateway_order_code = COALESCE($3, gateway_order_code), updated_at = $4
              WHERE id = $1 AND status = $5`

	_, err := r.db.Exec(ctx, query, paymentID, domain.PaymentStatusFailed, orderCode, time.Now().UTC(), domain.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return nil
}

// CompletePaymentAtomic applies the full settlement of a successful payment in one
// transaction. The conditional PENDING->COMPLETED update is the idempotency key: a
// redelivered callback matches no row and nothing else runs.
func (r *PostgresRepository) CompletePaymentAtomic(ctx context.Context, params CompletePaymentParams) (*domain.Commission, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin completion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	var buyerID, documentID, sellerID uuid.UUID
	var amount int64
	claimQuery := `UPDATE payments
                   SET status = $2, gateway_order_code = $3, updated_at = $4
                   WHERE id = $1 AND status = $5
                   RETURNING buyer_id, document_id, seller_id, amount`
	err = tx.QueryRow(ctx, claimQuery,
		params.PaymentID, domain.PaymentStatusCompleted, params.OrderCode, now, domain.PaymentStatusPending,
	).Scan(&buyerID, &documentID, &sellerID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if probeErr := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, params.PaymentID).Scan(&exists); probeErr != nil {
				return nil, fmt.Errorf("failed to probe payment: %w", probeErr)
			}
			if !exists {
				return nil, ErrPaymentNotFound
			}
			return nil, ErrPaymentNotPending
		}
		return nil, fmt.Errorf("failed to claim payment for completion: %w", err)
	}

	// Grant access. The conflict target absorbs the rare case where the buyer was
	// enrolled through another path between initiation and completion.
	enrollQuery := `INSERT INTO enrollments (id, user_id, document_id, created_at)
                    VALUES ($1, $2, $3, $4)
                    ON CONFLICT (user_id, document_id) DO NOTHING`
	if _, err = tx.Exec(ctx, enrollQuery, uuid.New(), buyerID, documentID, now); err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	commission := &domain.Commission{
		ID:              uuid.New(),
		PaymentID:       params.PaymentID,
		SellerID:        sellerID,
		PlatformFeeRate: params.FeeRate,
		SellerAmount:    params.SellerAmount,
		PlatformAmount:  params.PlatformAmount,
		Status:          domain.CommissionStatusPending,
		ReleaseAt:       params.ReleaseAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	commissionQuery := `INSERT INTO commissions (id, payment_id, seller_id, platform_fee_rate, seller_amount, platform_amount, status, release_at, created_at, updated_at)
                        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = tx.Exec(ctx, commissionQuery,
		commission.ID, commission.PaymentID, commission.SellerID, commission.PlatformFeeRate,
		commission.SellerAmount, commission.PlatformAmount, commission.Status,
		commission.ReleaseAt, commission.CreatedAt, commission.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commission: %w", err)
	}

	sellerWalletQuery := `INSERT INTO seller_wallets (seller_id, available_balance, pending_balance, total_earned, total_withdrawn, updated_at)
                          VALUES ($1, 0, $2, $2, 0, $3)
                          ON CONFLICT (seller_id) DO UPDATE
                          SET pending_balance = seller_wallets.pending_balance + EXCLUDED.pending_balance,
                              total_earned = seller_wallets.total_earned + EXCLUDED.total_earned,
                              updated_at = EXCLUDED.updated_at`
	if _, err = tx.Exec(ctx, sellerWalletQuery, sellerID, params.SellerAmount, now); err != nil {
		return nil, fmt.Errorf("failed to credit seller wallet: %w", err)
	}

	platformWalletQuery := `INSERT INTO platform_wallet (id, available_balance, pending_balance, total_balance, total_commission_earned, total_refunded, total_withdrawals, updated_at)
                            VALUES (1, 0, $1, $1, $1, 0, 0, $2)
                            ON CONFLICT (id) DO UPDATE
                            SET pending_balance = platform_wallet.pending_balance + EXCLUDED.pending_balance,
                                total_balance = platform_wallet.total_balance + EXCLUDED.total_balance,
                                total_commission_earned = platform_wallet.total_commission_earned + EXCLUDED.total_commission_earned,
                                updated_at = EXCLUDED.updated_at`
	if _, err = tx.Exec(ctx, platformWalletQuery, params.PlatformAmount, now); err != nil {
		return nil, fmt.Errorf("failed to credit platform wallet: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit completion transaction: %w", err)
	}
	return commission, nil
}

// GetPaymentStats aggregates the admin dashboard totals.
func (r *PostgresRepository) GetPaymentStats(ctx context.Context) (*domain.PaymentStats, error) {
	query := `SELECT
                (SELECT COUNT(*) FROM payments),
                (SELECT COUNT(*) FROM payments WHERE status = $1),
                (SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = $1),
                (SELECT COALESCE(SUM(platform_amount), 0) FROM commissions WHERE status IN ($2, $3)),
                (SELECT COUNT(*) FROM commissions),
                (SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests WHERE status = $4)`

	var stats domain.PaymentStats
	err := r.db.QueryRow(ctx, query,
		domain.PaymentStatusCompleted,
		domain.CommissionStatusPending, domain.CommissionStatusReleased,
		domain.WithdrawalStatusPending,
	).Scan(
		&stats.TotalPayments, &stats.CompletedPayments, &stats.TotalRevenue,
		&stats.PlatformRevenue, &stats.TotalCommissions, &stats.PendingWithdrawals,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate payment stats: %w", err)
	}
	return &stats, nil
}

// HasEnrollment reports whether the user already has access to the document.
func (r *PostgresRepository) HasEnrollment(ctx context.Context, userID, documentID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM enrollments WHERE user_id = $1 AND document_id = $2)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, documentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return exists, nil
}

// CreateEnrollment inserts an enrollment outside the payment flow.
func (r *PostgresRepository) CreateEnrollment(ctx context.Context, userID, documentID uuid.UUID) (*domain.Enrollment, error) {
	enrollment := &domain.Enrollment{
		ID:         uuid.New(),
		UserID:     userID,
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
	}
	query := `INSERT INTO enrollments (id, user_id, document_id, created_at) VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, enrollment.ID, enrollment.UserID, enrollment.DocumentID, enrollment.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, ErrAlreadyEnrolled
		}
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}
	return enrollment, nil
}

// ListPurchasesByUser returns the user's enrollments joined to their documents.
func (r *PostgresRepository) ListPurchasesByUser(ctx context.Context, userID uuid.UUID, opts domain.ListOptions) ([]domain.Purchase, error) {
	query := `SELECT d.id, d.author_id, d.title, d.price, d.discount_percent, d.status, e.created_at
              FROM enrollments e
              JOIN documents d ON d.id = e.document_id
              WHERE e.user_id = $1
              ORDER BY e.created_at DESC
              LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(
			&p.Document.ID, &p.Document.AuthorID, &p.Document.Title,
			&p.Document.Price, &p.Document.DiscountPercent, &p.Document.Status,
			&p.PurchasedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan purchase row: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

const commissionColumns = `id, payment_id, seller_id, platform_fee_rate, seller_amount, platform_amount, status, release_at, created_at, updated_at`

func scanCommission(row pgx.Row) (*domain.Commission, error) {
	var c domain.Commission
	err := row.Scan(
		&c.ID, &c.PaymentID, &c.SellerID, &c.PlatformFeeRate,
		&c.SellerAmount, &c.PlatformAmount, &c.Status,
		&c.ReleaseAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCommissionByPaymentID retrieves the commission attached to a payment.
func (r *PostgresRepository) FindCommissionByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Commission, error) {
	query := `SELECT ` + commissionColumns + ` FROM commissions WHERE payment_id = $1`

	commission, err := scanCommission(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCommissionNotFound
		}
		return nil, fmt.Errorf("failed to find commission by payment id: %w", err)
	}
	return commission, nil
}

// ListReleasableCommissions returns due PENDING commissions that are not contested
// by a PENDING refund. The exclusion is re-checked inside ReleaseCommissionAtomic.
func (r *PostgresRepository) ListReleasableCommissions(ctx context.Context, now time.Time, limit int) ([]domain.Commission, error) {
	query := `SELECT ` + commissionColumns + `
              FROM commissions c
              WHERE c.status = $1
                AND c.release_at <= $2
                AND NOT EXISTS (
                    SELECT 1 FROM refunds r
                    WHERE r.payment_id = c.payment_id AND r.status = $3
                )
              ORDER BY c.release_at ASC
              LIMIT $4`

	rows, err := r.db.Query(ctx, query, domain.CommissionStatusPending, now, domain.RefundStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list releasable commissions: %w", err)
	}
	defer rows.Close()

	commissions := make([]domain.Commission, 0)
	for rows.Next() {
		commission, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission row: %w", err)
		}
		commissions = append(commissions, *commission)
	}
	return commissions, rows.Err()
}

// ReleaseCommissionAtomic moves one commission's held funds to the available pools.
// It returns (false, nil) when the commission is no longer eligible, which the sweep
// treats as a skip rather than a failure.
func (r *PostgresRepository) ReleaseCommissionAtomic(ctx context.Context, commissionID uuid.UUID) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	lockQuery := `SELECT payment_id, seller_id, seller_amount, platform_amount
                  FROM commissions WHERE id = $1 AND status = $2 FOR UPDATE`
	var paymentID, sellerID uuid.UUID
	var sellerAmount, platformAmount int64
	err = tx.QueryRow(ctx, lockQuery, commissionID, domain.CommissionStatusPending).
		Scan(&paymentID, &sellerID, &sellerAmount, &platformAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock commission: %w", err)
	}

	// A refund request may have arrived between the sweep query and this lock.
	var contested bool
	refundQuery := `SELECT EXISTS(SELECT 1 FROM refunds WHERE payment_id = $1 AND status = $2)`
	if err = tx.QueryRow(ctx, refundQuery, paymentID, domain.RefundStatusPending).Scan(&contested); err != nil {
		return false, fmt.Errorf("failed to check pending refund: %w", err)
	}
	if contested {
		return false, nil
	}

	releaseQuery := `UPDATE commissions SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	if _, err = tx.Exec(ctx, releaseQuery, commissionID, domain.CommissionStatusReleased, now, domain.CommissionStatusPending); err != nil {
		return false, fmt.Errorf("failed to release commission: %w", err)
	}

	sellerQuery := `UPDATE seller_wallets
                    SET pending_balance = pending_balance - $1,
                        available_balance = available_balance + $1,
                        updated_at = $2
                    WHERE seller_id = $3 AND pending_balance >= $1`
	tag, err := tx.Exec(ctx, sellerQuery, sellerAmount, now, sellerID)
	if err != nil {
		return false, fmt.Errorf("failed to move seller funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("seller %s pending balance below commission amount %d: %w", sellerID, sellerAmount, ErrWalletReconciliation)
	}

	platformQuery := `UPDATE platform_wallet
                      SET pending_balance = pending_balance - $1,
                          available_balance = available_balance + $1,
                          updated_at = $2
                      WHERE id = 1 AND pending_balance >= $1`
	tag, err = tx.Exec(ctx, platformQuery, platformAmount, now)
	if err != nil {
		return false, fmt.Errorf("failed to move platform funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("platform pending balance below fee amount %d: %w", platformAmount, ErrWalletReconciliation)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit release transaction: %w", err)
	}
	return true, nil
}

const refundColumns = `id, payment_id, customer_id, seller_id, document_id, amount, reason,
              bank_name, bank_account_name, bank_account_number, status,
              admin_response, processed_by, processed_at, refund_completed_at, created_at`

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var rf domain.Refund
	err := row.Scan(
		&rf.ID, &rf.PaymentID, &rf.CustomerID, &rf.SellerID, &rf.DocumentID,
		&rf.Amount, &rf.Reason,
		&rf.BankDetails.BankName, &rf.BankDetails.BankAccountName, &rf.BankDetails.BankAccountNumber,
		&rf.Status, &rf.AdminResponse, &rf.ProcessedBy, &rf.ProcessedAt,
		&rf.RefundCompletedAt, &rf.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rf, nil
}

// CreateRefund inserts a new PENDING refund request. No money moves here.
func (r *PostgresRepository) CreateRefund(ctx context.Context, refund *domain.Refund) error {
	query := `INSERT INTO refunds (id, payment_id, customer_id, seller_id, document_id, amount, reason,
                                   bank_name, bank_account_name, bank_account_number, status, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		refund.ID, refund.PaymentID, refund.CustomerID, refund.SellerID, refund.DocumentID,
		refund.Amount, refund.Reason,
		refund.BankDetails.BankName, refund.BankDetails.BankAccountName, refund.BankDetails.BankAccountNumber,
		refund.Status, refund.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrRefundExists
		}
		return fmt.Errorf("failed to create refund request: %w", err)
	}
	return nil
}

// FindRefundByID retrieves a refund request by its ID.
func (r *PostgresRepository) FindRefundByID(ctx context.Context, refundID uuid.UUID) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`

	refund, err := scanRefund(r.db.QueryRow(ctx, query, refundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("failed to find refund by id: %w", err)
	}
	return refund, nil
}

// FindRefundByPaymentID retrieves the refund request attached to a payment, if any.
func (r *PostgresRepository) FindRefundByPaymentID(ctx context.Context, paymentID uuid.UUID) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE payment_id = $1`

	refund, err := scanRefund(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("failed to find refund by payment id: %w", err)
	}
	return refund, nil
}

// RejectRefundAtomic resolves a PENDING refund with no financial effect.
func (r *PostgresRepository) RejectRefundAtomic(ctx context.Context, params RefundDecisionParams) (*domain.Refund, error) {
	query := `UPDATE refunds
              SET status = $2, admin_response = $3, processed_by = $4, processed_at = $5
              WHERE id = $1 AND status = $6
              RETURNING ` + refundColumns

	refund, err := scanRefund(r.db.QueryRow(ctx, query,
		params.RefundID, domain.RefundStatusRejected, params.AdminResponse,
		params.AdminID, params.ProcessedAt, domain.RefundStatusPending,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if probeErr := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM refunds WHERE id = $1)`, params.RefundID).Scan(&exists); probeErr != nil {
				return nil, fmt.Errorf("failed to probe refund: %w", probeErr)
			}
			if !exists {
				return nil, ErrRefundNotFound
			}
			return nil, ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("failed to reject refund: %w", err)
	}
	return refund, nil
}

// ApproveRefundAtomic runs the full reversal routine in one transaction. The
// commission's current status decides which wallet pools are clawed back:
// still-PENDING commissions come out of the pending pools and lifetime totals,
// RELEASED ones out of the available pools.
func (r *PostgresRepository) ApproveRefundAtomic(ctx context.Context, params RefundDecisionParams) (*domain.Refund, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reversal transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	lockRefundQuery := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1 FOR UPDATE`
	refund, err := scanRefund(tx.QueryRow(ctx, lockRefundQuery, params.RefundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("failed to lock refund: %w", err)
	}
	if refund.Status != domain.RefundStatusPending {
		return nil, ErrAlreadyProcessed
	}

	lockCommissionQuery := `SELECT id, seller_id, seller_amount, platform_amount, status
                            FROM commissions WHERE payment_id = $1 FOR UPDATE`
	var commissionID, sellerID uuid.UUID
	var sellerAmount, platformAmount int64
	var commissionStatus string
	err = tx.QueryRow(ctx, lockCommissionQuery, refund.PaymentID).
		Scan(&commissionID, &sellerID, &sellerAmount, &platformAmount, &commissionStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCommissionNotFound
		}
		return nil, fmt.Errorf("failed to lock commission: %w", err)
	}

	switch commissionStatus {
	case domain.CommissionStatusPending:
		// Funds never left escrow. Claw back the pending pools and the lifetime
		// earning totals so the books read as if the sale had not happened.
		sellerQuery := `UPDATE seller_wallets
                        SET pending_balance = pending_balance - $1,
                            total_earned = total_earned - $1,
                            updated_at = $2
                        WHERE seller_id = $3 AND pending_balance >= $1 AND total_earned >= $1`
		tag, err := tx.Exec(ctx, sellerQuery, sellerAmount, now, sellerID)
		if err != nil {
			return nil, fmt.Errorf("failed to reverse seller pending funds: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("seller %s pending pool below reversal amount %d: %w", sellerID, sellerAmount, ErrWalletReconciliation)
		}

		platformQuery := `UPDATE platform_wallet
                          SET pending_balance = pending_balance - $1,
                              total_balance = total_balance - $1,
                              total_commission_earned = total_commission_earned - $1,
                              total_refunded = total_refunded + $2,
                              updated_at = $3
                          WHERE id = 1 AND pending_balance >= $1 AND total_balance >= $1 AND total_commission_earned >= $1`
		tag, err = tx.Exec(ctx, platformQuery, platformAmount, refund.Amount, now)
		if err != nil {
			return nil, fmt.Errorf("failed to reverse platform pending funds: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("platform pending pool below reversal amount %d: %w", platformAmount, ErrWalletReconciliation)
		}

	case domain.CommissionStatusReleased:
		// Funds already moved to the available pools. Lifetime commission earnings
		// stay as recorded; only the spendable balances come back.
		sellerQuery := `UPDATE seller_wallets
                        SET available_balance = available_balance - $1,
                            total_earned = total_earned - $1,
                            updated_at = $2
                        WHERE seller_id = $3 AND available_balance >= $1 AND total_earned >= $1`
		tag, err := tx.Exec(ctx, sellerQuery, sellerAmount, now, sellerID)
		if err != nil {
			return nil, fmt.Errorf("failed to reverse seller available funds: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("seller %s available pool below reversal amount %d: %w", sellerID, sellerAmount, ErrWalletReconciliation)
		}

		platformQuery := `UPDATE platform_wallet
                          SET available_balance = available_balance - $1,
                              total_balance = total_balance - $1,
                              total_refunded = total_refunded + $2,
                              updated_at = $3
                          WHERE id = 1 AND available_balance >= $1 AND total_balance >= $1`
		tag, err = tx.Exec(ctx, platformQuery, platformAmount, refund.Amount, now)
		if err != nil {
			return nil, fmt.Errorf("failed to reverse platform available funds: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("platform available pool below reversal amount %d: %w", platformAmount, ErrWalletReconciliation)
		}

	default:
		return nil, ErrAlreadyProcessed
	}

	markQuery := `UPDATE commissions SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	tag, err := tx.Exec(ctx, markQuery, commissionID, domain.CommissionStatusRefunded, now, commissionStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to mark commission refunded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyProcessed
	}

	// Revoke access and close out the payment.
	if _, err = tx.Exec(ctx, `DELETE FROM enrollments WHERE user_id = $1 AND document_id = $2`, refund.CustomerID, refund.DocumentID); err != nil {
		return nil, fmt.Errorf("failed to delete enrollment: %w", err)
	}
	if _, err = tx.Exec(ctx,
		`UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`,
		refund.PaymentID, domain.PaymentStatusRefunded, now,
	); err != nil {
		return nil, fmt.Errorf("failed to mark payment refunded: %w", err)
	}

	resolveQuery := `UPDATE refunds
                     SET status = $2, admin_response = $3, processed_by = $4, processed_at = $5, refund_completed_at = $5
                     WHERE id = $1
                     RETURNING ` + refundColumns
	resolved, err := scanRefund(tx.QueryRow(ctx, resolveQuery,
		params.RefundID, domain.RefundStatusApproved, params.AdminResponse, params.AdminID, params.ProcessedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve refund: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reversal transaction: %w", err)
	}
	return resolved, nil
}

func (r *PostgresRepository) listRefunds(ctx context.Context, where string, opts domain.ListOptions, args ...interface{}) ([]domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds ` + where
	if opts.Status != "" {
		if where == "" {
			query += fmt.Sprintf(" WHERE status = $%d", len(args)+1)
		} else {
			query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		}
		args = append(args, opts.Status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0)
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund row: %w", err)
		}
		refunds = append(refunds, *refund)
	}
	return refunds, rows.Err()
}

// ListRefunds returns all refund requests, newest first.
func (r *PostgresRepository) ListRefunds(ctx context.Context, opts domain.ListOptions) ([]domain.Refund, error) {
	return r.listRefunds(ctx, "", opts)
}

// ListRefundsByCustomer returns the refund requests raised by one customer.
func (r *PostgresRepository) ListRefundsByCustomer(ctx context.Context, customerID uuid.UUID, opts domain.ListOptions) ([]domain.Refund, error) {
	return r.listRefunds(ctx, "WHERE customer_id = $1", opts, customerID)
}

// ListRefundsBySeller returns the refund requests raised against one seller.
func (r *PostgresRepository) ListRefundsBySeller(ctx context.Context, sellerID uuid.UUID, opts domain.ListOptions) ([]domain.Refund, error) {
	return r.listRefunds(ctx, "WHERE seller_id = $1", opts, sellerID)
}

// GetRefundStats aggregates refund counts and amounts, optionally for one seller.
func (r *PostgresRepository) GetRefundStats(ctx context.Context, sellerID *uuid.UUID) (*domain.RefundStats, error) {
	query := `SELECT COUNT(*),
                     COUNT(*) FILTER (WHERE status = $1),
                     COUNT(*) FILTER (WHERE status = $2),
                     COUNT(*) FILTER (WHERE status = $3),
                     COALESCE(SUM(amount), 0),
                     COALESCE(SUM(amount) FILTER (WHERE status = $2), 0)
              FROM refunds
              WHERE $4::uuid IS NULL OR seller_id = $4`

	var stats domain.RefundStats
	err := r.db.QueryRow(ctx, query,
		domain.RefundStatusPending, domain.RefundStatusApproved, domain.RefundStatusRejected, sellerID,
	).Scan(
		&stats.Total, &stats.Pending, &stats.Approved, &stats.Rejected,
		&stats.TotalAmount, &stats.ApprovedAmount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate refund stats: %w", err)
	}
	return &stats, nil
}

// GetOrCreateSellerWallet returns the seller's wallet, creating a zeroed one on
// first access.
func (r *PostgresRepository) GetOrCreateSellerWallet(ctx context.Context, sellerID uuid.UUID) (*domain.SellerWallet, error) {
	insertQuery := `INSERT INTO seller_wallets (seller_id, available_balance, pending_balance, total_earned, total_withdrawn, updated_at)
                    VALUES ($1, 0, 0, 0, 0, $2)
                    ON CONFLICT (seller_id) DO NOTHING`
	if _, err := r.db.Exec(ctx, insertQuery, sellerID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to ensure seller wallet: %w", err)
	}

	query := `SELECT seller_id, available_balance, pending_balance, total_earned, total_withdrawn, updated_at
              FROM seller_wallets WHERE seller_id = $1`
	var w domain.SellerWallet
	err := r.db.QueryRow(ctx, query, sellerID).Scan(
		&w.SellerID, &w.AvailableBalance, &w.PendingBalance,
		&w.TotalEarned, &w.TotalWithdrawn, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load seller wallet: %w", err)
	}
	return &w, nil
}

// GetOrCreatePlatformWallet returns the singleton platform wallet, creating it on
// first access.
func (r *PostgresRepository) GetOrCreatePlatformWallet(ctx context.Context) (*domain.PlatformWallet, error) {
	insertQuery := `INSERT INTO platform_wallet (id, available_balance, pending_balance, total_balance, total_commission_earned, total_refunded, total_withdrawals, updated_at)
                    VALUES (1, 0, 0, 0, 0, 0, 0, $1)
                    ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.Exec(ctx, insertQuery, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to ensure platform wallet: %w", err)
	}

	query := `SELECT available_balance, pending_balance, total_balance, total_commission_earned, total_refunded, total_withdrawals, updated_at
              FROM platform_wallet WHERE id = 1`
	var w domain.PlatformWallet
	err := r.db.QueryRow(ctx, query).Scan(
		&w.AvailableBalance, &w.PendingBalance, &w.TotalBalance,
		&w.TotalCommissionEarned, &w.TotalRefunded, &w.TotalWithdrawals, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load platform wallet: %w", err)
	}
	return &w, nil
}

const withdrawalColumns = `id, seller_id, amount, bank_name, bank_account_name, bank_account_number, status, processed_by, notes, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var wr domain.WithdrawalRequest
	err := row.Scan(
		&wr.ID, &wr.SellerID, &wr.Amount,
		&wr.BankDetails.BankName, &wr.BankDetails.BankAccountName, &wr.BankDetails.BankAccountNumber,
		&wr.Status, &wr.ProcessedBy, &wr.Notes, &wr.CreatedAt, &wr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wr, nil
}

// CreateWithdrawalAtomic places the hold on the seller's available balance and
// records the request in one transaction.
func (r *PostgresRepository) CreateWithdrawalAtomic(ctx context.Context, request *domain.WithdrawalRequest) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin withdrawal transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	debitQuery := `UPDATE seller_wallets
                   SET available_balance = available_balance - $1, updated_at = $2
                   WHERE seller_id = $3 AND available_balance >= $1`
	tag, err := tx.Exec(ctx, debitQuery, request.Amount, time.Now().UTC(), request.SellerID)
	if err != nil {
		return fmt.Errorf("failed to hold withdrawal amount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}

	insertQuery := `INSERT INTO withdrawal_requests (id, seller_id, amount, bank_name, bank_account_name, bank_account_number, status, created_at, updated_at)
                    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = tx.Exec(ctx, insertQuery,
		request.ID, request.SellerID, request.Amount,
		request.BankDetails.BankName, request.BankDetails.BankAccountName, request.BankDetails.BankAccountNumber,
		request.Status, request.CreatedAt, request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit withdrawal transaction: %w", err)
	}
	return nil
}

// FindWithdrawalByID retrieves a withdrawal request by its ID.
func (r *PostgresRepository) FindWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

	request, err := scanWithdrawal(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to find withdrawal by id: %w", err)
	}
	return request, nil
}

func (r *PostgresRepository) resolveWithdrawal(ctx context.Context, params WithdrawalDecisionParams, status string) (*domain.WithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin withdrawal decision transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	resolveQuery := `UPDATE withdrawal_requests
                     SET status = $2, processed_by = $3, notes = $4, updated_at = $5
                     WHERE id = $1 AND status = $6
                     RETURNING ` + withdrawalColumns
	request, err := scanWithdrawal(tx.QueryRow(ctx, resolveQuery,
		params.RequestID, status, params.AdminID, params.Notes, now, domain.WithdrawalStatusPending,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if probeErr := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM withdrawal_requests WHERE id = $1)`, params.RequestID).Scan(&exists); probeErr != nil {
				return nil, fmt.Errorf("failed to probe withdrawal: %w", probeErr)
			}
			if !exists {
				return nil, ErrWithdrawalNotFound
			}
			return nil, ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("failed to resolve withdrawal: %w", err)
	}

	switch status {
	case domain.WithdrawalStatusCompleted:
		// The hold already left the available balance; count the payout.
		sellerQuery := `UPDATE seller_wallets
                        SET total_withdrawn = total_withdrawn + $1, updated_at = $2
                        WHERE seller_id = $3`
		if _, err = tx.Exec(ctx, sellerQuery, request.Amount, now, request.SellerID); err != nil {
			return nil, fmt.Errorf("failed to record seller payout: %w", err)
		}
		platformQuery := `UPDATE platform_wallet
                          SET total_withdrawals = total_withdrawals + $1, updated_at = $2
                          WHERE id = 1`
		if _, err = tx.Exec(ctx, platformQuery, request.Amount, now); err != nil {
			return nil, fmt.Errorf("failed to record platform payout: %w", err)
		}
	case domain.WithdrawalStatusRejected:
		creditQuery := `UPDATE seller_wallets
                        SET available_balance = available_balance + $1, updated_at = $2
                        WHERE seller_id = $3`
		if _, err = tx.Exec(ctx, creditQuery, request.Amount, now, request.SellerID); err != nil {
			return nil, fmt.Errorf("failed to restore withdrawal hold: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit withdrawal decision: %w", err)
	}
	return request, nil
}

// CompleteWithdrawalAtomic resolves a PENDING withdrawal as COMPLETED.
func (r *PostgresRepository) CompleteWithdrawalAtomic(ctx context.Context, params WithdrawalDecisionParams) (*domain.WithdrawalRequest, error) {
	return r.resolveWithdrawal(ctx, params, domain.WithdrawalStatusCompleted)
}

// RejectWithdrawalAtomic resolves a PENDING withdrawal as REJECTED and returns the
// held amount to the seller's available balance.
func (r *PostgresRepository) RejectWithdrawalAtomic(ctx context.Context, params WithdrawalDecisionParams) (*domain.WithdrawalRequest, error) {
	return r.resolveWithdrawal(ctx, params, domain.WithdrawalStatusRejected)
}

func (r *PostgresRepository) listWithdrawals(ctx context.Context, where string, opts domain.ListOptions, args ...interface{}) ([]domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests ` + where
	if opts.Status != "" {
		if where == "" {
			query += fmt.Sprintf(" WHERE status = $%d", len(args)+1)
		} else {
			query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		}
		args = append(args, opts.Status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	requests := make([]domain.WithdrawalRequest, 0)
	for rows.Next() {
		request, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal row: %w", err)
		}
		requests = append(requests, *request)
	}
	return requests, rows.Err()
}

// ListWithdrawalsBySeller returns one seller's withdrawal requests, newest first.
func (r *PostgresRepository) ListWithdrawalsBySeller(ctx context.Context, sellerID uuid.UUID, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	return r.listWithdrawals(ctx, "WHERE seller_id = $1", opts, sellerID)
}

// ListWithdrawals returns all withdrawal requests, newest first.
func (r *PostgresRepository) ListWithdrawals(ctx context.Context, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	return r.listWithdrawals(ctx, "", opts)
}
