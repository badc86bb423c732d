/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docmarket/settlement-service/internal/app"
	"github.com/docmarket/settlement-service/internal/domain"
	"github.com/docmarket/settlement-service/internal/store"
)

// SettlementHandlers holds the application service that handlers will use.
type SettlementHandlers struct {
	service *app.Service
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(service *app.Service) *SettlementHandlers {
	return &SettlementHandlers{service: service}
}

func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps application and store errors to HTTP statuses.
func (h *SettlementHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, store.ErrDocumentNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrRefundNotFound),
		errors.Is(err, store.ErrWithdrawalNotFound),
		errors.Is(err, store.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNotPaymentOwner):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrDocumentNotApproved),
		errors.Is(err, app.ErrOwnDocument),
		errors.Is(err, app.ErrFreeDocument),
		errors.Is(err, app.ErrNotFreeDocument),
		errors.Is(err, app.ErrPaymentNotCompleted),
		errors.Is(err, app.ErrRefundWindowClosed),
		errors.Is(err, app.ErrReasonTooShort),
		errors.Is(err, app.ErrResponseTooShort),
		errors.Is(err, app.ErrBankDetailsIncomplete),
		errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidDecision):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrAlreadyPurchased),
		errors.Is(err, app.ErrRefundAlreadyRequested),
		errors.Is(err, store.ErrAlreadyProcessed):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrGatewayUnavailable):
		h.writeError(w, http.StatusBadGateway, "Payment gateway is unavailable, please try again")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *SettlementHandlers) actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	actorID, ok := GetActorID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get actor ID from context")
		return uuid.Nil, "", false
	}
	role, _ := GetActorRole(r.Context())
	return actorID, role, true
}

func (h *SettlementHandlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+param+" format")
		return uuid.Nil, false
	}
	return id, true
}

func parseListOptions(r *http.Request) domain.ListOptions {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return domain.ListOptions{
		Limit:  limit,
		Offset: offset,
		Status: q.Get("status"),
	}
}

// InitiatePurchaseHandler starts a purchase and returns a checkout link.
func (h *SettlementHandlers) InitiatePurchaseHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req struct {
		DocumentID uuid.UUID `json:"document_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}

	initiation, err := h.service.InitiatePurchase(r.Context(), actorID, req.DocumentID)
	if err != nil {
		h.writeServiceError(w, "initiate_purchase", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, initiation)
}

// GatewayCallbackHandler receives webhook deliveries from the payment gateway.
// A 2xx tells the gateway to stop retrying, so every handled outcome (including
// unknown references) returns 200; only transient errors return 5xx.
func (h *SettlementHandlers) GatewayCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var cb domain.GatewayCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid callback payload")
		return
	}
	// The payment reference rides on the return URL query string for redirect-style
	// deliveries and in the body for server-to-server ones.
	if cb.PaymentID == "" {
		cb.PaymentID = r.URL.Query().Get("paymentId")
	}

	if err := h.service.HandleGatewayCallback(r.Context(), cb); err != nil {
		log.Printf("level=error component=api endpoint=gateway_callback msg=\"callback processing failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Callback processing failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetPaymentHandler returns one payment.
func (h *SettlementHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	actorID, role, ok := h.actor(w, r)
	if !ok {
		return
	}
	paymentID, ok := h.pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.service.GetPayment(r.Context(), actorID, role, paymentID)
	if err != nil {
		h.writeServiceError(w, "get_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// PaymentStatsHandler returns aggregate payment totals for admins.
func (h *SettlementHandlers) PaymentStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetPaymentStats(r.Context())
	if err != nil {
		h.writeServiceError(w, "payment_stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// ReconcilePaymentHandler re-checks a pending payment against the gateway. Used
// by operators when a webhook delivery is suspected to have been missed.
func (h *SettlementHandlers) ReconcilePaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := h.pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	payment, err := h.service.ReconcilePayment(r.Context(), paymentID)
	if err != nil {
		h.writeServiceError(w, "reconcile_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// ListMyPurchasesHandler returns the caller's purchase history.
func (h *SettlementHandlers) ListMyPurchasesHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	purchases, err := h.service.ListMyPurchases(r.Context(), actorID, parseListOptions(r))
	if err != nil {
		h.writeServiceError(w, "list_purchases", err)
		return
	}
	h.writeJSON(w, http.StatusOK, purchases)
}

// EnrollFreeDocumentHandler claims a zero-priced document.
func (h *SettlementHandlers) EnrollFreeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	documentID, ok := h.pathUUID(w, r, "documentID")
	if !ok {
		return
	}

	enrollment, err := h.service.EnrollFreeDocument(r.Context(), actorID, documentID)
	if err != nil {
		h.writeServiceError(w, "enroll_free", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, enrollment)
}

// RefundEligibilityHandler reports whether the caller can open a refund request.
func (h *SettlementHandlers) RefundEligibilityHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	paymentID, ok := h.pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	eligibility, err := h.service.CanRefund(r.Context(), actorID, paymentID)
	if err != nil {
		h.writeServiceError(w, "refund_eligibility", err)
		return
	}
	h.writeJSON(w, http.StatusOK, eligibility)
}

// CreateRefundHandler opens a refund request against the caller's payment.
func (h *SettlementHandlers) CreateRefundHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}

	var payload domain.CreateRefundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.PaymentID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "payment_id, reason and bank_details are required")
		return
	}

	refund, err := h.service.CreateRefundRequest(r.Context(), actorID, payload)
	if err != nil {
		h.writeServiceError(w, "create_refund", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, refund)
}

// GetRefundHandler returns one refund request.
func (h *SettlementHandlers) GetRefundHandler(w http.ResponseWriter, r *http.Request) {
	actorID, role, ok := h.actor(w, r)
	if !ok {
		return
	}
	refundID, ok := h.pathUUID(w, r, "refundID")
	if !ok {
		return
	}

	refund, err := h.service.GetRefundRequest(r.Context(), actorID, role, refundID)
	if err != nil {
		h.writeServiceError(w, "get_refund", err)
		return
	}
	h.writeJSON(w, http.StatusOK, refund)
}

// ProcessRefundHandler applies an admin decision to a refund request.
func (h *SettlementHandlers) ProcessRefundHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	refundID, ok := h.pathUUID(w, r, "refundID")
	if !ok {
		return
	}

	var payload domain.ProcessRefundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid decision payload")
		return
	}

	refund, err := h.service.ProcessRefundRequest(r.Context(), actorID, refundID, payload)
	if err != nil {
		h.writeServiceError(w, "process_refund", err)
		return
	}
	h.writeJSON(w, http.StatusOK, refund)
}

// ListMyRefundsHandler returns the caller's refund requests.
func (h *SettlementHandlers) ListMyRefundsHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	refunds, err := h.service.ListMyRefundRequests(r.Context(), actorID, parseListOptions(r))
	if err != nil {
		h.writeServiceError(w, "list_my_refunds", err)
		return
	}
	h.writeJSON(w, http.StatusOK, refunds)
}

// ListSellerRefundsHandler returns the refund requests raised against the caller.
func (h *SettlementHandlers) ListSellerRefundsHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	refunds, err := h.service.ListSellerRefundRequests(r.Context(), actorID, parseListOptions(r))
	if err != nil {
		h.writeServiceError(w, "list_seller_refunds", err)
		return
	}
	h.writeJSON(w, http.StatusOK, refunds)
}

// ListAllRefundsHandler returns every refund request for admins.
func (h *SettlementHandlers) ListAllRefundsHandler(w http.ResponseWriter, r *http.Request) {
	refunds, err := h.service.ListAllRefundRequests(r.Context(), parseListOptions(r))
	if err != nil {
		h.writeServiceError(w, "list_refunds", err)
		return
	}
	h.writeJSON(w, http.StatusOK, refunds)
}

// RefundStatsHandler returns refund aggregates. Admins see the whole platform,
// sellers only their own slice.
func (h *SettlementHandlers) RefundStatsHandler(w http.ResponseWriter, r *http.Request) {
	actorID, role, ok := h.actor(w, r)
	if !ok {
		return
	}

	var sellerID *uuid.UUID
	if role != domain.RoleAdmin {
		sellerID = &actorID
	}
	stats, err := h.service.GetRefundStats(r.Context(), sellerID)
	if err != nil {
		h.writeServiceError(w, "refund_stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// GetSellerWalletHandler returns the caller's wallet.
func (h *SettlementHandlers) GetSellerWalletHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	wallet, err := h.service.GetSellerWallet(r.Context(), actorID)
	if err != nil {
		h.writeServiceError(w, "get_wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// GetPlatformWalletHandler returns the platform ledger for admins.
func (h *SettlementHandlers) GetPlatformWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.GetPlatformWallet(r.Context())
	if err != nil {
		h.writeServiceError(w, "get_platform_wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// RequestWithdrawalHandler opens a withdrawal request for the caller.
func (h *SettlementHandlers) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}

	var payload domain.CreateWithdrawalPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid withdrawal payload")
		return
	}

	request, err := h.service.RequestWithdrawal(r.Context(), actorID, payload)
	if err != nil {
		h.writeServiceError(w, "request_withdrawal", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, request)
}

// ProcessWithdrawalHandler applies an admin decision to a withdrawal request.
func (h *SettlementHandlers) ProcessWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestID, ok := h.pathUUID(w, r, "requestID")
	if !ok {
		return
	}

	var payload domain.ProcessWithdrawalPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid decision payload")
		return
	}

	request, err := h.service.ProcessWithdrawal(r.Context(), actorID, requestID, payload)
	if err != nil {
		h.writeServiceError(w, "process_withdrawal", err)
		return
	}
	h.writeJSON(w, http.StatusOK, request)
}

// ListMyWithdrawalsHandler returns the caller's withdrawal requests.
func (h *SettlementHandlers) ListMyWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := h.actor(w, r)
	if !ok {
		return
	}
	requests, err := h.service.ListMyWithdrawalRequests(r.Context(), actorID, parseListOptions(r))
	if err != nil {
		h.writeServiceError(w, "list_my_withdrawals", err)
		return
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// ListAllWithdrawalsHandler returns every withdrawal request for admins.
func (h *SettlementHandlers) ListAllWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.ListAllWithdrawalRequests(r.Context(), parseListOptions(r))
	if err != nil {
		h.writeServiceError(w, "list_withdrawals", err)
		return
	}
	h.writeJSON(w, http.StatusOK, requests)
}
