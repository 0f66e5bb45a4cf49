// Package handler содержит HTTP-обработчики API биллингового сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/leadbilling-system/internal/invoicenum"
	"github.com/mmeshcher/leadbilling-system/internal/middleware"
	"github.com/mmeshcher/leadbilling-system/internal/model"
	"github.com/mmeshcher/leadbilling-system/internal/repository"
	"github.com/mmeshcher/leadbilling-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateReferral(ctx context.Context, diagnosisID, partnerID int64, fee *int64) (*service.ReferralOutcome, error)
	ListReferrals(ctx context.Context, diagnosisID, partnerID *int64) ([]model.Referral, error)
	SubmitDepositRequest(ctx context.Context, partnerID, amount int64, note string) (int64, error)
	ResolveDepositRequest(ctx context.Context, requestID int64, action string, approvedAmount *int64, adminNote string) (*int64, error)
	GetDepositRequests(ctx context.Context, partnerID int64, page, limit int) ([]model.DepositRequest, int, int64, error)
	GetLedgerHistory(ctx context.Context, partnerID int64, page, limit int) ([]model.LedgerEntry, int, error)
	GenerateInvoices(ctx context.Context, mode service.GenerationMode, year int, month time.Month) (*service.GenerationSummary, error)
	AllocateCustomerInvoiceNumber(ctx context.Context) (string, error)
	GetInvoice(ctx context.Context, invoiceID int64) (*model.Invoice, error)
	ListInvoices(ctx context.Context, partnerID *int64, status string, page, limit int) ([]model.Invoice, int, error)
	UpdateDraftInvoice(ctx context.Context, invoiceID int64, issueDate, dueDate time.Time, items []model.InvoiceItem) error
	IssueInvoice(ctx context.Context, invoiceID int64) error
	MarkInvoicePaid(ctx context.Context, invoiceID int64, paymentDate *time.Time) error
	CancelInvoice(ctx context.Context, invoiceID int64) error
}

// Handler реализует HTTP-обработчики API биллингового сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type depositSubmitRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

// SubmitDeposit принимает заявку партнёра на пополнение депозита.
func (h *Handler) SubmitDeposit(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req depositSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	requestID, err := h.service.SubmitDepositRequest(r.Context(), identity.UserID, req.Amount, req.Note)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		if errors.Is(err, repository.ErrPartnerNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("submit deposit error", zap.Error(err), zap.Int64("partnerID", identity.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     requestID,
		"status": string(model.DepositStatusPending),
	})
}

type depositRequestResponse struct {
	ID              int64  `json:"id"`
	RequestedAmount int64  `json:"requested_amount"`
	ApprovedAmount  *int64 `json:"approved_amount,omitempty"`
	Status          string `json:"status"`
	PartnerNote     string `json:"partner_note,omitempty"`
	AdminNote       string `json:"admin_note,omitempty"`
	CreatedAt       string `json:"created_at"`
	ApprovedAt      string `json:"approved_at,omitempty"`
}

// GetDeposits возвращает заявки текущего партнёра и его баланс.
func (h *Handler) GetDeposits(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	page, limit := pageParams(r)
	requests, total, balance, err := h.service.GetDepositRequests(r.Context(), identity.UserID, page, limit)
	if err != nil {
		h.logger.Error("get deposits error", zap.Error(err), zap.Int64("partnerID", identity.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]depositRequestResponse, 0, len(requests))
	for _, dr := range requests {
		item := depositRequestResponse{
			ID:              dr.ID,
			RequestedAmount: dr.RequestedAmount,
			ApprovedAmount:  dr.ApprovedAmount,
			Status:          string(dr.Status),
			PartnerNote:     dr.PartnerNote,
			AdminNote:       dr.AdminNote,
			CreatedAt:       dr.CreatedAt.Format(time.RFC3339),
		}
		if dr.ApprovedAt != nil {
			item.ApprovedAt = dr.ApprovedAt.Format(time.RFC3339)
		}
		resp = append(resp, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance":  balance,
		"total":    total,
		"requests": resp,
	})
}

type ledgerEntryResponse struct {
	ID               int64  `json:"id"`
	Amount           int64  `json:"amount"`
	Kind             string `json:"kind"`
	ResultingBalance int64  `json:"resulting_balance"`
	Description      string `json:"description"`
	ReferralID       *int64 `json:"referral_id,omitempty"`
	CreatedAt        string `json:"created_at"`
}

func (h *Handler) writeLedgerHistory(w http.ResponseWriter, r *http.Request, partnerID int64) {
	page, limit := pageParams(r)
	entries, total, err := h.service.GetLedgerHistory(r.Context(), partnerID, page, limit)
	if err != nil {
		h.logger.Error("get ledger error", zap.Error(err), zap.Int64("partnerID", partnerID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ledgerEntryResponse{
			ID:               e.ID,
			Amount:           e.Amount,
			Kind:             string(e.Kind),
			ResultingBalance: e.ResultingBalance,
			Description:      e.Description,
			ReferralID:       e.ReferralID,
			CreatedAt:        e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"entries": resp,
	})
}

// GetLedger возвращает журнал депозита текущего партнёра.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	h.writeLedgerHistory(w, r, identity.UserID)
}

// GetPartnerLedger возвращает журнал депозита произвольного партнёра.
func (h *Handler) GetPartnerLedger(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := idParam(r, "partnerID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.writeLedgerHistory(w, r, partnerID)
}

type referralCreateRequest struct {
	DiagnosisID int64  `json:"diagnosis_id"`
	PartnerID   int64  `json:"partner_id"`
	Fee         *int64 `json:"fee,omitempty"`
}

type referralOutcomeResponse struct {
	ReferralID    int64 `json:"referral_id"`
	FeeCharged    int64 `json:"fee_charged"`
	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`
	EmailSent     bool  `json:"email_sent"`
}

// CreateReferral передаёт лид партнёру и списывает комиссию с депозита.
func (h *Handler) CreateReferral(w http.ResponseWriter, r *http.Request) {
	var req referralCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.DiagnosisID <= 0 || req.PartnerID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	outcome, err := h.service.CreateReferral(r.Context(), req.DiagnosisID, req.PartnerID, req.Fee)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrDiagnosisNotFound), errors.Is(err, repository.ErrPartnerNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrDuplicateReferral):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, repository.ErrInsufficientBalance):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("create referral error", zap.Error(err),
				zap.Int64("diagnosisID", req.DiagnosisID), zap.Int64("partnerID", req.PartnerID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, referralOutcomeResponse{
		ReferralID:    outcome.ReferralID,
		FeeCharged:    outcome.FeeCharged,
		BalanceBefore: outcome.BalanceBefore,
		BalanceAfter:  outcome.BalanceAfter,
		EmailSent:     outcome.EmailSent,
	})
}

type referralResponse struct {
	ID          int64  `json:"id"`
	DiagnosisID int64  `json:"diagnosis_id"`
	PartnerID   int64  `json:"partner_id"`
	ReferralFee int64  `json:"referral_fee"`
	EmailSent   bool   `json:"email_sent"`
	CreatedAt   string `json:"created_at"`
}

func optionalIDQuery(r *http.Request, name string) (*int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &id, true
}

// ListReferrals возвращает передачи лидов с необязательными фильтрами.
func (h *Handler) ListReferrals(w http.ResponseWriter, r *http.Request) {
	diagnosisID, ok := optionalIDQuery(r, "diagnosis_id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	partnerID, ok := optionalIDQuery(r, "partner_id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	referrals, err := h.service.ListReferrals(r.Context(), diagnosisID, partnerID)
	if err != nil {
		h.logger.Error("list referrals error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(referrals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]referralResponse, 0, len(referrals))
	for _, ref := range referrals {
		resp = append(resp, referralResponse{
			ID:          ref.ID,
			DiagnosisID: ref.DiagnosisID,
			PartnerID:   ref.PartnerID,
			ReferralFee: ref.ReferralFee,
			EmailSent:   ref.EmailSent,
			CreatedAt:   ref.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type depositResolveRequest struct {
	Action         string `json:"action"`
	ApprovedAmount *int64 `json:"approved_amount,omitempty"`
	AdminNote      string `json:"admin_note,omitempty"`
}

// ResolveDeposit одобряет или отклоняет заявку на пополнение депозита.
// Одобренная сумма может отличаться от запрошенной.
func (h *Handler) ResolveDeposit(w http.ResponseWriter, r *http.Request) {
	requestID, ok := idParam(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req depositResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	newBalance, err := h.service.ResolveDepositRequest(r.Context(), requestID, req.Action, req.ApprovedAmount, req.AdminNote)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAction), errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrRequestNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrRequestAlreadyResolved):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("resolve deposit error", zap.Error(err), zap.Int64("requestID", requestID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	status := model.DepositStatusRejected
	if newBalance != nil {
		status = model.DepositStatusApproved
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      string(status),
		"new_balance": newBalance,
	})
}

type generateRequest struct {
	Mode  string `json:"mode"`
	Year  int    `json:"year,omitempty"`
	Month int    `json:"month,omitempty"`
}

// GenerateInvoices запускает пакетную генерацию счетов.
func (h *Handler) GenerateInvoices(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	summary, err := h.service.GenerateInvoices(r.Context(), service.GenerationMode(req.Mode), req.Year, time.Month(req.Month))
	if err != nil {
		if errors.Is(err, service.ErrUnknownMode) || errors.Is(err, service.ErrInvalidPeriod) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("generate invoices error", zap.Error(err), zap.String("mode", req.Mode))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// AllocateCustomerNumber резервирует следующий номер клиентского счёта
// для подсистемы сопровождения сделок.
func (h *Handler) AllocateCustomerNumber(w http.ResponseWriter, r *http.Request) {
	number, err := h.service.AllocateCustomerInvoiceNumber(r.Context())
	if err != nil {
		if errors.Is(err, invoicenum.ErrSequenceExhausted) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("allocate customer invoice number error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"number": number})
}

type invoiceItemResponse struct {
	ID             int64  `json:"id"`
	Description    string `json:"description"`
	Amount         int64  `json:"amount"`
	RelatedOrderID *int64 `json:"related_order_id,omitempty"`
}

type invoiceResponse struct {
	ID          int64                 `json:"id"`
	Number      string                `json:"number"`
	PartnerID   int64                 `json:"partner_id"`
	PeriodStart string                `json:"period_start"`
	PeriodEnd   string                `json:"period_end"`
	IssueDate   string                `json:"issue_date"`
	DueDate     string                `json:"due_date"`
	TotalAmount int64                 `json:"total_amount"`
	TaxAmount   int64                 `json:"tax_amount"`
	GrandTotal  int64                 `json:"grand_total"`
	Status      string                `json:"status"`
	PaymentDate string                `json:"payment_date,omitempty"`
	Items       []invoiceItemResponse `json:"items,omitempty"`
}

func toInvoiceResponse(inv model.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:          inv.ID,
		Number:      inv.Number,
		PartnerID:   inv.PartnerID,
		PeriodStart: inv.PeriodStart.Format(time.RFC3339),
		PeriodEnd:   inv.PeriodEnd.Format(time.RFC3339),
		IssueDate:   inv.IssueDate.Format(time.RFC3339),
		DueDate:     inv.DueDate.Format(time.RFC3339),
		TotalAmount: inv.TotalAmount,
		TaxAmount:   inv.TaxAmount,
		GrandTotal:  inv.GrandTotal,
		Status:      string(inv.Status),
	}
	if inv.PaymentDate != nil {
		resp.PaymentDate = inv.PaymentDate.Format(time.RFC3339)
	}
	for _, item := range inv.Items {
		resp.Items = append(resp.Items, invoiceItemResponse{
			ID:             item.ID,
			Description:    item.Description,
			Amount:         item.Amount,
			RelatedOrderID: item.RelatedOrderID,
		})
	}
	return resp
}

// GetInvoice возвращает счёт со строками.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := idParam(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	inv, err := h.service.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get invoice error", zap.Error(err), zap.Int64("invoiceID", invoiceID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceResponse(*inv))
}

// GetPartnerInvoices возвращает счета текущего партнёра.
func (h *Handler) GetPartnerInvoices(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	page, limit := pageParams(r)
	status := r.URL.Query().Get("status")

	invoices, total, err := h.service.ListInvoices(r.Context(), &identity.UserID, status, page, limit)
	if err != nil {
		h.logger.Error("list invoices error", zap.Error(err), zap.Int64("partnerID", identity.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		resp = append(resp, toInvoiceResponse(inv))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":    total,
		"invoices": resp,
	})
}

type invoiceItemRequest struct {
	Description    string `json:"description"`
	Amount         int64  `json:"amount"`
	RelatedOrderID *int64 `json:"related_order_id,omitempty"`
}

type invoiceUpdateRequest struct {
	IssueDate string               `json:"issue_date"`
	DueDate   string               `json:"due_date"`
	Items     []invoiceItemRequest `json:"items"`
}

// UpdateInvoice заменяет строки черновика счёта. Итоги пересчитываются
// сервисом заново из присланных строк.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := idParam(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req invoiceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	issueDate, err := time.Parse(time.RFC3339, req.IssueDate)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	dueDate, err := time.Parse(time.RFC3339, req.DueDate)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	items := make([]model.InvoiceItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, model.InvoiceItem{
			Description:    item.Description,
			Amount:         item.Amount,
			RelatedOrderID: item.RelatedOrderID,
		})
	}

	err = h.service.UpdateDraftInvoice(r.Context(), invoiceID, issueDate, dueDate, items)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoItems), errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrInvoiceNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInvoiceNotDraft), errors.Is(err, repository.ErrOrderAlreadyBilled):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("update invoice error", zap.Error(err), zap.Int64("invoiceID", invoiceID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) transitionInvoice(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, invoiceID int64) error) {
	invoiceID, ok := idParam(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := fn(r.Context(), invoiceID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInvoiceNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInvoiceNotDraft),
			errors.Is(err, repository.ErrInvoiceNotUnpaid),
			errors.Is(err, repository.ErrInvoiceClosed):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error(op+" invoice error", zap.Error(err), zap.Int64("invoiceID", invoiceID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// IssueInvoice выпускает черновик счёта.
func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	h.transitionInvoice(w, r, "issue", h.service.IssueInvoice)
}

type payRequest struct {
	PaymentDate string `json:"payment_date,omitempty"`
}

// PayInvoice фиксирует оплату счёта.
func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	var paymentDate *time.Time
	if req.PaymentDate != "" {
		parsed, err := time.Parse(time.RFC3339, req.PaymentDate)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		paymentDate = &parsed
	}

	h.transitionInvoice(w, r, "pay", func(ctx context.Context, invoiceID int64) error {
		return h.service.MarkInvoicePaid(ctx, invoiceID, paymentDate)
	})
}

// CancelInvoice отменяет счёт.
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	h.transitionInvoice(w, r, "cancel", h.service.CancelInvoice)
}
