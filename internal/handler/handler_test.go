package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/leadbilling-system/internal/invoicenum"
	"github.com/mmeshcher/leadbilling-system/internal/middleware"
	"github.com/mmeshcher/leadbilling-system/internal/model"
	"github.com/mmeshcher/leadbilling-system/internal/repository"
	"github.com/mmeshcher/leadbilling-system/internal/service"
)

type stubService struct {
	referralOutcome *service.ReferralOutcome
	referralErr     error

	referralsResp []model.Referral
	referralsErr  error

	submitRequestID int64
	submitErr       error

	resolveBalance *int64
	resolveErr     error

	depositsResp    []model.DepositRequest
	depositsTotal   int
	depositsBalance int64
	depositsErr     error

	ledgerResp  []model.LedgerEntry
	ledgerTotal int
	ledgerErr   error

	generateSummary *service.GenerationSummary
	generateErr     error

	customerNumber    string
	customerNumberErr error

	invoiceResp *model.Invoice
	invoiceErr  error

	invoicesResp  []model.Invoice
	invoicesTotal int
	invoicesErr   error

	updateErr error
	issueErr  error
	payErr    error
	cancelErr error
}

func (s *stubService) CreateReferral(ctx context.Context, diagnosisID, partnerID int64, fee *int64) (*service.ReferralOutcome, error) {
	return s.referralOutcome, s.referralErr
}

func (s *stubService) ListReferrals(ctx context.Context, diagnosisID, partnerID *int64) ([]model.Referral, error) {
	return s.referralsResp, s.referralsErr
}

func (s *stubService) SubmitDepositRequest(ctx context.Context, partnerID, amount int64, note string) (int64, error) {
	return s.submitRequestID, s.submitErr
}

func (s *stubService) ResolveDepositRequest(ctx context.Context, requestID int64, action string, approvedAmount *int64, adminNote string) (*int64, error) {
	return s.resolveBalance, s.resolveErr
}

func (s *stubService) GetDepositRequests(ctx context.Context, partnerID int64, page, limit int) ([]model.DepositRequest, int, int64, error) {
	return s.depositsResp, s.depositsTotal, s.depositsBalance, s.depositsErr
}

func (s *stubService) GetLedgerHistory(ctx context.Context, partnerID int64, page, limit int) ([]model.LedgerEntry, int, error) {
	return s.ledgerResp, s.ledgerTotal, s.ledgerErr
}

func (s *stubService) GenerateInvoices(ctx context.Context, mode service.GenerationMode, year int, month time.Month) (*service.GenerationSummary, error) {
	return s.generateSummary, s.generateErr
}

func (s *stubService) AllocateCustomerInvoiceNumber(ctx context.Context) (string, error) {
	return s.customerNumber, s.customerNumberErr
}

func (s *stubService) GetInvoice(ctx context.Context, invoiceID int64) (*model.Invoice, error) {
	return s.invoiceResp, s.invoiceErr
}

func (s *stubService) ListInvoices(ctx context.Context, partnerID *int64, status string, page, limit int) ([]model.Invoice, int, error) {
	return s.invoicesResp, s.invoicesTotal, s.invoicesErr
}

func (s *stubService) UpdateDraftInvoice(ctx context.Context, invoiceID int64, issueDate, dueDate time.Time, items []model.InvoiceItem) error {
	return s.updateErr
}

func (s *stubService) IssueInvoice(ctx context.Context, invoiceID int64) error {
	return s.issueErr
}

func (s *stubService) MarkInvoicePaid(ctx context.Context, invoiceID int64, paymentDate *time.Time) error {
	return s.payErr
}

func (s *stubService) CancelInvoice(ctx context.Context, invoiceID int64) error {
	return s.cancelErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func authCookie(h *Handler, userID int64, role middleware.Role) *http.Cookie {
	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, userID, role)
	return rec.Result().Cookies()[0]
}

func doRequest(h *Handler, method, target string, body []byte, cookie *http.Cookie) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func TestSubmitDeposit_Created(t *testing.T) {
	svc := &stubService{submitRequestID: 7}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(depositSubmitRequest{Amount: 100000, Note: "monthly top-up"})
	res := doRequest(h, http.MethodPost, "/api/partner/deposits", body, authCookie(h, 3, middleware.RolePartner))
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "PENDING" {
		t.Fatalf("status = %v, want PENDING", resp["status"])
	}
}

func TestSubmitDeposit_InvalidAmount(t *testing.T) {
	svc := &stubService{submitErr: service.ErrInvalidAmount}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(depositSubmitRequest{Amount: -5})
	res := doRequest(h, http.MethodPost, "/api/partner/deposits", body, authCookie(h, 3, middleware.RolePartner))
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestSubmitDeposit_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(depositSubmitRequest{Amount: 100000})
	res := doRequest(h, http.MethodPost, "/api/partner/deposits", body, nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestGetDeposits_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	approved := int64(95000)
	svc := &stubService{
		depositsResp: []model.DepositRequest{
			{
				ID:              1,
				PartnerID:       3,
				RequestedAmount: 100000,
				ApprovedAmount:  &approved,
				Status:          model.DepositStatusApproved,
				CreatedAt:       now,
				ApprovedAt:      &now,
			},
		},
		depositsTotal:   1,
		depositsBalance: 95000,
	}
	h := newTestHandler(t, svc)

	res := doRequest(h, http.MethodGet, "/api/partner/deposits", nil, authCookie(h, 3, middleware.RolePartner))
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp struct {
		Balance  int64                    `json:"balance"`
		Total    int                      `json:"total"`
		Requests []depositRequestResponse `json:"requests"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Balance != 95000 {
		t.Fatalf("balance = %d, want 95000", resp.Balance)
	}
	if len(resp.Requests) != 1 || resp.Requests[0].ApprovedAmount == nil || *resp.Requests[0].ApprovedAmount != 95000 {
		t.Fatalf("unexpected requests: %+v", resp.Requests)
	}
}

func TestCreateReferral_Success(t *testing.T) {
	svc := &stubService{
		referralOutcome: &service.ReferralOutcome{
			ReferralID:    10,
			FeeCharged:    30000,
			BalanceBefore: 50000,
			BalanceAfter:  20000,
			EmailSent:     true,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(referralCreateRequest{DiagnosisID: 5, PartnerID: 3})
	res := doRequest(h, http.MethodPost, "/api/admin/referrals", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp referralOutcomeResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.BalanceAfter != 20000 || !resp.EmailSent {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateReferral_InsufficientBalance(t *testing.T) {
	svc := &stubService{referralErr: repository.ErrInsufficientBalance}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(referralCreateRequest{DiagnosisID: 5, PartnerID: 3})
	res := doRequest(h, http.MethodPost, "/api/admin/referrals", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusPaymentRequired)
	}
}

func TestCreateReferral_Duplicate(t *testing.T) {
	svc := &stubService{referralErr: repository.ErrDuplicateReferral}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(referralCreateRequest{DiagnosisID: 5, PartnerID: 3})
	res := doRequest(h, http.MethodPost, "/api/admin/referrals", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestCreateReferral_PartnerForbidden(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(referralCreateRequest{DiagnosisID: 5, PartnerID: 3})
	res := doRequest(h, http.MethodPost, "/api/admin/referrals", body, authCookie(h, 3, middleware.RolePartner))
	defer res.Body.Close()

	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestListReferrals_NoContent(t *testing.T) {
	svc := &stubService{referralsResp: []model.Referral{}}
	h := newTestHandler(t, svc)

	res := doRequest(h, http.MethodGet, "/api/admin/referrals", nil, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestResolveDeposit_Approved(t *testing.T) {
	balance := int64(145000)
	svc := &stubService{resolveBalance: &balance}
	h := newTestHandler(t, svc)

	amount := int64(95000)
	body, _ := json.Marshal(depositResolveRequest{Action: "approve", ApprovedAmount: &amount})
	res := doRequest(h, http.MethodPut, "/api/admin/deposits/12", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp struct {
		Status     string `json:"status"`
		NewBalance *int64 `json:"new_balance"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "APPROVED" || resp.NewBalance == nil || *resp.NewBalance != 145000 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestResolveDeposit_AlreadyResolved(t *testing.T) {
	svc := &stubService{resolveErr: repository.ErrRequestAlreadyResolved}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(depositResolveRequest{Action: "reject"})
	res := doRequest(h, http.MethodPut, "/api/admin/deposits/12", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestResolveDeposit_InvalidAction(t *testing.T) {
	svc := &stubService{resolveErr: service.ErrInvalidAction}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(depositResolveRequest{Action: "postpone"})
	res := doRequest(h, http.MethodPut, "/api/admin/deposits/12", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestGenerateInvoices_Success(t *testing.T) {
	svc := &stubService{
		generateSummary: &service.GenerationSummary{
			Generated: 2,
			Results: []service.PartnerResult{
				{PartnerID: 3, CompanyName: "Alpha Builders", InvoiceNumber: "COMP-202508-0001", GrandTotal: 165000},
				{PartnerID: 4, CompanyName: "Beta Roofing", InvoiceNumber: "COMP-202508-0002", GrandTotal: 55000},
			},
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(generateRequest{Mode: "monthly", Year: 2025, Month: 8})
	res := doRequest(h, http.MethodPost, "/api/admin/invoices/generate", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp service.GenerationSummary
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Generated != 2 || len(resp.Results) != 2 {
		t.Fatalf("unexpected summary: %+v", resp)
	}
}

func TestGenerateInvoices_UnknownMode(t *testing.T) {
	svc := &stubService{generateErr: service.ErrUnknownMode}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(generateRequest{Mode: "weekly"})
	res := doRequest(h, http.MethodPost, "/api/admin/invoices/generate", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestAllocateCustomerNumber_Created(t *testing.T) {
	svc := &stubService{customerNumber: "INV-2025-0001"}
	h := newTestHandler(t, svc)

	res := doRequest(h, http.MethodPost, "/api/admin/customer-invoices/number", nil, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp map[string]string
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["number"] != "INV-2025-0001" {
		t.Fatalf("number = %q, want INV-2025-0001", resp["number"])
	}
}

func TestAllocateCustomerNumber_Exhausted(t *testing.T) {
	svc := &stubService{customerNumberErr: invoicenum.ErrSequenceExhausted}
	h := newTestHandler(t, svc)

	res := doRequest(h, http.MethodPost, "/api/admin/customer-invoices/number", nil, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestGetInvoice_NotFound(t *testing.T) {
	svc := &stubService{invoiceErr: repository.ErrInvoiceNotFound}
	h := newTestHandler(t, svc)

	res := doRequest(h, http.MethodGet, "/api/admin/invoices/99", nil, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestUpdateInvoice_NotDraft(t *testing.T) {
	svc := &stubService{updateErr: repository.ErrInvoiceNotDraft}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(invoiceUpdateRequest{
		IssueDate: "2025-09-01T00:00:00Z",
		DueDate:   "2025-10-20T00:00:00Z",
		Items: []invoiceItemRequest{
			{Description: "Monthly service fee", Amount: 30000},
		},
	})
	res := doRequest(h, http.MethodPut, "/api/admin/invoices/5", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestUpdateInvoice_NoItems(t *testing.T) {
	svc := &stubService{updateErr: service.ErrNoItems}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(invoiceUpdateRequest{
		IssueDate: "2025-09-01T00:00:00Z",
		DueDate:   "2025-10-20T00:00:00Z",
	})
	res := doRequest(h, http.MethodPut, "/api/admin/invoices/5", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestIssueInvoice_Success(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(h, http.MethodPost, "/api/admin/invoices/5/issue", nil, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestPayInvoice_InvalidDate(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(payRequest{PaymentDate: "yesterday"})
	res := doRequest(h, http.MethodPost, "/api/admin/invoices/5/pay", body, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestCancelInvoice_Closed(t *testing.T) {
	svc := &stubService{cancelErr: repository.ErrInvoiceClosed}
	h := newTestHandler(t, svc)

	res := doRequest(h, http.MethodPost, "/api/admin/invoices/5/cancel", nil, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestGetPartnerLedger_Admin(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		ledgerResp: []model.LedgerEntry{
			{ID: 1, PartnerID: 3, Amount: 100000, Kind: model.EntryKindDeposit, ResultingBalance: 100000, CreatedAt: now},
			{ID: 2, PartnerID: 3, Amount: -30000, Kind: model.EntryKindDeduction, ResultingBalance: 70000, CreatedAt: now},
		},
		ledgerTotal: 2,
	}
	h := newTestHandler(t, svc)

	res := doRequest(h, http.MethodGet, "/api/admin/ledger/3", nil, authCookie(h, 1, middleware.RoleAdmin))
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp struct {
		Total   int                   `json:"total"`
		Entries []ledgerEntryResponse `json:"entries"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 2 || len(resp.Entries) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Entries[1].ResultingBalance != 70000 {
		t.Fatalf("resulting balance = %d, want 70000", resp.Entries[1].ResultingBalance)
	}
}

func TestGetPartnerInvoices_JSONResponse(t *testing.T) {
	svc := &stubService{
		invoicesResp: []model.Invoice{
			{
				ID:          1,
				Number:      "COMP-202508-0001",
				PartnerID:   3,
				TotalAmount: 150000,
				TaxAmount:   15000,
				GrandTotal:  165000,
				Status:      model.InvoiceStatusUnpaid,
			},
		},
		invoicesTotal: 1,
	}
	h := newTestHandler(t, svc)

	res := doRequest(h, http.MethodGet, "/api/partner/invoices?status=UNPAID", nil, authCookie(h, 3, middleware.RolePartner))
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp struct {
		Total    int               `json:"total"`
		Invoices []invoiceResponse `json:"invoices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Invoices) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Invoices[0].GrandTotal != 165000 {
		t.Fatalf("grand total = %d, want 165000", resp.Invoices[0].GrandTotal)
	}
}
