// Package service реализует бизнес-логику биллингового сервиса.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/leadbilling-system/internal/billing"
	"github.com/mmeshcher/leadbilling-system/internal/invoicenum"
	"github.com/mmeshcher/leadbilling-system/internal/model"
	"github.com/mmeshcher/leadbilling-system/internal/notify"
	"github.com/mmeshcher/leadbilling-system/internal/repository"
)

// defaultReferralFee используется, когда ни запрос, ни диагностика
// не задают цену лида.
const defaultReferralFee = 30000

// ErrInvalidAmount возвращается при неположительной сумме.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidAction возвращается при неизвестном действии над заявкой.
	ErrInvalidAction = errors.New(`action must be "approve" or "reject"`)
	// ErrUnknownMode возвращается при неизвестном режиме генерации счетов.
	ErrUnknownMode = errors.New(`mode must be "monthly" or "unbilled"`)
	// ErrInvalidPeriod возвращается, если месячному режиму не передан период.
	ErrInvalidPeriod = errors.New("monthly mode requires valid year and month")
	// ErrNoItems возвращается при попытке сохранить счёт без строк.
	ErrNoItems = errors.New("invoice must have at least one item")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetPartner(ctx context.Context, partnerID int64) (*model.Partner, error)
	GetDiagnosis(ctx context.Context, diagnosisID int64) (*model.Diagnosis, error)
	GetBalance(ctx context.Context, partnerID int64) (int64, error)
	CreateReferral(ctx context.Context, diagnosisID, partnerID, fee int64, description string) (*repository.ReferralResult, error)
	MarkReferralNotified(ctx context.Context, referralID int64) error
	ListReferrals(ctx context.Context, diagnosisID, partnerID *int64) ([]model.Referral, error)
	CreateDepositRequest(ctx context.Context, partnerID, amount int64, note string) (int64, error)
	GetDepositRequests(ctx context.Context, partnerID int64, page, limit int) ([]model.DepositRequest, int, error)
	ResolveDepositRequest(ctx context.Context, requestID int64, approve bool, approvedAmount int64, adminNote string) (int64, error)
	GetLedgerHistory(ctx context.Context, partnerID int64, page, limit int) ([]model.LedgerEntry, int, error)
	ListBillingPartners(ctx context.Context) ([]repository.BillingPartner, error)
	NextInvoiceNumber(ctx context.Context, scope invoicenum.Scope, at time.Time) (string, error)
	GetBillableOrders(ctx context.Context, partnerID int64, from, to time.Time, excludeBilled bool) ([]model.Order, error)
	CreateInvoice(ctx context.Context, inv *model.Invoice, orderIDs []int64) error
	GetInvoice(ctx context.Context, invoiceID int64) (*model.Invoice, error)
	ListInvoices(ctx context.Context, partnerID *int64, status string, page, limit int) ([]model.Invoice, int, error)
	UpdateDraftInvoice(ctx context.Context, invoiceID int64, issueDate, dueDate time.Time, items []model.InvoiceItem, totalAmount, taxAmount, grandTotal int64) error
	IssueInvoice(ctx context.Context, invoiceID int64, issueDate, dueDate time.Time) error
	MarkInvoicePaid(ctx context.Context, invoiceID int64, paymentDate time.Time) error
	CancelInvoice(ctx context.Context, invoiceID int64) error
	SweepOverdueInvoices(ctx context.Context, asOf time.Time) (int64, error)
}

// Notifier описывает побочный канал уведомлений партнёров.
type Notifier interface {
	SendReferralCreated(ctx context.Context, n notify.ReferralNotification) error
}

// Service содержит бизнес-логику биллингового сервиса.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
	settings billing.Settings
}

// NewService создаёт новый сервис с указанным репозиторием, клиентом
// уведомлений и настройками биллинга.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, settings billing.Settings) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		settings: settings,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// ReferralOutcome описывает результат передачи лида партнёру.
type ReferralOutcome struct {
	ReferralID    int64
	FeeCharged    int64
	BalanceBefore int64
	BalanceAfter  int64
	EmailSent     bool
}

// CreateReferral передаёт лид партнёру: создаёт Referral и списывает
// комиссию с депозита в одной транзакции. Уведомление отправляется после
// коммита; его сбой фиксируется в логе и не влияет на результат.
func (s *Service) CreateReferral(ctx context.Context, diagnosisID, partnerID int64, fee *int64) (*ReferralOutcome, error) {
	if fee != nil && *fee <= 0 {
		return nil, ErrInvalidAmount
	}

	diagnosis, err := s.repo.GetDiagnosis(ctx, diagnosisID)
	if err != nil {
		return nil, err
	}

	partner, err := s.repo.GetPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	// Приоритет цены лида: явная из запроса, затем из диагностики,
	// затем платформенная по умолчанию.
	charge := int64(defaultReferralFee)
	if diagnosis.ReferralFee != nil && *diagnosis.ReferralFee > 0 {
		charge = *diagnosis.ReferralFee
	}
	if fee != nil {
		charge = *fee
	}

	description := fmt.Sprintf("Referral fee (diagnosis %s)", diagnosis.Number)

	result, err := s.repo.CreateReferral(ctx, diagnosisID, partnerID, charge, description)
	if err != nil {
		return nil, err
	}

	outcome := &ReferralOutcome{
		ReferralID:    result.ReferralID,
		FeeCharged:    result.FeeCharged,
		BalanceBefore: result.BalanceBefore,
		BalanceAfter:  result.BalanceAfter,
	}

	if s.notifier != nil {
		notification := notify.ReferralNotification{
			PartnerID:        partner.ID,
			PartnerEmail:     partner.Email,
			CompanyName:      partner.CompanyName,
			DiagnosisNumber:  diagnosis.Number,
			CustomerName:     diagnosis.CustomerName,
			ReferralFee:      result.FeeCharged,
			RemainingBalance: result.BalanceAfter,
		}

		if err := s.notifier.SendReferralCreated(ctx, notification); err != nil {
			s.logger.Warn("referral notification failed",
				zap.Int64("referralID", result.ReferralID), zap.Error(err))
		} else {
			outcome.EmailSent = true
			if err := s.repo.MarkReferralNotified(ctx, result.ReferralID); err != nil {
				s.logger.Warn("mark referral notified failed",
					zap.Int64("referralID", result.ReferralID), zap.Error(err))
			}
		}
	}

	return outcome, nil
}

// ListReferrals возвращает передачи лидов с необязательными фильтрами.
func (s *Service) ListReferrals(ctx context.Context, diagnosisID, partnerID *int64) ([]model.Referral, error) {
	return s.repo.ListReferrals(ctx, diagnosisID, partnerID)
}

// SubmitDepositRequest создаёт заявку партнёра на пополнение депозита.
func (s *Service) SubmitDepositRequest(ctx context.Context, partnerID, amount int64, note string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.repo.CreateDepositRequest(ctx, partnerID, amount, note)
}

// ResolveDepositRequest обрабатывает заявку: approve зачисляет
// approvedAmount (может отличаться от запрошенной суммы) и возвращает
// новый баланс; reject денег не двигает и возвращает nil.
func (s *Service) ResolveDepositRequest(ctx context.Context, requestID int64, action string, approvedAmount *int64, adminNote string) (*int64, error) {
	switch action {
	case "approve":
		if approvedAmount == nil || *approvedAmount <= 0 {
			return nil, ErrInvalidAmount
		}
		newBalance, err := s.repo.ResolveDepositRequest(ctx, requestID, true, *approvedAmount, adminNote)
		if err != nil {
			return nil, err
		}
		return &newBalance, nil
	case "reject":
		if _, err := s.repo.ResolveDepositRequest(ctx, requestID, false, 0, adminNote); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, ErrInvalidAction
	}
}

// GetDepositRequests возвращает заявки партнёра и его текущий баланс.
func (s *Service) GetDepositRequests(ctx context.Context, partnerID int64, page, limit int) ([]model.DepositRequest, int, int64, error) {
	page, limit = normalizePage(page, limit)

	requests, total, err := s.repo.GetDepositRequests(ctx, partnerID, page, limit)
	if err != nil {
		return nil, 0, 0, err
	}

	balance, err := s.repo.GetBalance(ctx, partnerID)
	if err != nil {
		return nil, 0, 0, err
	}

	return requests, total, balance, nil
}

// GetLedgerHistory возвращает журнал депозита партнёра постранично.
func (s *Service) GetLedgerHistory(ctx context.Context, partnerID int64, page, limit int) ([]model.LedgerEntry, int, error) {
	page, limit = normalizePage(page, limit)
	return s.repo.GetLedgerHistory(ctx, partnerID, page, limit)
}

// AllocateCustomerInvoiceNumber резервирует следующий номер клиентского
// счёта (годовая последовательность INV). Сами клиентские счета ведёт
// подсистема сопровождения сделок; биллинг владеет только нумерацией.
func (s *Service) AllocateCustomerInvoiceNumber(ctx context.Context) (string, error) {
	return s.repo.NextInvoiceNumber(ctx, invoicenum.ScopeCustomer, time.Now())
}

// GetInvoice возвращает счёт со строками.
func (s *Service) GetInvoice(ctx context.Context, invoiceID int64) (*model.Invoice, error) {
	return s.repo.GetInvoice(ctx, invoiceID)
}

// ListInvoices возвращает счета постранично.
func (s *Service) ListInvoices(ctx context.Context, partnerID *int64, status string, page, limit int) ([]model.Invoice, int, error) {
	page, limit = normalizePage(page, limit)
	return s.repo.ListInvoices(ctx, partnerID, status, page, limit)
}

// UpdateDraftInvoice заменяет строки черновика и пересчитывает итоги
// заново из новых строк: сохранённые итоги не могут разойтись со строками.
func (s *Service) UpdateDraftInvoice(ctx context.Context, invoiceID int64, issueDate, dueDate time.Time, items []model.InvoiceItem) error {
	if len(items) == 0 {
		return ErrNoItems
	}

	total := billing.SumItems(items)
	if total < 0 {
		return ErrInvalidAmount
	}
	tax := billing.CalculateTax(total, s.settings.TaxRate)

	return s.repo.UpdateDraftInvoice(ctx, invoiceID, issueDate, dueDate, items, total, tax, total+tax)
}

// IssueInvoice выпускает черновик: счёт получает сегодняшнюю дату
// выставления и срок оплаты в следующем месяце.
func (s *Service) IssueInvoice(ctx context.Context, invoiceID int64) error {
	issueDate := time.Now()
	dueDate := billing.DueDate(issueDate, s.settings.PaymentDay)
	return s.repo.IssueInvoice(ctx, invoiceID, issueDate, dueDate)
}

// MarkInvoicePaid фиксирует подтверждение банковского перевода.
func (s *Service) MarkInvoicePaid(ctx context.Context, invoiceID int64, paymentDate *time.Time) error {
	when := time.Now()
	if paymentDate != nil {
		when = *paymentDate
	}
	return s.repo.MarkInvoicePaid(ctx, invoiceID, when)
}

// CancelInvoice отменяет счёт из DRAFT или UNPAID.
func (s *Service) CancelInvoice(ctx context.Context, invoiceID int64) error {
	return s.repo.CancelInvoice(ctx, invoiceID)
}

// StartOverdueSweeps запускает фоновый процесс перевода просроченных
// счетов в OVERDUE.
func (s *Service) StartOverdueSweeps(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.sweepOverdue(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepOverdue(ctx)
			}
		}
	}()
}

func (s *Service) sweepOverdue(ctx context.Context) {
	n, err := s.repo.SweepOverdueInvoices(ctx, time.Now())
	if err != nil {
		s.logger.Error("overdue sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("invoices marked overdue", zap.Int64("count", n))
	}
}
