// Package model содержит доменные сущности биллингового сервиса.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Partner представляет аккаунт партнёра-подрядчика с депозитным балансом.
// Все денежные суммы хранятся в целых иенах.
type Partner struct {
	ID                  int64
	CompanyName         string
	Email               string
	DepositBalance      int64
	MonthlyDesiredLeads int
	MonthlyLeadsCount   int
	FeePlanID           *int64
	CreatedAt           time.Time
}

// LedgerEntryKind описывает тип записи в журнале депозита.
type LedgerEntryKind string

const (
	EntryKindDeposit   LedgerEntryKind = "DEPOSIT"
	EntryKindDeduction LedgerEntryKind = "DEDUCTION"
)

// LedgerEntry — неизменяемая запись журнала депозита партнёра.
// Записи только добавляются: resulting_balance каждой строки равен
// resulting_balance предыдущей плюс amount текущей.
type LedgerEntry struct {
	ID               int64
	PartnerID        int64
	Amount           int64
	Kind             LedgerEntryKind
	ResultingBalance int64
	Description      string
	ReferralID       *int64
	CreatedAt        time.Time
}

// DepositRequestStatus описывает статус заявки на пополнение депозита.
type DepositRequestStatus string

const (
	DepositStatusPending  DepositRequestStatus = "PENDING"
	DepositStatusApproved DepositRequestStatus = "APPROVED"
	DepositStatusRejected DepositRequestStatus = "REJECTED"
)

// DepositRequest — заявка партнёра на пополнение депозита.
// PENDING — единственное нетерминальное состояние.
type DepositRequest struct {
	ID              int64
	PartnerID       int64
	RequestedAmount int64
	ApprovedAmount  *int64
	Status          DepositRequestStatus
	PartnerNote     string
	AdminNote       string
	CreatedAt       time.Time
	ApprovedAt      *time.Time
}

// Referral — факт передачи лида партнёру, списывается с депозита.
// Пара (DiagnosisID, PartnerID) уникальна.
type Referral struct {
	ID          int64
	DiagnosisID int64
	PartnerID   int64
	ReferralFee int64
	EmailSent   bool
	CreatedAt   time.Time
}

// Diagnosis — заявка клиента из подсистемы приёма лидов.
// Биллинг читает её только ради номера и рекомендованной цены лида.
type Diagnosis struct {
	ID           int64
	Number       string
	CustomerName string
	ReferralFee  *int64
}

// FeePlan — тарифный план партнёра. Любое подмножество правил может
// быть включено одновременно; nil означает, что правило не применяется.
type FeePlan struct {
	ID             int64
	Name           string
	MonthlyFee     *int64
	PerOrderFee    *int64
	PerProjectFee  *int64
	ProjectFeeRate *decimal.Decimal
}

// InvoiceStatus описывает статус счёта платформы партнёру.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusUnpaid    InvoiceStatus = "UNPAID"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// Invoice — счёт платформы партнёру за пользование сервисом.
// Инвариант: GrandTotal == TotalAmount + TaxAmount.
type Invoice struct {
	ID          int64
	Number      string
	PartnerID   int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	IssueDate   time.Time
	DueDate     time.Time
	TotalAmount int64
	TaxAmount   int64
	GrandTotal  int64
	Status      InvoiceStatus
	PaymentDate *time.Time
	Items       []InvoiceItem
}

// InvoiceItem — строка счёта.
type InvoiceItem struct {
	ID             int64
	Description    string
	Amount         int64
	RelatedOrderID *int64
}

// Order — заказ из подсистемы сопровождения сделок. Биллинг использует
// его как источник активности партнёра за период.
type Order struct {
	ID             int64
	PartnerID      int64
	ContractAmount int64
	Completed      bool
	CreatedAt      time.Time
}
