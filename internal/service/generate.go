package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/leadbilling-system/internal/billing"
	"github.com/mmeshcher/leadbilling-system/internal/model"
)

// GenerationMode определяет окно месячного прогона генератора счетов.
type GenerationMode string

const (
	// ModeMonthly — счета за указанный календарный месяц.
	ModeMonthly GenerationMode = "monthly"
	// ModeUnbilled — счета за всю ещё не выставленную работу.
	ModeUnbilled GenerationMode = "unbilled"
)

// unbilledWindowStart — начало окна для режима unbilled; раньше этой даты
// заказов в системе нет.
var unbilledWindowStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// PartnerResult описывает итог обработки одного партнёра в прогоне.
type PartnerResult struct {
	PartnerID     int64  `json:"partner_id"`
	CompanyName   string `json:"company_name"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	GrandTotal    int64  `json:"grand_total,omitempty"`
	Skipped       string `json:"skipped,omitempty"`
	Error         string `json:"error,omitempty"`
}

// GenerationSummary — отчёт о прогоне генератора счетов.
type GenerationSummary struct {
	Generated int             `json:"generated"`
	Results   []PartnerResult `json:"results"`
}

// GenerateInvoices обходит всех партнёров и создаёт счета за комиссии
// платформы. Каждый партнёр обрабатывается в собственной транзакции:
// ошибка одного не прерывает прогон, а попадает в отчёт. В режиме
// unbilled уже выставленные заказы исключаются глобальным индексом,
// а месячная абонентская плата подавляется — её выставляют только
// месячные прогоны, иначе повторный прогон плодил бы счета.
func (s *Service) GenerateInvoices(ctx context.Context, mode GenerationMode, year int, month time.Month) (*GenerationSummary, error) {
	var windowStart, windowEnd time.Time

	switch mode {
	case ModeMonthly:
		if year < 2000 || year > 2100 || month < time.January || month > time.December {
			return nil, ErrInvalidPeriod
		}
		windowStart, windowEnd = billing.MonthWindow(year, month)
	case ModeUnbilled:
		windowStart, windowEnd = unbilledWindowStart, time.Now()
	default:
		return nil, ErrUnknownMode
	}

	partners, err := s.repo.ListBillingPartners(ctx)
	if err != nil {
		return nil, err
	}

	issueDate := time.Now()
	dueDate := billing.DueDate(issueDate, s.settings.PaymentDay)

	summary := &GenerationSummary{}

	for _, partner := range partners {
		result := PartnerResult{PartnerID: partner.ID, CompanyName: partner.CompanyName}

		if partner.Plan == nil {
			s.logger.Warn("partner has no fee plan, skipping", zap.Int64("partnerID", partner.ID))
			result.Skipped = "no fee plan"
			summary.Results = append(summary.Results, result)
			continue
		}

		orders, err := s.repo.GetBillableOrders(ctx, partner.ID, windowStart, windowEnd, mode == ModeUnbilled)
		if err != nil {
			s.logger.Error("fetch billable orders failed",
				zap.Int64("partnerID", partner.ID), zap.Error(err))
			result.Error = err.Error()
			summary.Results = append(summary.Results, result)
			continue
		}

		plan := *partner.Plan
		if mode == ModeUnbilled {
			plan.MonthlyFee = nil
		}

		chargesPerOrder := plan.PerOrderFee != nil && *plan.PerOrderFee > 0
		activity, orderIDs := aggregateActivity(orders, chargesPerOrder)

		items, total := billing.ComputeFees(plan, activity)
		if total == 0 {
			result.Skipped = "no billable activity"
			summary.Results = append(summary.Results, result)
			continue
		}

		tax := billing.CalculateTax(total, s.settings.TaxRate)

		invoice := model.Invoice{
			PartnerID:   partner.ID,
			PeriodStart: windowStart,
			PeriodEnd:   windowEnd,
			IssueDate:   issueDate,
			DueDate:     dueDate,
			TotalAmount: total,
			TaxAmount:   tax,
			GrandTotal:  total + tax,
			Items:       items,
		}

		if err := s.repo.CreateInvoice(ctx, &invoice, orderIDs); err != nil {
			s.logger.Error("create invoice failed",
				zap.Int64("partnerID", partner.ID), zap.Error(err))
			result.Error = err.Error()
			summary.Results = append(summary.Results, result)
			continue
		}

		summary.Generated++
		result.InvoiceNumber = invoice.Number
		result.GrandTotal = invoice.GrandTotal
		summary.Results = append(summary.Results, result)
	}

	return summary, nil
}

// aggregateActivity сводит заказы окна к показателям тарифных правил и
// списку заказов, которые прогон пометит выставленными. Помечается только
// то, за что счёт действительно что-то взял: завершённые заказы — всегда,
// незавершённые — лишь при поштучной комиссии в тарифе. Незавершённый заказ
// без поштучной комиссии не добавил в счёт ни иены и остаётся доступным
// для проектной комиссии после завершения.
func aggregateActivity(orders []model.Order, includePending bool) (billing.Activity, []int64) {
	var act billing.Activity
	orderIDs := make([]int64, 0, len(orders))

	for _, o := range orders {
		act.OrderCount++
		if o.Completed {
			act.ProjectCount++
			act.ProjectTotalAmount += o.ContractAmount
			orderIDs = append(orderIDs, o.ID)
		} else if includePending {
			orderIDs = append(orderIDs, o.ID)
		}
	}

	return act, orderIDs
}
