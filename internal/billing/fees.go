// Package billing реализует чистый расчёт комиссий платформы по тарифному плану.
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/leadbilling-system/internal/model"
)

// Settings содержит общие параметры биллинга, передаваемые явно из конфигурации.
type Settings struct {
	TaxRate    decimal.Decimal // доля, например 0.10
	PaymentDay int             // день месяца для срока оплаты, 1-31
}

// Activity агрегирует активность партнёра за расчётный период.
type Activity struct {
	OrderCount         int
	ProjectCount       int
	ProjectTotalAmount int64
}

// ComputeFees применяет правила тарифного плана к активности партнёра.
// Каждое правило действует независимо; строка не создаётся, если её
// счётчик равен нулю. Возвращает строки счёта и сумму без налога.
func ComputeFees(plan model.FeePlan, act Activity) ([]model.InvoiceItem, int64) {
	var items []model.InvoiceItem
	var total int64

	// Месячная абонентская плата не зависит от активности.
	if plan.MonthlyFee != nil && *plan.MonthlyFee > 0 {
		items = append(items, model.InvoiceItem{
			Description: "Monthly service fee",
			Amount:      *plan.MonthlyFee,
		})
		total += *plan.MonthlyFee
	}

	if plan.PerOrderFee != nil && *plan.PerOrderFee > 0 && act.OrderCount > 0 {
		amount := *plan.PerOrderFee * int64(act.OrderCount)
		items = append(items, model.InvoiceItem{
			Description: fmt.Sprintf("Order fee (%d orders)", act.OrderCount),
			Amount:      amount,
		})
		total += amount
	}

	if plan.PerProjectFee != nil && *plan.PerProjectFee > 0 && act.ProjectCount > 0 {
		amount := *plan.PerProjectFee * int64(act.ProjectCount)
		items = append(items, model.InvoiceItem{
			Description: fmt.Sprintf("Project completion fee (%d projects)", act.ProjectCount),
			Amount:      amount,
		})
		total += amount
	}

	// Процент от выручки по завершённым проектам, округление вниз до иены.
	if plan.ProjectFeeRate != nil && plan.ProjectFeeRate.IsPositive() && act.ProjectCount > 0 {
		amount := decimal.NewFromInt(act.ProjectTotalAmount).Mul(*plan.ProjectFeeRate).Floor().IntPart()
		percent := plan.ProjectFeeRate.Mul(decimal.NewFromInt(100)).StringFixed(1)
		items = append(items, model.InvoiceItem{
			Description: fmt.Sprintf("Project completion fee (%d projects, %s%%)", act.ProjectCount, percent),
			Amount:      amount,
		})
		total += amount
	}

	return items, total
}

// CalculateTax возвращает floor(amount * rate) — налог в целых иенах.
func CalculateTax(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
}

// SumItems возвращает сумму строк счёта без налога.
func SumItems(items []model.InvoiceItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Amount
	}
	return total
}

// DueDate возвращает срок оплаты: указанный день месяца, следующего за датой
// выставления. Переполнение дня (например, 31 февраля) нормализуется
// средствами time.Date.
func DueDate(issueDate time.Time, paymentDay int) time.Time {
	return time.Date(issueDate.Year(), issueDate.Month()+1, paymentDay,
		0, 0, 0, 0, issueDate.Location())
}

// MonthWindow возвращает границы календарного месяца: от первого числа
// включительно до конца последнего дня месяца.
func MonthWindow(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}
