// Package invoicenum отвечает за формат номеров счетов.
//
// Номера фиксированной ширины: клиентские счета нумеруются сквозным
// счётчиком в пределах года (INV-2025-0001), счета платформы партнёрам —
// в пределах месяца (COMP-202501-0001). Само резервирование номера
// выполняется атомарным счётчиком в хранилище.
package invoicenum

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scope определяет независимую последовательность нумерации.
type Scope string

const (
	// ScopeCustomer — клиентские счета, счётчик сбрасывается раз в год.
	ScopeCustomer Scope = "INV"
	// ScopeCompany — счета платформы партнёрам, счётчик сбрасывается раз в месяц.
	ScopeCompany Scope = "COMP"
)

// MaxSequence — последний допустимый номер в периоде. Превышение — явная
// ошибка: расширение разрядности сломало бы лексикографический порядок
// уже выданных номеров внутри периода.
const MaxSequence = 9999

// ErrSequenceExhausted возвращается при исчерпании номеров периода.
var ErrSequenceExhausted = errors.New("invoice number sequence exhausted for period")

// ErrInvalidNumber возвращается при разборе строки неверного формата.
var ErrInvalidNumber = errors.New("invalid invoice number format")

// Period возвращает ключ периода последовательности для указанной даты.
func (s Scope) Period(t time.Time) string {
	if s == ScopeCustomer {
		return fmt.Sprintf("%04d", t.Year())
	}
	return fmt.Sprintf("%04d%02d", t.Year(), int(t.Month()))
}

// Format собирает номер счёта из области, периода и порядкового номера.
func Format(scope Scope, period string, seq int64) (string, error) {
	if seq < 1 || seq > MaxSequence {
		return "", fmt.Errorf("%w: sequence %d in period %s", ErrSequenceExhausted, seq, period)
	}
	return fmt.Sprintf("%s-%s-%04d", scope, period, seq), nil
}

// Parse разбирает номер счёта на составляющие и проверяет формат.
func Parse(number string) (Scope, string, int64, error) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}

	scope := Scope(parts[0])
	switch scope {
	case ScopeCustomer, ScopeCompany:
	default:
		return "", "", 0, fmt.Errorf("%w: unknown scope %q", ErrInvalidNumber, parts[0])
	}

	period := parts[1]
	wantPeriodLen := 4
	if scope == ScopeCompany {
		wantPeriodLen = 6
	}
	if len(period) != wantPeriodLen || !allDigits(period) {
		return "", "", 0, fmt.Errorf("%w: bad period %q", ErrInvalidNumber, period)
	}

	if len(parts[2]) != 4 || !allDigits(parts[2]) {
		return "", "", 0, fmt.Errorf("%w: bad sequence %q", ErrInvalidNumber, parts[2])
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 {
		return "", "", 0, fmt.Errorf("%w: bad sequence %q", ErrInvalidNumber, parts[2])
	}

	return scope, period, seq, nil
}

func allDigits(s string) bool {
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(s) > 0
}
