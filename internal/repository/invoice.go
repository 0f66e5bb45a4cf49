package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/leadbilling-system/internal/invoicenum"
	"github.com/mmeshcher/leadbilling-system/internal/model"
)

// BillingPartner описывает партнёра в обходе генератора счетов.
type BillingPartner struct {
	ID          int64
	CompanyName string
	Plan        *model.FeePlan
}

// ListBillingPartners возвращает всех партнёров вместе с их тарифными
// планами (nil, если план не назначен).
func (r *PostgresRepository) ListBillingPartners(ctx context.Context) ([]BillingPartner, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.company_name,
		        fp.id, fp.name, fp.monthly_fee, fp.per_order_fee, fp.per_project_fee, fp.project_fee_rate
		 FROM partners p
		 LEFT JOIN fee_plans fp ON fp.id = p.fee_plan_id
		 ORDER BY p.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select billing partners: %w", err)
	}
	defer rows.Close()

	var res []BillingPartner
	for rows.Next() {
		var bp BillingPartner
		var plan model.FeePlan
		var planID *int64
		var planName *string
		if err := rows.Scan(&bp.ID, &bp.CompanyName,
			&planID, &planName, &plan.MonthlyFee, &plan.PerOrderFee, &plan.PerProjectFee, &plan.ProjectFeeRate); err != nil {
			return nil, fmt.Errorf("scan billing partner: %w", err)
		}
		if planID != nil {
			plan.ID = *planID
			plan.Name = *planName
			bp.Plan = &plan
		}
		res = append(res, bp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetBillableOrders возвращает заказы партнёра за окно расчёта.
// При excludeBilled из выборки исключаются заказы, уже включённые в
// какой-либо счёт (глобальный индекс billed_orders).
func (r *PostgresRepository) GetBillableOrders(ctx context.Context, partnerID int64, from, to time.Time, excludeBilled bool) ([]model.Order, error) {
	query := `SELECT id, partner_id, contract_amount, completed, created_at
	          FROM orders
	          WHERE partner_id = $1 AND created_at >= $2 AND created_at <= $3`
	if excludeBilled {
		query += ` AND NOT EXISTS (SELECT 1 FROM billed_orders bo WHERE bo.order_id = orders.id)`
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, partnerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("select billable orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.PartnerID, &o.ContractAmount, &o.Completed, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// nextNumber атомарно резервирует следующий номер последовательности
// (scope, period) и возвращает отформатированный номер счёта. Апсерт
// счётчика исключает дубликаты при конкурентных выделениях: строка
// счётчика блокируется до конца транзакции.
func nextNumber(ctx context.Context, tx pgx.Tx, scope invoicenum.Scope, at time.Time) (string, error) {
	period := scope.Period(at)

	var seq int64
	err := tx.QueryRow(ctx,
		`INSERT INTO invoice_counters (scope, period, last_value)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (scope, period)
		 DO UPDATE SET last_value = invoice_counters.last_value + 1
		 RETURNING last_value`,
		string(scope), period,
	).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("allocate invoice number: %w", err)
	}

	return invoicenum.Format(scope, period, seq)
}

// NextInvoiceNumber резервирует номер в отдельной транзакции. Используется
// подсистемой клиентских счетов, где номер нужен вне транзакции счёта
// платформы.
func (r *PostgresRepository) NextInvoiceNumber(ctx context.Context, scope invoicenum.Scope, at time.Time) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	number, err := nextNumber(ctx, tx, scope, at)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}

	return number, nil
}

// CreateInvoice создаёт счёт платформы вместе со строками и отметками о
// выставленных заказах в одной транзакции. Номер счёта резервируется той
// же транзакцией; при откате номер пропадает вместе со счётом.
func (r *PostgresRepository) CreateInvoice(ctx context.Context, inv *model.Invoice, orderIDs []int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		number, err := nextNumber(ctx, tx, invoicenum.ScopeCompany, inv.PeriodEnd)
		if err != nil {
			return err
		}

		var invoiceID int64
		err = tx.QueryRow(ctx,
			`INSERT INTO company_invoices
			 (invoice_number, partner_id, billing_period_start, billing_period_end,
			  issue_date, due_date, total_amount, tax_amount, grand_total, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id`,
			number, inv.PartnerID, inv.PeriodStart, inv.PeriodEnd,
			inv.IssueDate, inv.DueDate, inv.TotalAmount, inv.TaxAmount, inv.GrandTotal,
			string(model.InvoiceStatusDraft),
		).Scan(&invoiceID)
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}

		for _, item := range inv.Items {
			_, err = tx.Exec(ctx,
				`INSERT INTO company_invoice_items (invoice_id, description, amount, related_order_id)
				 VALUES ($1, $2, $3, $4)`,
				invoiceID, item.Description, item.Amount, item.RelatedOrderID,
			)
			if err != nil {
				return fmt.Errorf("insert invoice item: %w", err)
			}
		}

		for _, orderID := range orderIDs {
			_, err = tx.Exec(ctx,
				`INSERT INTO billed_orders (order_id, invoice_id) VALUES ($1, $2)`,
				orderID, invoiceID,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrOrderAlreadyBilled
				}
				return fmt.Errorf("insert billed order: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		inv.ID = invoiceID
		inv.Number = number
		inv.Status = model.InvoiceStatusDraft
		return nil
	})
}

// GetInvoice возвращает счёт вместе со строками.
func (r *PostgresRepository) GetInvoice(ctx context.Context, invoiceID int64) (*model.Invoice, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, invoice_number, partner_id, billing_period_start, billing_period_end,
		        issue_date, due_date, total_amount, tax_amount, grand_total, status, payment_date
		 FROM company_invoices
		 WHERE id = $1`,
		invoiceID,
	)

	var inv model.Invoice
	var status string
	err := row.Scan(&inv.ID, &inv.Number, &inv.PartnerID, &inv.PeriodStart, &inv.PeriodEnd,
		&inv.IssueDate, &inv.DueDate, &inv.TotalAmount, &inv.TaxAmount, &inv.GrandTotal,
		&status, &inv.PaymentDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	inv.Status = model.InvoiceStatus(status)

	rows, err := r.pool.Query(ctx,
		`SELECT id, description, amount, related_order_id
		 FROM company_invoice_items
		 WHERE invoice_id = $1
		 ORDER BY id`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoice items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.InvoiceItem
		if err := rows.Scan(&item.ID, &item.Description, &item.Amount, &item.RelatedOrderID); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &inv, nil
}

// ListInvoices возвращает счета постранично с необязательной фильтрацией
// по партнёру и статусу.
func (r *PostgresRepository) ListInvoices(ctx context.Context, partnerID *int64, status string, page, limit int) ([]model.Invoice, int, error) {
	var statusFilter *string
	if status != "" {
		statusFilter = &status
	}

	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM company_invoices
		 WHERE ($1::bigint IS NULL OR partner_id = $1)
		   AND ($2::text IS NULL OR status = $2)`,
		partnerID, statusFilter,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, invoice_number, partner_id, billing_period_start, billing_period_end,
		        issue_date, due_date, total_amount, tax_amount, grand_total, status, payment_date
		 FROM company_invoices
		 WHERE ($1::bigint IS NULL OR partner_id = $1)
		   AND ($2::text IS NULL OR status = $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		partnerID, statusFilter, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select invoices: %w", err)
	}
	defer rows.Close()

	var res []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		var st string
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.PartnerID, &inv.PeriodStart, &inv.PeriodEnd,
			&inv.IssueDate, &inv.DueDate, &inv.TotalAmount, &inv.TaxAmount, &inv.GrandTotal,
			&st, &inv.PaymentDate); err != nil {
			return nil, 0, fmt.Errorf("scan invoice: %w", err)
		}
		inv.Status = model.InvoiceStatus(st)
		res = append(res, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}

// lockInvoiceStatus блокирует строку счёта и возвращает текущий статус.
func lockInvoiceStatus(ctx context.Context, tx pgx.Tx, invoiceID int64) (model.InvoiceStatus, error) {
	var status string
	err := tx.QueryRow(ctx,
		`SELECT status FROM company_invoices WHERE id = $1 FOR UPDATE`,
		invoiceID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvoiceNotFound
		}
		return "", fmt.Errorf("lock invoice: %w", err)
	}
	return model.InvoiceStatus(status), nil
}

// UpdateDraftInvoice целиком заменяет строки черновика и перезаписывает
// итоги, рассчитанные из новых строк. Частичное редактирование строк не
// поддерживается: удаление и пересоздание исключают расхождение итогов.
func (r *PostgresRepository) UpdateDraftInvoice(ctx context.Context, invoiceID int64, issueDate, dueDate time.Time, items []model.InvoiceItem, totalAmount, taxAmount, grandTotal int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		status, err := lockInvoiceStatus(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if status != model.InvoiceStatusDraft {
			return ErrInvoiceNotDraft
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM company_invoice_items WHERE invoice_id = $1`, invoiceID); err != nil {
			return fmt.Errorf("delete invoice items: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM billed_orders WHERE invoice_id = $1`, invoiceID); err != nil {
			return fmt.Errorf("delete billed orders: %w", err)
		}

		for _, item := range items {
			_, err = tx.Exec(ctx,
				`INSERT INTO company_invoice_items (invoice_id, description, amount, related_order_id)
				 VALUES ($1, $2, $3, $4)`,
				invoiceID, item.Description, item.Amount, item.RelatedOrderID,
			)
			if err != nil {
				return fmt.Errorf("insert invoice item: %w", err)
			}

			if item.RelatedOrderID != nil {
				_, err = tx.Exec(ctx,
					`INSERT INTO billed_orders (order_id, invoice_id) VALUES ($1, $2)`,
					*item.RelatedOrderID, invoiceID,
				)
				if err != nil {
					if isUniqueViolation(err) {
						return ErrOrderAlreadyBilled
					}
					return fmt.Errorf("insert billed order: %w", err)
				}
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE company_invoices
			 SET issue_date = $2, due_date = $3, total_amount = $4, tax_amount = $5, grand_total = $6
			 WHERE id = $1`,
			invoiceID, issueDate, dueDate, totalAmount, taxAmount, grandTotal,
		)
		if err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// IssueInvoice выпускает черновик: DRAFT -> UNPAID. После выпуска счёт
// редактировать нельзя.
func (r *PostgresRepository) IssueInvoice(ctx context.Context, invoiceID int64, issueDate, dueDate time.Time) error {
	return r.transitionInvoice(ctx, invoiceID, func(status model.InvoiceStatus) error {
		if status != model.InvoiceStatusDraft {
			return ErrInvoiceNotDraft
		}
		return nil
	}, `UPDATE company_invoices SET status = 'UNPAID', issue_date = $2, due_date = $3 WHERE id = $1`,
		invoiceID, issueDate, dueDate)
}

// MarkInvoicePaid фиксирует подтверждение банковского перевода:
// UNPAID -> PAID. Депозитный журнал не затрагивается.
func (r *PostgresRepository) MarkInvoicePaid(ctx context.Context, invoiceID int64, paymentDate time.Time) error {
	return r.transitionInvoice(ctx, invoiceID, func(status model.InvoiceStatus) error {
		if status != model.InvoiceStatusUnpaid && status != model.InvoiceStatusOverdue {
			return ErrInvoiceNotUnpaid
		}
		return nil
	}, `UPDATE company_invoices SET status = 'PAID', payment_date = $2 WHERE id = $1`,
		invoiceID, paymentDate)
}

// CancelInvoice отменяет счёт. Разрешено только из DRAFT и UNPAID.
func (r *PostgresRepository) CancelInvoice(ctx context.Context, invoiceID int64) error {
	return r.transitionInvoice(ctx, invoiceID, func(status model.InvoiceStatus) error {
		if status != model.InvoiceStatusDraft && status != model.InvoiceStatusUnpaid {
			return ErrInvoiceClosed
		}
		return nil
	}, `UPDATE company_invoices SET status = 'CANCELLED' WHERE id = $1`, invoiceID)
}

// transitionInvoice выполняет смену статуса под блокировкой строки счёта:
// проверка допустимости перехода и запись происходят в одной транзакции.
func (r *PostgresRepository) transitionInvoice(ctx context.Context, invoiceID int64, check func(model.InvoiceStatus) error, query string, args ...any) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		status, err := lockInvoiceStatus(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if err := check(status); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("update invoice status: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// SweepOverdueInvoices переводит просроченные неоплаченные счета в OVERDUE
// и возвращает число затронутых счетов.
func (r *PostgresRepository) SweepOverdueInvoices(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE company_invoices
		 SET status = 'OVERDUE'
		 WHERE status = 'UNPAID' AND due_date < $1`,
		asOf,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep overdue invoices: %w", err)
	}

	return tag.RowsAffected(), nil
}
