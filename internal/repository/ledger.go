package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/leadbilling-system/internal/model"
)

// ReferralResult описывает итог передачи лида: созданную запись и
// движение депозита.
type ReferralResult struct {
	ReferralID    int64
	FeeCharged    int64
	BalanceBefore int64
	BalanceAfter  int64
}

// GetPartner возвращает партнёра по идентификатору.
func (r *PostgresRepository) GetPartner(ctx context.Context, partnerID int64) (*model.Partner, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, company_name, email, deposit_balance, monthly_desired_leads, monthly_leads_count, fee_plan_id, created_at
		 FROM partners
		 WHERE id = $1`,
		partnerID,
	)

	var p model.Partner
	err := row.Scan(&p.ID, &p.CompanyName, &p.Email, &p.DepositBalance,
		&p.MonthlyDesiredLeads, &p.MonthlyLeadsCount, &p.FeePlanID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPartnerNotFound
		}
		return nil, fmt.Errorf("get partner: %w", err)
	}

	return &p, nil
}

// GetDiagnosis возвращает диагностику (лид) по идентификатору.
func (r *PostgresRepository) GetDiagnosis(ctx context.Context, diagnosisID int64) (*model.Diagnosis, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, diagnosis_number, customer_name, referral_fee
		 FROM diagnoses
		 WHERE id = $1`,
		diagnosisID,
	)

	var d model.Diagnosis
	err := row.Scan(&d.ID, &d.Number, &d.CustomerName, &d.ReferralFee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDiagnosisNotFound
		}
		return nil, fmt.Errorf("get diagnosis: %w", err)
	}

	return &d, nil
}

// GetBalance возвращает текущий депозитный баланс партнёра.
func (r *PostgresRepository) GetBalance(ctx context.Context, partnerID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT deposit_balance FROM partners WHERE id = $1`,
		partnerID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPartnerNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}

// lockPartnerBalance блокирует строку партнёра и возвращает текущий баланс.
// Блокировка сериализует конкурентные списания и пополнения одного партнёра.
func lockPartnerBalance(ctx context.Context, tx pgx.Tx, partnerID int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx,
		`SELECT deposit_balance FROM partners WHERE id = $1 FOR UPDATE`,
		partnerID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPartnerNotFound
		}
		return 0, fmt.Errorf("lock partner for update: %w", err)
	}

	return balance, nil
}

// debitPartner списывает сумму с заблокированной строки партнёра и
// добавляет запись журнала с новым балансом. Баланс и журнал меняются
// только вместе, в рамках переданной транзакции.
func debitPartner(ctx context.Context, tx pgx.Tx, partnerID, amount int64, description string, referralID *int64) (int64, int64, error) {
	balance, err := lockPartnerBalance(ctx, tx, partnerID)
	if err != nil {
		return 0, 0, err
	}

	if amount > balance {
		return balance, balance, ErrInsufficientBalance
	}

	newBalance := balance - amount

	_, err = tx.Exec(ctx,
		`UPDATE partners
		 SET deposit_balance = $2, monthly_leads_count = monthly_leads_count + 1
		 WHERE id = $1`,
		partnerID, newBalance,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("update partner balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (partner_id, amount, kind, resulting_balance, description, referral_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		partnerID, -amount, string(model.EntryKindDeduction), newBalance, description, referralID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	return balance, newBalance, nil
}

// creditPartner зачисляет сумму на заблокированную строку партнёра и
// добавляет запись журнала с новым балансом.
func creditPartner(ctx context.Context, tx pgx.Tx, partnerID, amount int64, description string) (int64, error) {
	balance, err := lockPartnerBalance(ctx, tx, partnerID)
	if err != nil {
		return 0, err
	}

	newBalance := balance + amount

	_, err = tx.Exec(ctx,
		`UPDATE partners SET deposit_balance = $2 WHERE id = $1`,
		partnerID, newBalance,
	)
	if err != nil {
		return 0, fmt.Errorf("update partner balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (partner_id, amount, kind, resulting_balance, description)
		 VALUES ($1, $2, $3, $4, $5)`,
		partnerID, amount, string(model.EntryKindDeposit), newBalance, description,
	)
	if err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	return newBalance, nil
}

// referralInsertError переводит ошибку вставки передачи лида в доменную.
// Таблица referrals несёт внешние ключи и на диагностику, и на партнёра:
// нарушение различается по имени ограничения, чтобы исчезнувший партнёр
// не выдавался за отсутствующую диагностику.
func referralInsertError(err error) error {
	if isUniqueViolation(err) {
		return ErrDuplicateReferral
	}
	if constraint, ok := foreignKeyConstraint(err); ok {
		if constraint == "referrals_partner_id_fkey" {
			return ErrPartnerNotFound
		}
		return ErrDiagnosisNotFound
	}
	return fmt.Errorf("insert referral: %w", err)
}

// CreateReferral создаёт передачу лида и списывает комиссию с депозита
// в одной транзакции. Уникальный индекс (diagnosis_id, partner_id) —
// окончательный страж от повторной передачи.
func (r *PostgresRepository) CreateReferral(ctx context.Context, diagnosisID, partnerID, fee int64, description string) (*ReferralResult, error) {
	var result *ReferralResult

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var referralID int64
		err = tx.QueryRow(ctx,
			`INSERT INTO referrals (diagnosis_id, partner_id, referral_fee)
			 VALUES ($1, $2, $3)
			 RETURNING id`,
			diagnosisID, partnerID, fee,
		).Scan(&referralID)
		if err != nil {
			return referralInsertError(err)
		}

		before, after, err := debitPartner(ctx, tx, partnerID, fee, description, &referralID)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &ReferralResult{
			ReferralID:    referralID,
			FeeCharged:    fee,
			BalanceBefore: before,
			BalanceAfter:  after,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// MarkReferralNotified отмечает, что уведомление партнёру отправлено.
// Вызывается после коммита основной транзакции: статус письма не влияет
// на корректность журнала.
func (r *PostgresRepository) MarkReferralNotified(ctx context.Context, referralID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE referrals SET email_sent = TRUE WHERE id = $1`,
		referralID,
	)
	if err != nil {
		return fmt.Errorf("mark referral notified: %w", err)
	}
	return nil
}

// ListReferrals возвращает передачи лидов с необязательной фильтрацией
// по диагностике и партнёру.
func (r *PostgresRepository) ListReferrals(ctx context.Context, diagnosisID, partnerID *int64) ([]model.Referral, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, diagnosis_id, partner_id, referral_fee, email_sent, created_at
		 FROM referrals
		 WHERE ($1::bigint IS NULL OR diagnosis_id = $1)
		   AND ($2::bigint IS NULL OR partner_id = $2)
		 ORDER BY created_at DESC`,
		diagnosisID, partnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select referrals: %w", err)
	}
	defer rows.Close()

	var res []model.Referral
	for rows.Next() {
		var ref model.Referral
		if err := rows.Scan(&ref.ID, &ref.DiagnosisID, &ref.PartnerID, &ref.ReferralFee, &ref.EmailSent, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		res = append(res, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateDepositRequest создаёт заявку партнёра на пополнение депозита.
func (r *PostgresRepository) CreateDepositRequest(ctx context.Context, partnerID, amount int64, note string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO deposit_requests (partner_id, requested_amount, partner_note)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		partnerID, amount, note,
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, ErrPartnerNotFound
		}
		return 0, fmt.Errorf("insert deposit request: %w", err)
	}

	return id, nil
}

// GetDepositRequests возвращает заявки партнёра на пополнение постранично.
func (r *PostgresRepository) GetDepositRequests(ctx context.Context, partnerID int64, page, limit int) ([]model.DepositRequest, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM deposit_requests WHERE partner_id = $1`,
		partnerID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count deposit requests: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, partner_id, requested_amount, approved_amount, status, partner_note, admin_note, created_at, approved_at
		 FROM deposit_requests
		 WHERE partner_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		partnerID, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select deposit requests: %w", err)
	}
	defer rows.Close()

	var res []model.DepositRequest
	for rows.Next() {
		var dr model.DepositRequest
		var status string
		if err := rows.Scan(&dr.ID, &dr.PartnerID, &dr.RequestedAmount, &dr.ApprovedAmount,
			&status, &dr.PartnerNote, &dr.AdminNote, &dr.CreatedAt, &dr.ApprovedAt); err != nil {
			return nil, 0, fmt.Errorf("scan deposit request: %w", err)
		}
		dr.Status = model.DepositRequestStatus(status)
		res = append(res, dr)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}

// ResolveDepositRequest переводит заявку из PENDING в терминальный статус.
// Одобрение зачисляет approvedAmount на депозит в той же транзакции, что
// и смена статуса; отклонение денег не двигает. Возвращает новый баланс
// (ноль при отклонении).
func (r *PostgresRepository) ResolveDepositRequest(ctx context.Context, requestID int64, approve bool, approvedAmount int64, adminNote string) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var partnerID int64
		var status string
		err = tx.QueryRow(ctx,
			`SELECT partner_id, status FROM deposit_requests WHERE id = $1 FOR UPDATE`,
			requestID,
		).Scan(&partnerID, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRequestNotFound
			}
			return fmt.Errorf("lock deposit request: %w", err)
		}

		if model.DepositRequestStatus(status) != model.DepositStatusPending {
			return ErrRequestAlreadyResolved
		}

		now := time.Now()

		if approve {
			description := fmt.Sprintf("Deposit request approved (request %d)", requestID)
			newBalance, err = creditPartner(ctx, tx, partnerID, approvedAmount, description)
			if err != nil {
				return err
			}

			_, err = tx.Exec(ctx,
				`UPDATE deposit_requests
				 SET status = $2, approved_amount = $3, admin_note = $4, approved_at = $5
				 WHERE id = $1`,
				requestID, string(model.DepositStatusApproved), approvedAmount, adminNote, now,
			)
			if err != nil {
				return fmt.Errorf("approve deposit request: %w", err)
			}
		} else {
			newBalance = 0
			_, err = tx.Exec(ctx,
				`UPDATE deposit_requests
				 SET status = $2, admin_note = $3, approved_at = $4
				 WHERE id = $1`,
				requestID, string(model.DepositStatusRejected), adminNote, now,
			)
			if err != nil {
				return fmt.Errorf("reject deposit request: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// GetLedgerHistory возвращает журнал депозита партнёра постранично,
// от новых записей к старым.
func (r *PostgresRepository) GetLedgerHistory(ctx context.Context, partnerID int64, page, limit int) ([]model.LedgerEntry, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE partner_id = $1`,
		partnerID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, partner_id, amount, kind, resulting_balance, description, referral_id, created_at
		 FROM ledger_entries
		 WHERE partner_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		partnerID, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.PartnerID, &e.Amount, &kind, &e.ResultingBalance,
			&e.Description, &e.ReferralID, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.LedgerEntryKind(kind)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}
