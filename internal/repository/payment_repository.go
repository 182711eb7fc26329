package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/SoraVideoBot/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (telegram_id, plan_code, provider, provider_payment_id, currency, amount, credits, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.TelegramID, payment.PlanCode, payment.Provider, payment.ProviderPaymentID,
		payment.Currency, payment.Amount, payment.Credits, payment.Status, payment.RawPayload)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, provider, providerPaymentID, status, payload string) error {
	const query = `
UPDATE payments SET status = ?, raw_payload = ?, updated_at = CURRENT_TIMESTAMP
WHERE provider = ? AND provider_payment_id = ? AND status <> ?`
	if _, err := r.db.ExecContext(ctx, query, status, payload, provider, providerPaymentID, models.PaymentStatusPaid); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func (r *PaymentRepository) FindByProviderPayment(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	const query = `
SELECT id, telegram_id, plan_code, provider, provider_payment_id, currency, amount, credits, status, COALESCE(raw_payload, ''), created_at, updated_at
FROM payments WHERE provider = ? AND provider_payment_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, provider, providerPaymentID)
	var p models.Payment
	if err := row.Scan(&p.ID, &p.TelegramID, &p.PlanCode, &p.Provider, &p.ProviderPaymentID, &p.Currency, &p.Amount, &p.Credits, &p.Status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

// ApplySucceeded marks the provider payment as paid and tops up the ledger in
// one transaction. It reports false when the payment was already applied, so
// repeated webhook deliveries never credit twice.
func (r *PaymentRepository) ApplySucceeded(ctx context.Context, payment *models.Payment) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin payment tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var status string
	err = tx.QueryRowContext(ctx, `SELECT id, status FROM payments WHERE provider = ? AND provider_payment_id = ?`,
		payment.Provider, payment.ProviderPaymentID).Scan(&id, &status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		const insert = `
INSERT INTO payments (telegram_id, plan_code, provider, provider_payment_id, currency, amount, credits, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert, payment.TelegramID, payment.PlanCode, payment.Provider, payment.ProviderPaymentID,
			payment.Currency, payment.Amount, payment.Credits, models.PaymentStatusPaid, payment.RawPayload); err != nil {
			return false, fmt.Errorf("insert paid payment: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("find payment: %w", err)
	case status == models.PaymentStatusPaid:
		return false, nil
	default:
		const claim = `
UPDATE payments SET status = ?, amount = ?, credits = ?, raw_payload = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status <> ?`
		res, err := tx.ExecContext(ctx, claim, models.PaymentStatusPaid, payment.Amount, payment.Credits, payment.RawPayload, id, models.PaymentStatusPaid)
		if err != nil {
			return false, fmt.Errorf("claim payment: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			return false, nil
		}
	}

	if err := topUp(ctx, tx, payment.TelegramID, payment.PlanCode, payment.Credits, payment.Amount); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit payment: %w", err)
	}
	payment.Status = models.PaymentStatusPaid
	return true, nil
}
