package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/SoraVideoBot/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Profile is the chat-side identity used when an account is created lazily.
type Profile struct {
	TelegramID int64
	Username   string
	FirstName  string
	Locale     string
}

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) DB() *sql.DB {
	return r.db
}

const userColumns = `id, telegram_id, COALESCE(username, ''), COALESCE(first_name, ''), locale, plan, videos_left, total_paid, created_at, updated_at`

// FindByTelegramID returns nil when the account does not exist.
func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = ?`
	row := r.db.QueryRowContext(ctx, query, telegramID)
	var u models.User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.Locale, &u.Plan, &u.VideosLeft, &u.TotalPaid, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, p Profile) error {
	const query = `
INSERT INTO users (telegram_id, username, first_name, locale, plan, videos_left, total_paid)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, 0, 0)`
	if _, err := r.db.ExecContext(ctx, query, p.TelegramID, p.Username, p.FirstName, p.Locale, models.PlanNone); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, telegramID int64, username, firstName string) error {
	const query = `
UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), updated_at = CURRENT_TIMESTAMP
WHERE telegram_id = ?`
	if _, err := r.db.ExecContext(ctx, query, username, firstName, telegramID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// Ensure returns the account, creating it with the default plan and zero
// videos on first contact.
func (r *UserRepository) Ensure(ctx context.Context, p Profile) (*models.User, bool, error) {
	user, err := r.FindByTelegramID(ctx, p.TelegramID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		if user.Username != p.Username || user.FirstName != p.FirstName {
			if err := r.UpdateProfile(ctx, p.TelegramID, p.Username, p.FirstName); err != nil {
				return nil, false, err
			}
			user.Username, user.FirstName = p.Username, p.FirstName
		}
		return user, false, nil
	}
	if err := r.Create(ctx, p); err != nil {
		// Lost a creation race with a concurrent update for the same user.
		if existing, findErr := r.FindByTelegramID(ctx, p.TelegramID); findErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	created, err := r.FindByTelegramID(ctx, p.TelegramID)
	if err != nil {
		return nil, false, err
	}
	if created == nil {
		return nil, false, fmt.Errorf("user %d vanished after insert", p.TelegramID)
	}
	return created, true, nil
}

func (r *UserRepository) SetLocale(ctx context.Context, telegramID int64, locale string) error {
	const query = `UPDATE users SET locale = ?, updated_at = CURRENT_TIMESTAMP WHERE telegram_id = ?`
	if _, err := r.db.ExecContext(ctx, query, locale, telegramID); err != nil {
		return fmt.Errorf("set locale: %w", err)
	}
	return nil
}

// Debit takes amount videos in one conditional statement. It reports false,
// touching nothing, when the balance is short or the user is unknown.
func (r *UserRepository) Debit(ctx context.Context, telegramID int64, amount int) (bool, error) {
	const query = `
UPDATE users SET videos_left = videos_left - ?, updated_at = CURRENT_TIMESTAMP
WHERE telegram_id = ? AND videos_left >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, telegramID, amount)
	if err != nil {
		return false, fmt.Errorf("debit videos: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit rows affected: %w", err)
	}
	return affected > 0, nil
}

// Credit returns videos to the balance without touching plan or total paid.
// It reports false when the user is unknown.
func (r *UserRepository) Credit(ctx context.Context, telegramID int64, amount int) (bool, error) {
	const query = `
UPDATE users SET videos_left = videos_left + ?, updated_at = CURRENT_TIMESTAMP
WHERE telegram_id = ?`
	res, err := r.db.ExecContext(ctx, query, amount, telegramID)
	if err != nil {
		return false, fmt.Errorf("credit videos: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("credit rows affected: %w", err)
	}
	return affected > 0, nil
}

// TopUp adds a paid grant to the account, creating it if needed.
func (r *UserRepository) TopUp(ctx context.Context, telegramID int64, plan string, credits int, paid int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin topup tx: %w", err)
	}
	defer tx.Rollback()

	if err := topUp(ctx, tx, telegramID, plan, credits, paid); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit topup: %w", err)
	}
	return nil
}

func topUp(ctx context.Context, q querier, telegramID int64, plan string, credits int, paid int64) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE telegram_id = ?`, telegramID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		const insert = `
INSERT INTO users (telegram_id, locale, plan, videos_left, total_paid)
VALUES (?, 'ru', ?, ?, ?)`
		if _, err := q.ExecContext(ctx, insert, telegramID, plan, credits, paid); err != nil {
			return fmt.Errorf("insert topped up user: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("check user for topup: %w", err)
	}

	const update = `
UPDATE users SET videos_left = videos_left + ?, plan = ?, total_paid = total_paid + ?, updated_at = CURRENT_TIMESTAMP
WHERE telegram_id = ?`
	if _, err := q.ExecContext(ctx, update, credits, plan, paid, telegramID); err != nil {
		return fmt.Errorf("topup user: %w", err)
	}
	return nil
}

func (r *UserRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT telegram_id FROM users`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
