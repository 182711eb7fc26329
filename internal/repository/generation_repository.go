package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/SoraVideoBot/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Log(ctx context.Context, entry models.GenerationLog) error {
	const query = `
INSERT INTO generation_logs (telegram_id, task_id, orientation, prompt, status)
VALUES (?, NULLIF(?, ''), ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, entry.TelegramID, entry.TaskID, entry.Orientation, entry.Prompt, entry.Status); err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	return nil
}

// SaveDeadLetter keeps a callback that could not be matched to any user so it
// can be reconciled by hand.
func (r *GenerationRepository) SaveDeadLetter(ctx context.Context, taskID string, raw []byte) error {
	const query = `INSERT INTO callback_dead_letters (task_id, raw_payload) VALUES (NULLIF(?, ''), ?)`
	if _, err := r.db.ExecContext(ctx, query, taskID, string(raw)); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// FindSubmitted returns the submission row of taskID made by telegramID, or nil
// when that user never submitted it.
func (r *GenerationRepository) FindSubmitted(ctx context.Context, telegramID int64, taskID string) (*models.GenerationLog, error) {
	const query = `
SELECT id, telegram_id, COALESCE(task_id, ''), orientation, prompt, status, created_at
FROM generation_logs WHERE telegram_id = ? AND task_id = ? AND status = ?
ORDER BY id ASC LIMIT 1`
	var l models.GenerationLog
	err := r.db.QueryRowContext(ctx, query, telegramID, taskID, models.GenerationStatusSubmitted).
		Scan(&l.ID, &l.TelegramID, &l.TaskID, &l.Orientation, &l.Prompt, &l.Status, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find submitted generation: %w", err)
	}
	return &l, nil
}

func (r *GenerationRepository) ListByTask(ctx context.Context, taskID string) ([]models.GenerationLog, error) {
	const query = `
SELECT id, telegram_id, COALESCE(task_id, ''), orientation, prompt, status, created_at
FROM generation_logs WHERE task_id = ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list generation logs: %w", err)
	}
	defer rows.Close()

	var logs []models.GenerationLog
	for rows.Next() {
		var l models.GenerationLog
		if err := rows.Scan(&l.ID, &l.TelegramID, &l.TaskID, &l.Orientation, &l.Prompt, &l.Status, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generation log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
