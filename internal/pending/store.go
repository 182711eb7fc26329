// Package pending keeps the single in-flight generation request of each user.
package pending

import (
	"context"
	"time"

	"github.com/digkill/SoraVideoBot/internal/models"
)

type Stage string

const (
	StageAwaitingOrientation Stage = "awaiting_orientation"
	StageAwaitingDescription Stage = "awaiting_description"
	StageSubmitting          Stage = "submitting"
	StageProcessing          Stage = "processing"
)

type Task struct {
	Stage       Stage              `json:"stage"`
	Orientation models.Orientation `json:"orientation,omitempty"`
	Prompt      string             `json:"prompt,omitempty"`
	TaskID      string             `json:"task_id,omitempty"`
	// MessageID is the chat message to remove once the task settles.
	MessageID int       `json:"message_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store holds at most one Task per user. Every method is atomic on its own.
type Store interface {
	// Get returns nil when the user has no pending task.
	Get(ctx context.Context, userID int64) (*Task, error)
	Set(ctx context.Context, userID int64, task Task) error
	Clear(ctx context.Context, userID int64) error
	// Transition replaces the task only if its current stage is from.
	Transition(ctx context.Context, userID int64, from Stage, next Task) (bool, error)
	// ClearIfTask removes the entry only while it still tracks taskID.
	ClearIfTask(ctx context.Context, userID int64, taskID string) (*Task, error)
	// MarkCompleted reports true the first time a provider task settles.
	MarkCompleted(ctx context.Context, taskID string) (bool, error)
}
