package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/SoraVideoBot/internal/correlation"
	"github.com/digkill/SoraVideoBot/internal/kie"
	"github.com/digkill/SoraVideoBot/internal/metrics"
	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/pending"
	"github.com/digkill/SoraVideoBot/internal/repository"
)

const videoCost = 1

// VideoProvider is the remote text-to-video service.
type VideoProvider interface {
	Submit(ctx context.Context, req kie.SubmitRequest) (string, kie.Status)
	Download(ctx context.Context, url string) ([]byte, error)
}

type GenerationService struct {
	log         *slog.Logger
	ledger      *LedgerService
	pending     pending.Store
	provider    VideoProvider
	generations *repository.GenerationRepository
	metrics     *metrics.Metrics
	messenger   Messenger
	archive     Archiver
}

type SubmitInput struct {
	UserID      int64
	Description string
	// MessageID is the "accepted" chat message removed when the task settles.
	MessageID int
}

type Outcome struct {
	Status      kie.Status
	TaskID      string
	CreditsLeft int
}

func NewGenerationService(log *slog.Logger, ledger *LedgerService, store pending.Store, provider VideoProvider, generations *repository.GenerationRepository, m *metrics.Metrics) *GenerationService {
	return &GenerationService{
		log:         log,
		ledger:      ledger,
		pending:     store,
		provider:    provider,
		generations: generations,
		metrics:     m,
	}
}

func (s *GenerationService) SetMessenger(m Messenger) { s.messenger = m }

func (s *GenerationService) SetArchiver(a Archiver) { s.archive = a }

// Begin starts a new request, replacing whatever the user had pending. Users
// without credits get ErrCreditsRequired and no pending entry.
func (s *GenerationService) Begin(ctx context.Context, userID int64) (Balance, error) {
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return balance, err
	}
	if balance.CreditsRemaining < videoCost {
		return balance, ErrCreditsRequired
	}
	if err := s.pending.Set(ctx, userID, pending.Task{Stage: pending.StageAwaitingOrientation}); err != nil {
		return balance, fmt.Errorf("set pending task: %w", err)
	}
	return balance, nil
}

// ChooseOrientation records the orientation and waits for a description.
// Changing it again before describing is allowed.
func (s *GenerationService) ChooseOrientation(ctx context.Context, userID int64, o models.Orientation) error {
	if !o.Valid() {
		return fmt.Errorf("invalid orientation %q", o)
	}
	next := pending.Task{Stage: pending.StageAwaitingDescription, Orientation: o}
	for _, from := range []pending.Stage{pending.StageAwaitingOrientation, pending.StageAwaitingDescription} {
		moved, err := s.pending.Transition(ctx, userID, from, next)
		if err != nil {
			return fmt.Errorf("choose orientation: %w", err)
		}
		if moved {
			return nil
		}
	}
	return ErrNoPendingTask
}

// Pending exposes the current request of the user, nil when idle.
func (s *GenerationService) Pending(ctx context.Context, userID int64) (*pending.Task, error) {
	return s.pending.Get(ctx, userID)
}

// Cancel drops a request that has not been submitted yet.
func (s *GenerationService) Cancel(ctx context.Context, userID int64) error {
	task, err := s.pending.Get(ctx, userID)
	if err != nil || task == nil {
		return err
	}
	if task.Stage == pending.StageProcessing || task.Stage == pending.StageSubmitting {
		return nil
	}
	return s.pending.Clear(ctx, userID)
}

// Submit charges one video and hands the description to the provider. A
// failed submission is refunded before Submit returns, so the returned
// CreditsLeft is always the settled balance.
func (s *GenerationService) Submit(ctx context.Context, in SubmitInput) (*Outcome, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, ErrEmptyDescription
	}

	task, err := s.pending.Get(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("get pending task: %w", err)
	}
	if task == nil || task.Stage != pending.StageAwaitingDescription {
		return nil, ErrNoPendingTask
	}
	claimed, err := s.pending.Transition(ctx, in.UserID, pending.StageAwaitingDescription, pending.Task{
		Stage:       pending.StageSubmitting,
		Orientation: task.Orientation,
		Prompt:      description,
		MessageID:   in.MessageID,
	})
	if err != nil {
		return nil, fmt.Errorf("claim pending task: %w", err)
	}
	if !claimed {
		return nil, ErrNoPendingTask
	}

	debited, err := s.ledger.Debit(ctx, in.UserID, videoCost)
	if err != nil || !debited {
		s.clearPending(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		return nil, ErrCreditsRequired
	}

	taskID, status := s.provider.Submit(ctx, kie.SubmitRequest{
		Prompt:      description,
		Orientation: task.Orientation,
		Param:       correlation.Encode(in.UserID),
	})
	s.metrics.Submissions.WithLabelValues(string(status)).Inc()

	if status != kie.StatusSuccess {
		if err := s.ledger.Refund(ctx, in.UserID, videoCost); err != nil {
			s.log.Error("refund after failed submission", "user_id", in.UserID, "status", status, "err", err)
		} else {
			s.metrics.Refunds.WithLabelValues(string(status)).Inc()
		}
		s.clearPending(ctx, in.UserID)
		s.logGeneration(ctx, models.GenerationLog{TelegramID: in.UserID, Orientation: task.Orientation, Prompt: description, Status: "submit_" + string(status)})
		return &Outcome{Status: status, CreditsLeft: s.creditsLeft(ctx, in.UserID)}, nil
	}

	if err := s.pending.Set(ctx, in.UserID, pending.Task{
		Stage:       pending.StageProcessing,
		Orientation: task.Orientation,
		Prompt:      description,
		TaskID:      taskID,
		MessageID:   in.MessageID,
	}); err != nil {
		s.log.Error("store processing task", "user_id", in.UserID, "task_id", taskID, "err", err)
	}
	s.logGeneration(ctx, models.GenerationLog{TelegramID: in.UserID, TaskID: taskID, Orientation: task.Orientation, Prompt: description, Status: models.GenerationStatusSubmitted})
	s.log.Info("generation submitted", "user_id", in.UserID, "task_id", taskID, "orientation", task.Orientation)

	return &Outcome{Status: status, TaskID: taskID, CreditsLeft: s.creditsLeft(ctx, in.UserID)}, nil
}

func (s *GenerationService) clearPending(ctx context.Context, userID int64) {
	if err := s.pending.Clear(ctx, userID); err != nil {
		s.log.Error("clear pending task", "user_id", userID, "err", err)
	}
}

func (s *GenerationService) creditsLeft(ctx context.Context, userID int64) int {
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		s.log.Error("read balance", "user_id", userID, "err", err)
	}
	return balance.CreditsRemaining
}

func (s *GenerationService) logGeneration(ctx context.Context, entry models.GenerationLog) {
	if s.generations == nil {
		return
	}
	if err := s.generations.Log(ctx, entry); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("failed to log generation", "user_id", entry.TelegramID, "err", err)
	}
}
