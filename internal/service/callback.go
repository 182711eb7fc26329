package service

import (
	"context"
	"errors"

	"github.com/digkill/SoraVideoBot/internal/correlation"
	"github.com/digkill/SoraVideoBot/internal/i18n"
	"github.com/digkill/SoraVideoBot/internal/kie"
	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/pending"
)

type CallbackResult string

const (
	CallbackUnresolved     CallbackResult = "unresolved"
	CallbackDuplicate      CallbackResult = "duplicate"
	CallbackProviderFailed CallbackResult = "provider_failed"
	CallbackDelivered      CallbackResult = "delivered"
	CallbackUndeliverable  CallbackResult = "undeliverable"
)

// Delivery methods, in the order they are attempted.
const (
	DeliveryURL    = "url"
	DeliveryUpload = "upload"
	DeliveryLink   = "link"
)

// HandleCallback settles a finished provider task: it delivers the video or
// refunds the credit, then cleans up the pending entry. A task id is settled
// at most once.
func (s *GenerationService) HandleCallback(ctx context.Context, raw []byte) CallbackResult {
	result := s.handleCallback(ctx, raw)
	s.metrics.Callbacks.WithLabelValues(string(result)).Inc()
	return result
}

func (s *GenerationService) handleCallback(ctx context.Context, raw []byte) CallbackResult {
	cb, parseErr := kie.ParseCallback(raw)
	userID, strategy, ok := correlation.DecodeWithStrategy(raw)
	taskID := ""
	if cb != nil {
		taskID = cb.TaskID()
	}
	if !ok || cb == nil || taskID == "" {
		s.log.Error("generation callback could not be resolved to a user", "task_id", taskID, "raw", string(raw))
		s.deadLetter(ctx, taskID, raw)
		return CallbackUnresolved
	}
	if parseErr != nil {
		s.log.Warn("generation callback partially parsed", "user_id", userID, "task_id", taskID, "err", parseErr)
	}

	log := s.log.With("user_id", userID, "task_id", taskID, "strategy", strategy)

	entry, submitted := s.submission(ctx, userID, taskID)
	if !submitted {
		log.Error("generation callback names a task the user never submitted", "raw", string(raw))
		s.deadLetter(ctx, taskID, raw)
		return CallbackUnresolved
	}

	first, err := s.pending.MarkCompleted(ctx, taskID)
	if err != nil {
		log.Error("mark task completed", "err", err)
	} else if !first {
		log.Info("duplicate generation callback ignored")
		return CallbackDuplicate
	}

	lang := s.ledger.Locale(ctx, userID)

	if !cb.Succeeded() {
		log.Warn("generation failed at provider", "state", cb.State(), "fail_code", cb.FailCode(), "fail_msg", cb.FailMsg())
		if err := s.ledger.Refund(ctx, userID, videoCost); err != nil {
			log.Error("refund after provider failure", "err", err)
		} else {
			s.metrics.Refunds.WithLabelValues(string(CallbackProviderFailed)).Inc()
		}
		key := "video_failed"
		if cb.ContentPolicy() {
			key = "video_failed_policy"
		}
		s.notify(ctx, userID, i18n.T(lang, key, s.creditsLeft(ctx, userID)))
		s.cleanup(ctx, userID, taskID)
		entry.Status = string(CallbackProviderFailed)
		s.logGeneration(ctx, entry)
		return CallbackProviderFailed
	}

	method, err := s.deliver(ctx, userID, lang, cb.VideoURL())
	if err != nil {
		log.Error("video could not be delivered", "url", cb.VideoURL(), "err", err)
		s.deadLetter(ctx, taskID, raw)
		s.cleanup(ctx, userID, taskID)
		entry.Status = string(CallbackUndeliverable)
		s.logGeneration(ctx, entry)
		return CallbackUndeliverable
	}
	s.metrics.Deliveries.WithLabelValues(method).Inc()
	log.Info("video delivered", "method", method)

	s.notify(ctx, userID, i18n.T(lang, "video_ready", s.creditsLeft(ctx, userID)))
	s.cleanup(ctx, userID, taskID)
	entry.Status = string(CallbackDelivered)
	s.logGeneration(ctx, entry)
	return CallbackDelivered
}

// submission finds the request behind taskID. The task belongs to userID when
// its submission row exists or the user's pending entry still tracks it.
func (s *GenerationService) submission(ctx context.Context, userID int64, taskID string) (models.GenerationLog, bool) {
	entry := models.GenerationLog{TelegramID: userID, TaskID: taskID}
	if s.generations != nil {
		row, err := s.generations.FindSubmitted(ctx, userID, taskID)
		if err != nil {
			s.log.Error("find submitted task", "user_id", userID, "task_id", taskID, "err", err)
		} else if row != nil {
			entry.Orientation, entry.Prompt = row.Orientation, row.Prompt
			return entry, true
		}
	}
	task, err := s.pending.Get(ctx, userID)
	if err != nil {
		s.log.Error("get pending task", "user_id", userID, "err", err)
		return entry, false
	}
	if task == nil || task.TaskID != taskID {
		return entry, false
	}
	entry.Orientation, entry.Prompt = task.Orientation, task.Prompt
	return entry, true
}

// deadLetter keeps raw for manual reconciliation.
func (s *GenerationService) deadLetter(ctx context.Context, taskID string, raw []byte) {
	if s.generations == nil {
		return
	}
	if err := s.generations.SaveDeadLetter(ctx, taskID, raw); err != nil {
		s.log.Error("save dead letter", "task_id", taskID, "err", err)
	}
}

// deliver walks the fallback chain: send by URL, upload the bytes, send a link.
func (s *GenerationService) deliver(ctx context.Context, userID int64, lang, videoURL string) (string, error) {
	if s.messenger == nil {
		return "", errors.New("messenger not configured")
	}

	urlErr := s.messenger.SendVideoURL(ctx, userID, videoURL, "")
	if urlErr == nil {
		return DeliveryURL, nil
	}
	s.log.Warn("send video by url failed", "user_id", userID, "err", urlErr)

	data, err := s.provider.Download(ctx, videoURL)
	if err != nil {
		s.log.Warn("download video failed", "user_id", userID, "err", err)
	} else {
		uploadErr := s.messenger.SendVideoBytes(ctx, userID, "video.mp4", data, "")
		if uploadErr == nil {
			return DeliveryUpload, nil
		}
		s.log.Warn("upload video failed", "user_id", userID, "err", uploadErr)
	}

	link := videoURL
	if len(data) > 0 && s.archive != nil {
		archived, err := s.archive.UploadVideo(ctx, userID, data)
		if err != nil {
			s.log.Warn("archive video failed", "user_id", userID, "err", err)
		} else {
			link = archived
		}
	}
	if _, err := s.messenger.SendText(ctx, userID, i18n.T(lang, "video_link", link)); err != nil {
		return "", errors.Join(urlErr, err)
	}
	return DeliveryLink, nil
}

// cleanup removes the pending entry and its chat message only while the entry
// still tracks taskID; a newer request of the user is left alone.
func (s *GenerationService) cleanup(ctx context.Context, userID int64, taskID string) {
	task, err := s.pending.ClearIfTask(ctx, userID, taskID)
	if err != nil {
		s.log.Error("clear settled task", "user_id", userID, "task_id", taskID, "err", err)
		return
	}
	if task == nil || task.Stage != pending.StageProcessing || task.MessageID == 0 || s.messenger == nil {
		return
	}
	if err := s.messenger.DeleteMessage(ctx, userID, task.MessageID); err != nil {
		s.log.Warn("delete progress message", "user_id", userID, "message_id", task.MessageID, "err", err)
	}
}

func (s *GenerationService) notify(ctx context.Context, userID int64, text string) {
	if s.messenger == nil {
		return
	}
	if _, err := s.messenger.SendText(ctx, userID, text); err != nil {
		s.log.Error("notify user", "user_id", userID, "err", err)
	}
}
