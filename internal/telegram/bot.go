package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"github.com/digkill/SoraVideoBot/internal/config"
	"github.com/digkill/SoraVideoBot/internal/i18n"
	"github.com/digkill/SoraVideoBot/internal/kie"
	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/pending"
	"github.com/digkill/SoraVideoBot/internal/repository"
	"github.com/digkill/SoraVideoBot/internal/service"
)

// API is the part of the Bot API client the bot talks to.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Poller receives updates by long polling.
type Poller interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	cfg        config.Config
	api        API
	poller     Poller
	log        *slog.Logger
	ledger     *service.LedgerService
	generation *service.GenerationService
	payments   *service.PaymentService
	plans      *service.PlanService
	support    *supportSessions

	sem      *semaphore.Weighted
	inflight sync.WaitGroup
	handle   func(ctx context.Context, update tgbotapi.Update)
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, ledger *service.LedgerService, generation *service.GenerationService, payments *service.PaymentService, plans *service.PlanService) *Bot {
	b := newBot(cfg, api, log, ledger, generation, payments, plans)
	b.poller = api
	return b
}

func newBot(cfg config.Config, api API, log *slog.Logger, ledger *service.LedgerService, generation *service.GenerationService, payments *service.PaymentService, plans *service.PlanService) *Bot {
	limit := cfg.MaxConcurrentUpdates
	if limit <= 0 {
		limit = 32
	}
	b := &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		ledger:     ledger,
		generation: generation,
		payments:   payments,
		plans:      plans,
		support:    newSupportSessions(),
		sem:        semaphore.NewWeighted(int64(limit)),
	}
	b.handle = b.handleUpdate
	return b
}

// Run receives updates until ctx is done. In webhook mode updates arrive via
// Dispatch from the HTTP server and Run only registers the webhook.
func (b *Bot) Run(ctx context.Context) error {
	defer b.inflight.Wait()

	if b.cfg.TelegramMode == config.TelegramModeWebhook {
		wh, err := tgbotapi.NewWebhook(b.cfg.PublicURL + "/telegram/webhook")
		if err != nil {
			return fmt.Errorf("build webhook: %w", err)
		}
		if _, err := b.api.Request(wh); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		b.log.Info("telegram bot started", "mode", config.TelegramModeWebhook)
		<-ctx.Done()
		return ctx.Err()
	}

	if b.poller == nil {
		return errors.New("polling requires a bot api client")
	}
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.log.Warn("delete webhook", "err", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.poller.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "mode", config.TelegramModePolling)

	for {
		select {
		case update := <-updates:
			b.Dispatch(ctx, update)
		case <-ctx.Done():
			b.poller.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

// Dispatch handles the update on its own goroutine, bounded by
// MaxConcurrentUpdates. It blocks while the bound is reached.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer b.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("update handler panicked", "update_id", update.UpdateID, "panic", r)
			}
		}()
		b.handle(context.WithoutCancel(ctx), update)
	}()
}

// Wait blocks until every dispatched update is handled.
func (b *Bot) Wait() {
	b.inflight.Wait()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	user, err := b.ensureUser(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		b.log.Error("ensure user", "chat_id", msg.Chat.ID, "err", err)
		b.sendText(msg.Chat.ID, i18n.T(b.cfg.DefaultLanguage, "ledger_unavailable"))
		return
	}
	lang := user.Locale

	if msg.IsCommand() {
		b.support.Stop(msg.Chat.ID)
		b.handleCommand(ctx, msg, user)
		return
	}

	if b.support.Stop(msg.Chat.ID) {
		b.forwardToSupport(msg, user)
		return
	}

	task, err := b.generation.Pending(ctx, user.TelegramID)
	if err != nil {
		b.log.Error("get pending task", "user_id", user.TelegramID, "err", err)
		b.sendText(msg.Chat.ID, i18n.T(lang, "error_generic"))
		return
	}
	switch {
	case task != nil && task.Stage == pending.StageAwaitingDescription:
		b.handleDescription(ctx, msg, user, task.Orientation)
	case task != nil && task.Stage == pending.StageAwaitingOrientation:
		b.sendWithKeyboard(msg.Chat.ID, i18n.T(lang, "choose_orientation"), orientationKeyboard(lang))
	default:
		b.sendWithKeyboard(msg.Chat.ID, i18n.T(lang, "unknown_text"), mainMenuKeyboard(lang))
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *models.User) {
	chatID, lang := msg.Chat.ID, user.Locale
	switch msg.Command() {
	case "start":
		name := user.FirstName
		if name == "" {
			name = user.Username
		}
		b.sendText(chatID, i18n.T(lang, "welcome", name, i18n.PlanName(lang, user.Plan), user.VideosLeft))
		b.sendWithKeyboard(chatID, i18n.T(lang, "choose_action"), mainMenuKeyboard(lang))
	case "video":
		b.startVideo(ctx, chatID, user)
	case "buy":
		b.showPlans(ctx, chatID, lang)
	case "profile", "balance":
		b.showProfile(ctx, chatID, user)
	case "help":
		b.startSupport(chatID, lang)
	case "language":
		b.sendWithKeyboard(chatID, i18n.T(lang, "choose_language"), languageKeyboard())
	case "examples":
		b.sendWithKeyboard(chatID, i18n.T(lang, "examples"), backKeyboard(lang))
	default:
		b.sendWithKeyboard(chatID, i18n.T(lang, "instructions"), mainMenuKeyboard(lang))
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("callback ack", "err", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	user, err := b.ensureUser(ctx, cb.From, chatID)
	if err != nil {
		b.log.Error("ensure user", "chat_id", chatID, "err", err)
		b.sendText(chatID, i18n.T(b.cfg.DefaultLanguage, "ledger_unavailable"))
		return
	}
	lang := user.Locale

	switch data := cb.Data; {
	case data == cbVideo:
		b.startVideo(ctx, chatID, user)
	case data == cbBuy:
		b.showPlans(ctx, chatID, lang)
	case data == cbProfile:
		b.showProfile(ctx, chatID, user)
	case data == cbHelp:
		b.startSupport(chatID, lang)
	case data == cbCancelHelp:
		b.support.Stop(chatID)
		b.sendWithKeyboard(chatID, i18n.T(lang, "choose_action"), mainMenuKeyboard(lang))
	case data == cbLanguage:
		b.sendWithKeyboard(chatID, i18n.T(lang, "choose_language"), languageKeyboard())
	case data == cbExamples:
		b.sendWithKeyboard(chatID, i18n.T(lang, "examples"), backKeyboard(lang))
	case data == cbMainMenu:
		if err := b.generation.Cancel(ctx, user.TelegramID); err != nil {
			b.log.Warn("cancel pending task", "user_id", user.TelegramID, "err", err)
		}
		b.sendWithKeyboard(chatID, i18n.T(lang, "choose_action"), mainMenuKeyboard(lang))
	case strings.HasPrefix(data, cbOrientation):
		b.chooseOrientation(ctx, chatID, user, models.Orientation(strings.TrimPrefix(data, cbOrientation)))
	case strings.HasPrefix(data, cbBuyCard):
		b.createPayment(ctx, chatID, user, strings.TrimPrefix(data, cbBuyCard), service.ProviderYooKassa)
	case strings.HasPrefix(data, cbBuyTribute):
		b.createPayment(ctx, chatID, user, strings.TrimPrefix(data, cbBuyTribute), service.ProviderTribute)
	case strings.HasPrefix(data, cbLang):
		b.setLanguage(ctx, chatID, user, strings.TrimPrefix(data, cbLang))
	default:
		b.log.Warn("unknown callback data", "data", data)
	}
}

func (b *Bot) startVideo(ctx context.Context, chatID int64, user *models.User) {
	lang := user.Locale
	_, err := b.generation.Begin(ctx, user.TelegramID)
	switch {
	case errors.Is(err, service.ErrCreditsRequired):
		b.showCreditsRequired(ctx, chatID, lang)
	case err != nil:
		b.log.Error("begin generation", "user_id", user.TelegramID, "err", err)
		b.sendText(chatID, i18n.T(lang, "ledger_unavailable"))
	default:
		b.sendWithKeyboard(chatID, i18n.T(lang, "choose_orientation"), orientationKeyboard(lang))
	}
}

func (b *Bot) chooseOrientation(ctx context.Context, chatID int64, user *models.User, o models.Orientation) {
	lang := user.Locale
	if err := b.generation.ChooseOrientation(ctx, user.TelegramID, o); err != nil {
		if !errors.Is(err, service.ErrNoPendingTask) {
			b.log.Warn("choose orientation", "user_id", user.TelegramID, "err", err)
		}
		b.sendWithKeyboard(chatID, i18n.T(lang, "no_pending"), mainMenuKeyboard(lang))
		return
	}
	b.sendText(chatID, i18n.T(lang, "orientation_chosen", i18n.T(lang, "orientation_"+string(o))))
}

func (b *Bot) handleDescription(ctx context.Context, msg *tgbotapi.Message, user *models.User, o models.Orientation) {
	chatID, lang := msg.Chat.ID, user.Locale
	description := strings.TrimSpace(msg.Text)
	if description == "" {
		b.sendText(chatID, i18n.T(lang, "empty_description"))
		return
	}

	accepted, err := b.SendText(ctx, chatID, i18n.T(lang, "accepted", i18n.T(lang, "orientation_"+string(o))))
	if err != nil {
		b.log.Warn("send accepted message", "user_id", user.TelegramID, "err", err)
	}

	out, err := b.generation.Submit(ctx, service.SubmitInput{
		UserID:      user.TelegramID,
		Description: description,
		MessageID:   accepted,
	})
	if err != nil {
		b.dropMessage(ctx, chatID, accepted)
		switch {
		case errors.Is(err, service.ErrCreditsRequired):
			b.showCreditsRequired(ctx, chatID, lang)
		case errors.Is(err, service.ErrNoPendingTask):
			// A duplicate description of an already submitted request.
		case errors.Is(err, service.ErrEmptyDescription):
			b.sendText(chatID, i18n.T(lang, "empty_description"))
		case errors.Is(err, service.ErrLedgerUnavailable):
			b.log.Error("submit generation", "user_id", user.TelegramID, "err", err)
			b.sendText(chatID, i18n.T(lang, "ledger_unavailable"))
		default:
			b.log.Error("submit generation", "user_id", user.TelegramID, "err", err)
			b.sendText(chatID, i18n.T(lang, "error_generic"))
		}
		return
	}

	if out.Status == kie.StatusSuccess {
		return
	}
	b.dropMessage(ctx, chatID, accepted)
	key := "submit_network"
	switch out.Status {
	case kie.StatusProviderRejected:
		key = "submit_rejected"
	case kie.StatusMisconfigured:
		key = "submit_misconfigured"
	}
	b.sendWithKeyboard(chatID, i18n.T(lang, key, out.CreditsLeft), mainMenuKeyboard(lang))
}

func (b *Bot) showCreditsRequired(ctx context.Context, chatID int64, lang string) {
	plans, err := b.plans.Active(ctx)
	if err != nil {
		b.log.Error("list plans", "err", err)
	}
	b.sendWithKeyboard(chatID, i18n.T(lang, "credits_required"), plansKeyboard(lang, plans, b.payments.Providers()))
}

func (b *Bot) showPlans(ctx context.Context, chatID int64, lang string) {
	providers := b.payments.Providers()
	if len(providers) == 0 {
		b.sendWithKeyboard(chatID, i18n.T(lang, "payments_off"), backKeyboard(lang))
		return
	}
	plans, err := b.plans.Active(ctx)
	if err != nil {
		b.log.Error("list plans", "err", err)
		b.sendText(chatID, i18n.T(lang, "error_generic"))
		return
	}
	b.sendWithKeyboard(chatID, i18n.T(lang, "buy_menu"), plansKeyboard(lang, plans, providers))
}

func (b *Bot) createPayment(ctx context.Context, chatID int64, user *models.User, planCode, provider string) {
	lang := user.Locale
	checkout, err := b.payments.CreatePayment(ctx, user, planCode, provider)
	if err != nil {
		if errors.Is(err, service.ErrPaymentsDisabled) {
			b.sendText(chatID, i18n.T(lang, "payments_off"))
			return
		}
		b.log.Error("create payment", "user_id", user.TelegramID, "plan", planCode, "provider", provider, "err", err)
		b.sendText(chatID, i18n.T(lang, "payment_fail"))
		return
	}
	price := i18n.Money(int64(checkout.Plan.PriceMinorUnits), checkout.Plan.Currency)
	text := i18n.T(lang, "payment_link", i18n.PlanName(lang, checkout.Plan.Code), price, checkout.URL)
	b.sendWithKeyboard(chatID, text, paymentKeyboard(lang, checkout.URL))
}

func (b *Bot) showProfile(ctx context.Context, chatID int64, user *models.User) {
	lang := user.Locale
	balance, err := b.ledger.Balance(ctx, user.TelegramID)
	if err != nil {
		b.log.Error("read balance", "user_id", user.TelegramID, "err", err)
		b.sendText(chatID, i18n.T(lang, "ledger_unavailable"))
		return
	}
	total := i18n.Money(balance.LifetimePaid, b.cfg.PaymentCurrency)
	b.sendWithKeyboard(chatID, i18n.T(lang, "profile", i18n.PlanName(lang, balance.Plan), balance.CreditsRemaining, total), mainMenuKeyboard(lang))
}

func (b *Bot) setLanguage(ctx context.Context, chatID int64, user *models.User, lang string) {
	if !i18n.Supported(lang) {
		b.sendWithKeyboard(chatID, i18n.T(user.Locale, "choose_language"), languageKeyboard())
		return
	}
	if err := b.ledger.SetLocale(ctx, user.TelegramID, lang); err != nil {
		b.log.Error("set locale", "user_id", user.TelegramID, "err", err)
		b.sendText(chatID, i18n.T(user.Locale, "error_generic"))
		return
	}
	b.sendWithKeyboard(chatID, i18n.T(lang, "language_set"), mainMenuKeyboard(lang))
}

func (b *Bot) startSupport(chatID int64, lang string) {
	b.support.Start(chatID)
	b.sendWithKeyboard(chatID, i18n.T(lang, "help_prompt"), cancelHelpKeyboard(lang))
}

func (b *Bot) forwardToSupport(msg *tgbotapi.Message, user *models.User) {
	lang := user.Locale
	if b.cfg.SupportChatID == 0 || strings.TrimSpace(msg.Text) == "" {
		b.sendWithKeyboard(msg.Chat.ID, i18n.T(lang, "help_failed"), mainMenuKeyboard(lang))
		return
	}
	text := i18n.T("ru", "help_forward", user.Username, user.FirstName, user.TelegramID, msg.Text)
	if _, err := b.api.Send(tgbotapi.NewMessage(b.cfg.SupportChatID, text)); err != nil {
		b.log.Error("forward to support", "user_id", user.TelegramID, "err", err)
		b.sendWithKeyboard(msg.Chat.ID, i18n.T(lang, "help_failed"), mainMenuKeyboard(lang))
		return
	}
	b.sendWithKeyboard(msg.Chat.ID, i18n.T(lang, "help_sent"), mainMenuKeyboard(lang))
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User, chatID int64) (*models.User, error) {
	profile := repository.Profile{TelegramID: chatID}
	if from != nil {
		profile.TelegramID = from.ID
		profile.Username = from.UserName
		profile.FirstName = from.FirstName
	}
	user, _, err := b.ledger.GetOrCreate(ctx, profile)
	if err != nil {
		return nil, err
	}
	if user.Locale == "" {
		user.Locale = b.cfg.DefaultLanguage
	}
	return user, nil
}

func (b *Bot) dropMessage(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := b.DeleteMessage(ctx, chatID, messageID); err != nil {
		b.log.Warn("delete message", "chat_id", chatID, "message_id", messageID, "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Error("send text", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "chat_id", chatID, "err", err)
	}
}
