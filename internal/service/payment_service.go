package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digkill/SoraVideoBot/internal/config"
	"github.com/digkill/SoraVideoBot/internal/i18n"
	"github.com/digkill/SoraVideoBot/internal/metrics"
	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/repository"
)

const (
	ProviderYooKassa = "yookassa"
	ProviderTribute  = "tribute"
)

type PaymentService struct {
	cfg      config.Config
	log      *slog.Logger
	payments *repository.PaymentRepository
	ledger   *LedgerService
	plans    *PlanService
	metrics  *metrics.Metrics
	notifier Messenger
	client   *http.Client
}

// Checkout is a created payment the user still has to complete.
type Checkout struct {
	Provider  string
	PaymentID string
	URL       string
	Plan      models.Plan
}

// Activation is the outcome of a payment webhook.
type Activation struct {
	Applied bool
	Ignored bool
	Grant   Grant
	Balance Balance
}

func NewPaymentService(cfg config.Config, log *slog.Logger, payments *repository.PaymentRepository, ledger *LedgerService, plans *PlanService, m *metrics.Metrics) *PaymentService {
	timeout := cfg.PaymentTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PaymentService{
		cfg:      cfg,
		log:      log,
		payments: payments,
		ledger:   ledger,
		plans:    plans,
		metrics:  m,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *PaymentService) SetNotifier(m Messenger) { s.notifier = m }

// Providers lists the payment providers that are configured.
func (s *PaymentService) Providers() []string {
	var out []string
	if s.cfg.YooKassaEnabled() {
		out = append(out, ProviderYooKassa)
	}
	if s.cfg.TributeAPIKey != "" {
		out = append(out, ProviderTribute)
	}
	return out
}

func (s *PaymentService) CreatePayment(ctx context.Context, user *models.User, planCode, provider string) (*Checkout, error) {
	plan, err := s.plans.GetByCode(ctx, planCode)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if plan == nil || !plan.IsActive {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planCode)
	}

	switch provider {
	case ProviderYooKassa:
		if !s.cfg.YooKassaEnabled() {
			return nil, ErrPaymentsDisabled
		}
		return s.createYooKassaPayment(ctx, user, plan)
	case ProviderTribute:
		if s.cfg.TributeAPIKey == "" {
			return nil, ErrPaymentsDisabled
		}
		return s.createTributeSubscription(ctx, user, plan)
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", provider)
	}
}

// Activate records the provider payment and tops up the ledger atomically. A
// provider payment id that was already applied is reported with Applied=false
// and credits nothing.
func (s *PaymentService) Activate(ctx context.Context, g Grant) (*Activation, error) {
	if g.UserID <= 0 {
		s.metrics.Payments.WithLabelValues(g.Provider, "error").Inc()
		return nil, ErrUnknownUser
	}
	if g.Credits <= 0 {
		s.metrics.Payments.WithLabelValues(g.Provider, "error").Inc()
		return nil, fmt.Errorf("%w: no credits for %q", ErrUnknownPlan, g.PlanCode)
	}

	applied, err := s.payments.ApplySucceeded(ctx, &models.Payment{
		TelegramID:        g.UserID,
		PlanCode:          g.PlanCode,
		Provider:          g.Provider,
		ProviderPaymentID: g.ProviderPaymentID,
		Currency:          g.Currency,
		Amount:            g.AmountPaid,
		Credits:           g.Credits,
		RawPayload:        g.RawPayload,
	})
	if err != nil {
		s.metrics.Payments.WithLabelValues(g.Provider, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	balance, err := s.ledger.Balance(ctx, g.UserID)
	if err != nil {
		s.log.Error("read balance after payment", "user_id", g.UserID, "err", err)
	}
	act := &Activation{Applied: applied, Grant: g, Balance: balance}

	if !applied {
		s.metrics.Payments.WithLabelValues(g.Provider, "duplicate").Inc()
		s.log.Info("duplicate payment ignored", "provider", g.Provider, "payment_id", g.ProviderPaymentID, "user_id", g.UserID)
		return act, nil
	}

	s.metrics.Payments.WithLabelValues(g.Provider, "applied").Inc()
	s.log.Info("payment activated", "provider", g.Provider, "payment_id", g.ProviderPaymentID,
		"user_id", g.UserID, "plan", g.PlanCode, "credits", g.Credits, "amount", g.AmountPaid)

	if s.notifier != nil {
		lang := s.ledger.Locale(ctx, g.UserID)
		if _, err := s.notifier.SendText(ctx, g.UserID, i18n.T(lang, "payment_done", g.Credits, balance.CreditsRemaining)); err != nil {
			s.log.Warn("notify payment", "user_id", g.UserID, "err", err)
		}
	}
	return act, nil
}

func (s *PaymentService) ignored(provider string) *Activation {
	s.metrics.Payments.WithLabelValues(provider, "ignored").Inc()
	return &Activation{Ignored: true}
}

// metaInt reads an integer that providers send either as a string or a number.
func metaInt(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			if f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64); ferr == nil {
				return int64(f)
			}
			return 0
		}
		return n
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func metaString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	}
	return ""
}

// parseMinorUnits turns a decimal amount such as "990.00" into 99000.
func parseMinorUnits(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	whole, frac, _ := strings.Cut(value, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	frac = (frac + "00")[:2]
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0
	}
	return w*100 + f
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
