package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/repository"
)

// Balance is a read-only view of an account.
type Balance struct {
	Plan             string
	CreditsRemaining int
	LifetimePaid     int64
}

// Grant is a paid top-up of the ledger.
type Grant struct {
	UserID            int64
	PlanCode          string
	Credits           int
	AmountPaid        int64
	Currency          string
	Provider          string
	ProviderPaymentID string
	RawPayload        string
}

// LedgerService is the single authority over video credits. Every mutation
// is persisted before it returns.
type LedgerService struct {
	log           *slog.Logger
	users         *repository.UserRepository
	defaultLocale string
}

func NewLedgerService(log *slog.Logger, users *repository.UserRepository, defaultLocale string) *LedgerService {
	if defaultLocale == "" {
		defaultLocale = "ru"
	}
	return &LedgerService{log: log, users: users, defaultLocale: defaultLocale}
}

// Lookup returns nil for an account that does not exist yet.
func (s *LedgerService) Lookup(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.FindByTelegramID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return user, nil
}

func (s *LedgerService) GetOrCreate(ctx context.Context, profile repository.Profile) (*models.User, bool, error) {
	if profile.Locale == "" {
		profile.Locale = s.defaultLocale
	}
	user, created, err := s.users.Ensure(ctx, profile)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	if created {
		s.log.Info("user created", "user_id", profile.TelegramID)
	}
	return user, created, nil
}

// Balance of an unknown user is the zero balance on plan "none".
func (s *LedgerService) Balance(ctx context.Context, userID int64) (Balance, error) {
	user, err := s.Lookup(ctx, userID)
	if err != nil {
		return Balance{Plan: models.PlanNone}, err
	}
	if user == nil {
		return Balance{Plan: models.PlanNone}, nil
	}
	return Balance{
		Plan:             user.Plan,
		CreditsRemaining: user.VideosLeft,
		LifetimePaid:     user.TotalPaid,
	}, nil
}

// Debit reports false, leaving the balance untouched, when the user cannot
// afford amount.
func (s *LedgerService) Debit(ctx context.Context, userID int64, amount int) (bool, error) {
	ok, err := s.users.Debit(ctx, userID, amount)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return ok, nil
}

func (s *LedgerService) Refund(ctx context.Context, userID int64, amount int) error {
	ok, err := s.users.Credit(ctx, userID, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("refund %d: %w", userID, ErrUnknownUser)
	}
	s.log.Info("credits refunded", "user_id", userID, "amount", amount)
	return nil
}

// TopUp applies a grant directly, without a provider payment record.
func (s *LedgerService) TopUp(ctx context.Context, g Grant) error {
	if g.UserID <= 0 {
		return ErrUnknownUser
	}
	if g.Credits <= 0 {
		return fmt.Errorf("%w: non-positive credits", ErrUnknownPlan)
	}
	if err := s.users.TopUp(ctx, g.UserID, g.PlanCode, g.Credits, g.AmountPaid); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	s.log.Info("ledger topped up", "user_id", g.UserID, "plan", g.PlanCode, "credits", g.Credits)
	return nil
}

func (s *LedgerService) SetLocale(ctx context.Context, userID int64, locale string) error {
	return s.users.SetLocale(ctx, userID, locale)
}

// Locale is the stored language of the user or the bot default.
func (s *LedgerService) Locale(ctx context.Context, userID int64) string {
	user, err := s.users.FindByTelegramID(ctx, userID)
	if err != nil || user == nil || user.Locale == "" {
		return s.defaultLocale
	}
	return user.Locale
}
