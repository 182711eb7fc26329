package service

import (
	"context"
	"fmt"

	"github.com/digkill/SoraVideoBot/internal/config"
	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/repository"
)

type PlanService struct {
	cfg  config.Config
	repo *repository.PlanRepository
}

type UpdatePlanInput struct {
	Title           *string `json:"title"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"price_minor_units"`
	Credits         *int    `json:"credits"`
	IsActive        *bool   `json:"is_active"`
}

func NewPlanService(cfg config.Config, repo *repository.PlanRepository) *PlanService {
	return &PlanService{cfg: cfg, repo: repo}
}

// DefaultPlans is the catalog seeded on first start.
func DefaultPlans(currency string) []models.Plan {
	if currency == "" {
		currency = "RUB"
	}
	return []models.Plan{
		{Code: "trial", Title: "Пробный", Currency: currency, PriceMinorUnits: 39000, Credits: 3, IsActive: true},
		{Code: "basic", Title: "Базовый", Currency: currency, PriceMinorUnits: 99000, Credits: 10, IsActive: true},
		{Code: "maximum", Title: "Максимум", Currency: currency, PriceMinorUnits: 219000, Credits: 30, IsActive: true},
	}
}

// EnsureDefaultPlans inserts catalog entries that are missing and leaves
// edited ones alone.
func (s *PlanService) EnsureDefaultPlans(ctx context.Context) error {
	for _, plan := range DefaultPlans(s.cfg.PaymentCurrency) {
		existing, err := s.repo.GetByCode(ctx, plan.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if _, err := s.repo.Create(ctx, &plan); err != nil {
			return fmt.Errorf("create default plan %s: %w", plan.Code, err)
		}
	}
	return nil
}

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	return s.repo.List(ctx)
}

// Active lists the plans offered to users.
func (s *PlanService) Active(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	active := plans[:0]
	for _, p := range plans {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *PlanService) GetByCode(ctx context.Context, code string) (*models.Plan, error) {
	return s.repo.GetByCode(ctx, code)
}

func (s *PlanService) Update(ctx context.Context, code string, input UpdatePlanInput) (*models.Plan, error) {
	existing, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrUnknownPlan
	}
	if input.Title != nil && *input.Title != "" {
		existing.Title = *input.Title
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil {
		if *input.PriceMinorUnits <= 0 {
			return nil, fmt.Errorf("price must be positive")
		}
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.Credits != nil {
		if *input.Credits <= 0 {
			return nil, fmt.Errorf("credits must be positive")
		}
		existing.Credits = *input.Credits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

// Resolve maps a paid plan onto the credits to grant. A positive count
// carried by the payment event wins over the catalog value.
func (s *PlanService) Resolve(ctx context.Context, code string, eventCredits int) (*models.Plan, int, error) {
	plan, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	if eventCredits > 0 {
		return plan, eventCredits, nil
	}
	if plan == nil {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownPlan, code)
	}
	return plan, plan.Credits, nil
}
