package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/SoraVideoBot/internal/models"
)

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, code, title, currency, price_minor_units, credits, is_active, created_at, updated_at`

func scanPlan(scan func(dest ...any) error) (*models.Plan, error) {
	var plan models.Plan
	if err := scan(&plan.ID, &plan.Code, &plan.Title, &plan.Currency, &plan.PriceMinorUnits, &plan.Credits, &plan.IsActive, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans ORDER BY price_minor_units ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) GetByCode(ctx context.Context, code string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans WHERE code = ?`
	plan, err := scanPlan(r.db.QueryRowContext(ctx, query, code).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	const query = `
INSERT INTO pricing_plans (code, title, currency, price_minor_units, credits, is_active)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, plan.Code, plan.Title, plan.Currency, plan.PriceMinorUnits, plan.Credits, plan.IsActive); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	return r.GetByCode(ctx, plan.Code)
}

func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	const query = `
UPDATE pricing_plans
SET title = ?, currency = ?, price_minor_units = ?, credits = ?, is_active = ?, updated_at = CURRENT_TIMESTAMP
WHERE code = ?`
	if _, err := r.db.ExecContext(ctx, query, plan.Title, plan.Currency, plan.PriceMinorUnits, plan.Credits, plan.IsActive, plan.Code); err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	return r.GetByCode(ctx, plan.Code)
}
