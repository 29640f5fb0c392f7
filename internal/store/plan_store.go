package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brigada-app/backend/internal/models"
)

// ErrPlanNotFound is returned when a plan is not found
var ErrPlanNotFound = errors.New("plan not found")

const planColumns = `id, slug, name, price_kopecks_monthly, storage_included_gb,
	max_projects, max_members, is_active, created_at, updated_at`

// PlanStore provides read access to the plan catalog. Plans are seeded by
// migrations; the billing engine never writes them.
type PlanStore struct {
	db *sql.DB
}

// NewPlanStore creates a new PlanStore instance
func NewPlanStore(db *sql.DB) (*PlanStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &PlanStore{db: db}, nil
}

// List returns all active plans ordered by monthly price.
func (s *PlanStore) List(ctx context.Context) ([]models.PlanConfig, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE is_active = TRUE ORDER BY price_kopecks_monthly ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.PlanConfig
	for rows.Next() {
		var p models.PlanConfig
		if err := rows.Scan(
			&p.ID, &p.Slug, &p.Name, &p.PriceKopecksMonthly, &p.StorageIncludedGb,
			&p.MaxProjects, &p.MaxMembers, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetBySlug returns the plan configuration for a tier.
func (s *PlanStore) GetBySlug(ctx context.Context, slug models.Plan) (*models.PlanConfig, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE slug = $1`

	var p models.PlanConfig
	err := s.db.QueryRowContext(ctx, query, slug).Scan(
		&p.ID, &p.Slug, &p.Name, &p.PriceKopecksMonthly, &p.StorageIncludedGb,
		&p.MaxProjects, &p.MaxMembers, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan by slug: %w", err)
	}
	return &p, nil
}
