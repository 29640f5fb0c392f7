package models

import "time"

// PlanConfig describes the monthly price and included limits for one plan tier.
// Rows live in the plans table seeded by migrations; the billing engine only
// ever reads them.
type PlanConfig struct {
	ID                  int64     `json:"id"`
	Slug                Plan      `json:"slug"`
	Name                string    `json:"name"`
	PriceKopecksMonthly int64     `json:"price_kopecks_monthly"`
	StorageIncludedGb   int       `json:"storage_included_gb"`
	MaxProjects         int       `json:"max_projects"`
	MaxMembers          int       `json:"max_members"`
	IsActive            bool      `json:"is_active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Free reports whether the plan carries no monthly charge.
func (p *PlanConfig) Free() bool {
	return p.PriceKopecksMonthly <= 0
}
