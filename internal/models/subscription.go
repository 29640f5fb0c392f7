package models

import "time"

// Plan identifies a subscription tier.
type Plan string

const (
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanBusiness   Plan = "business"
	PlanEnterprise Plan = "enterprise"
)

// Valid reports whether the plan is one of the known tiers.
func (p Plan) Valid() bool {
	switch p {
	case PlanBasic, PlanPro, PlanBusiness, PlanEnterprise:
		return true
	}
	return false
}

// SubscriptionStatus represents the lifecycle state of an organization subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionInactive  SubscriptionStatus = "inactive"
)

// Subscription is the single billing record owned by an organization. PeriodStart
// and PeriodEnd bound the current calendar-month billing period. GraceUntil extends
// write access past a failed charge; GraceUsedAt enforces one grace activation per
// calendar month. The Pending* fields hold a deferred plan change applied once
// PendingPlanEffectiveAt is reached.
type Subscription struct {
	ID                     int64              `json:"id"`
	OrgID                  string             `json:"org_id"`
	Plan                   Plan               `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	PeriodStart            *time.Time         `json:"period_start,omitempty"`
	PeriodEnd              *time.Time         `json:"period_end,omitempty"`
	GraceUntil             *time.Time         `json:"grace_until,omitempty"`
	GraceUsedAt            *time.Time         `json:"grace_used_at,omitempty"`
	PendingPlan            *Plan              `json:"pending_plan,omitempty"`
	PendingPlanEffectiveAt *time.Time         `json:"pending_plan_effective_at,omitempty"`
	PendingPlanRequestedAt *time.Time         `json:"pending_plan_requested_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// HasPendingPlan reports whether a deferred plan change is stored.
func (s *Subscription) HasPendingPlan() bool {
	return s.PendingPlan != nil && s.PendingPlanEffectiveAt != nil
}

// ClearPendingPlan drops any stored deferred plan change.
func (s *Subscription) ClearPendingPlan() {
	s.PendingPlan = nil
	s.PendingPlanEffectiveAt = nil
	s.PendingPlanRequestedAt = nil
}
