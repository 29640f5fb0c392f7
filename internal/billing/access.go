package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

// AccessDecision is the engine's answer to "may this organization act now".
type AccessDecision struct {
	OK                  bool                      `json:"ok"`
	Plan                models.Plan               `json:"plan"`
	MonthlyPriceKopecks int64                     `json:"monthly_price_kopecks"`
	Status              models.SubscriptionStatus `json:"status"`
	GraceUntil          *time.Time                `json:"grace_until,omitempty"`
	GraceAvailable      bool                      `json:"grace_available"`
	ReadOnly            bool                      `json:"read_only"`
	Reason              string                    `json:"reason,omitempty"`
	PeriodStart         *time.Time                `json:"period_start,omitempty"`
	PeriodEnd           *time.Time                `json:"period_end,omitempty"`
}

// EvaluateReadAccess computes an access decision without mutating any state.
// Organizations with no subscription record are evaluated as the default
// basic/inactive subscription.
func (e *Engine) EvaluateReadAccess(ctx context.Context, orgID string, now time.Time) (*AccessDecision, error) {
	now = now.UTC()

	sub, err := e.subs.Get(ctx, nil, orgID)
	if err != nil {
		if !errors.Is(err, store.ErrSubscriptionNotFound) {
			return nil, err
		}
		sub = &models.Subscription{OrgID: orgID, Plan: models.PlanBasic, Status: models.SubscriptionInactive}
	}

	plan, err := e.plans.GetBySlug(ctx, sub.Plan)
	if err != nil {
		return nil, fmt.Errorf("billing: lookup plan %q: %w", sub.Plan, err)
	}
	return e.decide(ctx, sub, plan, now, false)
}

// EvaluateWriteAccess computes an access decision for the write path. It
// creates the subscription record on first touch and, when the billing period
// has expired, attempts the monthly charge before deciding.
func (e *Engine) EvaluateWriteAccess(ctx context.Context, orgID string, now time.Time) (*AccessDecision, error) {
	now = now.UTC()

	sub, err := e.subs.Ensure(ctx, nil, orgID)
	if err != nil {
		return nil, err
	}

	plan, err := e.plans.GetBySlug(ctx, sub.Plan)
	if err != nil {
		return nil, fmt.Errorf("billing: lookup plan %q: %w", sub.Plan, err)
	}
	return e.decide(ctx, sub, plan, now, true)
}

// decide applies the access rules in priority order. chargeOnExpiry is only
// honored on the first pass of the write path; after a charge attempt the
// result is re-evaluated without charging again.
func (e *Engine) decide(ctx context.Context, sub *models.Subscription, plan *models.PlanConfig, now time.Time, chargeOnExpiry bool) (*AccessDecision, error) {
	d := &AccessDecision{
		Plan:                sub.Plan,
		MonthlyPriceKopecks: plan.PriceKopecksMonthly,
		Status:              sub.Status,
		GraceUntil:          sub.GraceUntil,
		GraceAvailable:      graceAvailable(sub, now),
		PeriodStart:         sub.PeriodStart,
		PeriodEnd:           sub.PeriodEnd,
	}

	// Free plans are always writable regardless of wallet state.
	if plan.Free() {
		d.OK = true
		d.Status = models.SubscriptionActive
		return d, nil
	}

	if sub.Status == models.SubscriptionTrial && sub.PeriodEnd != nil && sub.PeriodEnd.After(now) {
		d.OK = true
		return d, nil
	}

	if sub.Status == models.SubscriptionActive && (sub.PeriodEnd == nil || sub.PeriodEnd.After(now)) {
		d.OK = true
		return d, nil
	}

	if chargeOnExpiry && sub.Status == models.SubscriptionActive && sub.PeriodEnd != nil && !sub.PeriodEnd.After(now) {
		res, err := e.ChargeSubscriptionPeriod(ctx, sub.OrgID, now)
		if err != nil {
			return nil, err
		}
		charged := res.Subscription
		chargedPlan := plan
		if charged.Plan != sub.Plan {
			// A pending plan change was applied during the charge.
			chargedPlan, err = e.plans.GetBySlug(ctx, charged.Plan)
			if err != nil {
				return nil, fmt.Errorf("billing: lookup plan %q: %w", charged.Plan, err)
			}
		}
		return e.decide(ctx, charged, chargedPlan, now, false)
	}

	if sub.GraceUntil != nil && sub.GraceUntil.After(now) {
		d.OK = true
		d.Reason = "grace period in use"
		return d, nil
	}

	d.OK = false
	d.ReadOnly = true
	d.Reason = "insufficient funds for subscription"
	return d, nil
}

// graceAvailable reports whether a grace period may still be activated: at
// most one activation per calendar month, measured against now's month.
func graceAvailable(sub *models.Subscription, now time.Time) bool {
	if sub.GraceUsedAt == nil {
		return true
	}
	return !withinMonth(*sub.GraceUsedAt, now)
}
