package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

// PlanChangeTiming selects when a plan change takes effect.
type PlanChangeTiming string

const (
	TimingImmediate PlanChangeTiming = "immediate"
	TimingPeriodEnd PlanChangeTiming = "period_end"
)

// ParseTiming validates a timing value from the API surface.
func ParseTiming(s string) (PlanChangeTiming, error) {
	switch PlanChangeTiming(s) {
	case TimingImmediate, TimingPeriodEnd:
		return PlanChangeTiming(s), nil
	}
	return "", fmt.Errorf("billing: unknown plan change timing %q", s)
}

// PlanChangePreview reports what ChangePlan would do, without mutating
// anything. WillFail is true when the computed charge exceeds the current
// wallet balance.
type PlanChangePreview struct {
	CurrentPlan    models.Plan      `json:"current_plan"`
	NextPlan       models.Plan      `json:"next_plan"`
	Timing         PlanChangeTiming `json:"timing"`
	ChargeKopecks  int64            `json:"charge_kopecks"`
	CreditKopecks  int64            `json:"credit_kopecks"`
	EffectiveAt    time.Time        `json:"effective_at"`
	PeriodStart    *time.Time       `json:"period_start,omitempty"`
	PeriodEnd      *time.Time       `json:"period_end,omitempty"`
	BalanceKopecks int64            `json:"balance_kopecks"`
	WillFail       bool             `json:"will_fail"`
}

// PlanChangeResult reports the outcome of ChangePlan. Insufficient funds is a
// structured outcome, not an error, so callers can prompt for a top-up.
type PlanChangeResult struct {
	OK                bool                 `json:"ok"`
	InsufficientFunds bool                 `json:"insufficient_funds,omitempty"`
	RequiredKopecks   int64                `json:"required_kopecks,omitempty"`
	AvailableKopecks  int64                `json:"available_kopecks,omitempty"`
	Subscription      *models.Subscription `json:"subscription,omitempty"`
	ChargeKopecks     int64                `json:"charge_kopecks"`
	CreditKopecks     int64                `json:"credit_kopecks"`
	EffectiveAt       time.Time            `json:"effective_at"`
}

// planQuote is the shared pricing outcome of an immediate plan change.
type planQuote struct {
	chargeKopecks int64
	creditKopecks int64
	periodStart   *time.Time
	periodEnd     *time.Time
}

// quoteImmediate computes the prorated cost of switching plans at now.
//
// With an active paid period the unused value of the current plan offsets the
// cost of the new plan over the same remaining fraction, and the period bounds
// are retained: a prorated switch does not reset the billing cycle. Otherwise
// the full next price is charged and a fresh calendar-month period starts.
func quoteImmediate(sub *models.Subscription, currentPlan, nextPlan *models.PlanConfig, now time.Time) planQuote {
	hasActivePaidPeriod := sub.Status == models.SubscriptionActive &&
		currentPlan.PriceKopecksMonthly > 0 &&
		sub.PeriodStart != nil && sub.PeriodEnd != nil &&
		sub.PeriodEnd.After(now)

	if !hasActivePaidPeriod {
		start, end := monthBounds(now)
		return planQuote{
			chargeKopecks: nextPlan.PriceKopecksMonthly,
			periodStart:   &start,
			periodEnd:     &end,
		}
	}

	fraction := periodFraction(*sub.PeriodStart, *sub.PeriodEnd, now)
	unusedValue := float64(currentPlan.PriceKopecksMonthly) * fraction
	newCost := float64(nextPlan.PriceKopecksMonthly) * fraction
	delta := roundKopecks(newCost - unusedValue)

	q := planQuote{periodStart: sub.PeriodStart, periodEnd: sub.PeriodEnd}
	if delta >= 0 {
		q.chargeKopecks = delta
	} else {
		q.creditKopecks = -delta
	}
	return q
}

// PreviewPlanChange computes the same quote as ChangePlan without touching any
// persisted state. The wallet balance is only read to report WillFail.
func (e *Engine) PreviewPlanChange(ctx context.Context, orgID string, nextPlanSlug models.Plan, timing PlanChangeTiming, now time.Time) (*PlanChangePreview, error) {
	now = now.UTC()

	sub, err := e.subs.Get(ctx, nil, orgID)
	if err != nil {
		if !errors.Is(err, store.ErrSubscriptionNotFound) {
			return nil, err
		}
		sub = &models.Subscription{OrgID: orgID, Plan: models.PlanBasic, Status: models.SubscriptionInactive}
	}

	currentPlan, nextPlan, err := e.lookupPlanPair(ctx, sub.Plan, nextPlanSlug)
	if err != nil {
		return nil, err
	}

	preview := &PlanChangePreview{
		CurrentPlan: sub.Plan,
		NextPlan:    nextPlanSlug,
		Timing:      timing,
	}

	if timing == TimingPeriodEnd && sub.PeriodEnd != nil && sub.PeriodEnd.After(now) {
		// Deferred change: no money moves now.
		preview.EffectiveAt = *sub.PeriodEnd
		preview.PeriodStart = sub.PeriodStart
		preview.PeriodEnd = sub.PeriodEnd
		return preview, nil
	}

	// An already-ended period collapses period_end into immediate.
	preview.Timing = TimingImmediate
	preview.EffectiveAt = now

	quote := quoteImmediate(sub, currentPlan, nextPlan, now)
	preview.ChargeKopecks = quote.chargeKopecks
	preview.CreditKopecks = quote.creditKopecks
	preview.PeriodStart = quote.periodStart
	preview.PeriodEnd = quote.periodEnd

	wallet, err := e.wallets.Get(ctx, nil, orgID)
	if err != nil {
		if !errors.Is(err, store.ErrWalletNotFound) {
			return nil, err
		}
	} else {
		preview.BalanceKopecks = wallet.BalanceKopecks
	}
	preview.WillFail = quote.chargeKopecks > preview.BalanceKopecks

	return preview, nil
}

// ChangePlan switches the organization to nextPlanSlug. With timing
// period_end and a running period the change is stored as pending and applied
// by the next billing cycle. Otherwise the prorated charge/credit and the
// subscription update are applied atomically: a failed debit leaves the
// subscription unchanged.
func (e *Engine) ChangePlan(ctx context.Context, orgID string, nextPlanSlug models.Plan, timing PlanChangeTiming, now time.Time) (*PlanChangeResult, error) {
	now = now.UTC()

	sub, err := e.subs.Ensure(ctx, nil, orgID)
	if err != nil {
		return nil, err
	}

	currentPlan, nextPlan, err := e.lookupPlanPair(ctx, sub.Plan, nextPlanSlug)
	if err != nil {
		return nil, err
	}

	if timing == TimingPeriodEnd && sub.PeriodEnd != nil && sub.PeriodEnd.After(now) {
		pending := nextPlanSlug
		sub.PendingPlan = &pending
		sub.PendingPlanEffectiveAt = sub.PeriodEnd
		sub.PendingPlanRequestedAt = &now
		if err := e.subs.Update(ctx, nil, sub); err != nil {
			return nil, err
		}
		log.Printf("[billing] org=%s plan change %s -> %s deferred to %s", orgID, sub.Plan, nextPlanSlug, sub.PeriodEnd.Format(time.RFC3339))
		return &PlanChangeResult{OK: true, Subscription: sub, EffectiveAt: *sub.PeriodEnd}, nil
	}

	quote := quoteImmediate(sub, currentPlan, nextPlan, now)

	applySubscription := func(q store.Querier) error {
		sub.Plan = nextPlanSlug
		sub.Status = models.SubscriptionActive
		sub.PeriodStart = quote.periodStart
		sub.PeriodEnd = quote.periodEnd
		sub.GraceUntil = nil
		sub.ClearPendingPlan()
		return e.subs.Update(ctx, q, sub)
	}

	if quote.chargeKopecks <= 0 && quote.creditKopecks <= 0 {
		if err := applySubscription(nil); err != nil {
			return nil, err
		}
		return &PlanChangeResult{OK: true, Subscription: sub, EffectiveAt: now}, nil
	}

	meta := models.JSONB{
		"from_plan": string(currentPlan.Slug),
		"to_plan":   string(nextPlanSlug),
	}
	if quote.periodStart != nil && quote.periodEnd != nil {
		meta["period_start"] = quote.periodStart.Format(time.RFC3339)
		meta["period_end"] = quote.periodEnd.Format(time.RFC3339)
	}

	var result *PlanChangeResult
	err = e.tx.RunInTransaction(ctx, func(q store.Querier) error {
		if quote.chargeKopecks > 0 {
			debit, err := e.wallets.Debit(ctx, q, orgID, quote.chargeKopecks, models.TxSourcePlanChange, meta)
			if err != nil {
				return err
			}
			if !debit.OK {
				result = &PlanChangeResult{
					InsufficientFunds: true,
					RequiredKopecks:   quote.chargeKopecks,
					AvailableKopecks:  debit.AvailableKopecks,
					ChargeKopecks:     quote.chargeKopecks,
					EffectiveAt:       now,
				}
				return nil
			}
		}
		if quote.creditKopecks > 0 {
			if _, err := e.wallets.Credit(ctx, q, orgID, quote.creditKopecks, models.TxSourcePlanChange, meta); err != nil {
				return err
			}
		}
		if err := applySubscription(q); err != nil {
			return err
		}
		result = &PlanChangeResult{
			OK:            true,
			Subscription:  sub,
			ChargeKopecks: quote.chargeKopecks,
			CreditKopecks: quote.creditKopecks,
			EffectiveAt:   now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.OK {
		log.Printf("[billing] org=%s plan change %s -> %s charge=%s credit=%s", orgID, currentPlan.Slug, nextPlanSlug,
			models.RubString(result.ChargeKopecks), models.RubString(result.CreditKopecks))
	} else {
		log.Printf("[billing] org=%s plan change %s -> %s rejected: insufficient funds (required=%s available=%s)", orgID,
			currentPlan.Slug, nextPlanSlug, models.RubString(result.RequiredKopecks), models.RubString(result.AvailableKopecks))
	}
	return result, nil
}

func (e *Engine) lookupPlanPair(ctx context.Context, current, next models.Plan) (*models.PlanConfig, *models.PlanConfig, error) {
	currentPlan, err := e.plans.GetBySlug(ctx, current)
	if err != nil {
		return nil, nil, fmt.Errorf("billing: lookup plan %q: %w", current, err)
	}
	nextPlan, err := e.plans.GetBySlug(ctx, next)
	if err != nil {
		return nil, nil, fmt.Errorf("billing: lookup plan %q: %w", next, err)
	}
	return currentPlan, nextPlan, nil
}
