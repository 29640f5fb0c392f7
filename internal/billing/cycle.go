package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

// ChargeResult reports the outcome of a billing-period charge attempt.
type ChargeResult struct {
	OK             bool                 `json:"ok"`
	Subscription   *models.Subscription `json:"subscription"`
	ChargedKopecks int64                `json:"charged_kopecks"`
}

// ChargeSubscriptionPeriod advances the subscription into the calendar month
// containing now and attempts to debit the monthly price. A due pending plan
// change is applied before pricing. Insufficient funds is not an error: the
// subscription moves to past_due with the new period bounds recorded and the
// caller falls back to grace-period logic.
func (e *Engine) ChargeSubscriptionPeriod(ctx context.Context, orgID string, now time.Time) (*ChargeResult, error) {
	now = now.UTC()

	sub, err := e.subs.Ensure(ctx, nil, orgID)
	if err != nil {
		return nil, err
	}

	if sub.HasPendingPlan() && !sub.PendingPlanEffectiveAt.After(now) {
		log.Printf("[billing] org=%s applying pending plan change %s -> %s", orgID, sub.Plan, *sub.PendingPlan)
		sub.Plan = *sub.PendingPlan
		sub.ClearPendingPlan()
	}

	// Already paid through the period containing now; charging again would
	// double-bill the month.
	if sub.Status == models.SubscriptionActive && sub.PeriodStart != nil && sub.PeriodEnd != nil &&
		!now.Before(*sub.PeriodStart) && now.Before(*sub.PeriodEnd) {
		return &ChargeResult{OK: true, Subscription: sub}, nil
	}

	plan, err := e.plans.GetBySlug(ctx, sub.Plan)
	if err != nil {
		return nil, fmt.Errorf("billing: lookup plan %q: %w", sub.Plan, err)
	}

	start, end := monthBounds(now)

	if plan.Free() {
		sub.Status = models.SubscriptionActive
		sub.PeriodStart = &start
		sub.PeriodEnd = &end
		if err := e.subs.Update(ctx, nil, sub); err != nil {
			return nil, err
		}
		return &ChargeResult{OK: true, Subscription: sub, ChargedKopecks: 0}, nil
	}

	var result *ChargeResult
	err = e.tx.RunInTransaction(ctx, func(q store.Querier) error {
		wallet, err := e.wallets.Ensure(ctx, q, orgID)
		if err != nil {
			return err
		}

		if wallet.BalanceKopecks < plan.PriceKopecksMonthly {
			return e.markPastDue(ctx, q, sub, start, end, &result)
		}

		meta := models.JSONB{
			"plan":         string(sub.Plan),
			"period_start": start.Format(time.RFC3339),
			"period_end":   end.Format(time.RFC3339),
		}
		debit, err := e.wallets.Debit(ctx, q, orgID, plan.PriceKopecksMonthly, models.TxSourceSubscription, meta)
		if err != nil {
			return err
		}
		if !debit.OK {
			// Balance moved under us between the read and the debit.
			return e.markPastDue(ctx, q, sub, start, end, &result)
		}

		sub.Status = models.SubscriptionActive
		sub.PeriodStart = &start
		sub.PeriodEnd = &end
		sub.GraceUntil = nil
		if err := e.subs.Update(ctx, q, sub); err != nil {
			return err
		}
		result = &ChargeResult{OK: true, Subscription: sub, ChargedKopecks: plan.PriceKopecksMonthly}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.OK {
		log.Printf("[billing] org=%s charged %s for %s period %s", orgID, models.RubString(result.ChargedKopecks), sub.Plan, start.Format("2006-01"))
	} else {
		log.Printf("[billing] org=%s charge failed, past_due for %s period %s", orgID, sub.Plan, start.Format("2006-01"))
	}
	return result, nil
}

func (e *Engine) markPastDue(ctx context.Context, q store.Querier, sub *models.Subscription, start, end time.Time, result **ChargeResult) error {
	sub.Status = models.SubscriptionPastDue
	sub.PeriodStart = &start
	sub.PeriodEnd = &end
	if err := e.subs.Update(ctx, q, sub); err != nil {
		return err
	}
	*result = &ChargeResult{OK: false, Subscription: sub, ChargedKopecks: 0}
	return nil
}
