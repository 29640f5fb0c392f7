package billing

import (
	"context"
	"log"
	"time"

	"github.com/brigada-app/backend/internal/models"
)

// ActivateGracePeriod grants a temporary write-access extension after a failed
// charge. At most one activation per organization per calendar month; an
// already-running grace period is returned unchanged.
func (e *Engine) ActivateGracePeriod(ctx context.Context, orgID string, now time.Time) (*models.Subscription, error) {
	now = now.UTC()

	sub, err := e.subs.Get(ctx, nil, orgID)
	if err != nil {
		return nil, err
	}

	if sub.GraceUntil != nil && sub.GraceUntil.After(now) {
		return sub, nil
	}

	if !graceAvailable(sub, now) {
		return nil, ErrGraceAlreadyUsed
	}

	until := now.Add(e.graceDuration)
	sub.GraceUntil = &until
	sub.GraceUsedAt = &now
	if err := e.subs.Update(ctx, nil, sub); err != nil {
		return nil, err
	}

	log.Printf("[billing] org=%s grace period active until %s", orgID, until.Format(time.RFC3339))
	return sub, nil
}
