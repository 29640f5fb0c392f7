package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brigada-app/backend/internal/models"
)

// ErrSubscriptionNotFound is returned when an organization has no subscription row.
var ErrSubscriptionNotFound = errors.New("subscription not found")

const subscriptionColumns = `id, org_id, plan, status, period_start, period_end,
	grace_until, grace_used_at, pending_plan, pending_plan_effective_at,
	pending_plan_requested_at, created_at, updated_at`

// SubscriptionStore provides database operations for organization subscriptions.
type SubscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore creates a new SubscriptionStore instance
func NewSubscriptionStore(db *sql.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &SubscriptionStore{db: db}, nil
}

func (s *SubscriptionStore) querier(q Querier) Querier {
	if q == nil {
		return s.db
	}
	return q
}

// Ensure returns the organization's subscription, creating the default
// basic/inactive record on first touch. Idempotent upsert; an existing row is
// returned unchanged.
func (s *SubscriptionStore) Ensure(ctx context.Context, q Querier, orgID string) (*models.Subscription, error) {
	query := `
	INSERT INTO subscriptions (org_id, plan, status)
	VALUES ($1, $2, $3)
	ON CONFLICT (org_id) DO UPDATE SET org_id = EXCLUDED.org_id
	RETURNING ` + subscriptionColumns

	row := s.querier(q).QueryRowContext(ctx, query, orgID, models.PlanBasic, models.SubscriptionInactive)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("store: ensure subscription: %w", err)
	}
	return sub, nil
}

// Get returns the organization's subscription or ErrSubscriptionNotFound.
func (s *SubscriptionStore) Get(ctx context.Context, q Querier, orgID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE org_id = $1`

	row := s.querier(q).QueryRowContext(ctx, query, orgID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("store: get subscription: %w", err)
	}
	return sub, nil
}

// Update persists the mutable billing fields of a subscription.
func (s *SubscriptionStore) Update(ctx context.Context, q Querier, sub *models.Subscription) error {
	query := `
	UPDATE subscriptions
	SET plan = $1,
	    status = $2,
	    period_start = $3,
	    period_end = $4,
	    grace_until = $5,
	    grace_used_at = $6,
	    pending_plan = $7,
	    pending_plan_effective_at = $8,
	    pending_plan_requested_at = $9,
	    updated_at = now()
	WHERE id = $10
	`

	var pendingPlan *string
	if sub.PendingPlan != nil {
		v := string(*sub.PendingPlan)
		pendingPlan = &v
	}

	result, err := s.querier(q).ExecContext(ctx, query,
		sub.Plan,
		sub.Status,
		sub.PeriodStart,
		sub.PeriodEnd,
		sub.GraceUntil,
		sub.GraceUsedAt,
		pendingPlan,
		sub.PendingPlanEffectiveAt,
		sub.PendingPlanRequestedAt,
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update subscription: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListExpiredActive returns org ids whose subscription is active but whose
// billing period ended at or before now. Used by the billing sweep job;
// correctness does not depend on it since write-access checks charge lazily.
func (s *SubscriptionStore) ListExpiredActive(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	query := `
	SELECT org_id
	FROM subscriptions
	WHERE status = $1 AND period_end IS NOT NULL AND period_end <= now()
	ORDER BY period_end ASC
	LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, models.SubscriptionActive, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list expired active subscriptions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan expired subscription org id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate expired subscriptions: %w", err)
	}
	return ids, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub         models.Subscription
		periodStart sql.NullTime
		periodEnd   sql.NullTime
		graceUntil  sql.NullTime
		graceUsedAt sql.NullTime
		pendingPlan sql.NullString
		pendingEff  sql.NullTime
		pendingReq  sql.NullTime
	)

	if err := row.Scan(
		&sub.ID,
		&sub.OrgID,
		&sub.Plan,
		&sub.Status,
		&periodStart,
		&periodEnd,
		&graceUntil,
		&graceUsedAt,
		&pendingPlan,
		&pendingEff,
		&pendingReq,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}

	sub.PeriodStart = nullTimePtr(periodStart)
	sub.PeriodEnd = nullTimePtr(periodEnd)
	sub.GraceUntil = nullTimePtr(graceUntil)
	sub.GraceUsedAt = nullTimePtr(graceUsedAt)
	if pendingPlan.Valid {
		p := models.Plan(pendingPlan.String)
		sub.PendingPlan = &p
	}
	sub.PendingPlanEffectiveAt = nullTimePtr(pendingEff)
	sub.PendingPlanRequestedAt = nullTimePtr(pendingReq)

	return &sub, nil
}
