package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/brigada-app/backend/internal/models"
)

func newSubscriptionStoreWithMock(t *testing.T) (*SubscriptionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewSubscriptionStore(db)
	if err != nil {
		t.Fatalf("failed to create subscription store: %v", err)
	}
	return s, mock
}

func subscriptionRowColumns() []string {
	return []string{
		"id", "org_id", "plan", "status", "period_start", "period_end",
		"grace_until", "grace_used_at", "pending_plan", "pending_plan_effective_at",
		"pending_plan_requested_at", "created_at", "updated_at",
	}
}

func TestSubscriptionEnsureCreatesDefault(t *testing.T) {
	s, mock := newSubscriptionStoreWithMock(t)

	now := time.Now()
	rows := sqlmock.NewRows(subscriptionRowColumns()).
		AddRow(1, "org-1", "basic", "inactive", nil, nil, nil, nil, nil, nil, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO subscriptions (org_id, plan, status)")).
		WithArgs("org-1", models.PlanBasic, models.SubscriptionInactive).
		WillReturnRows(rows)

	sub, err := s.Ensure(context.Background(), nil, "org-1")
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if sub.Plan != models.PlanBasic || sub.Status != models.SubscriptionInactive {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if sub.PeriodStart != nil || sub.GraceUntil != nil || sub.PendingPlan != nil {
		t.Fatalf("fresh subscription should have no optional fields set: %+v", sub)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubscriptionGetScansOptionalFields(t *testing.T) {
	s, mock := newSubscriptionStoreWithMock(t)

	now := time.Now()
	periodStart := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(subscriptionRowColumns()).
		AddRow(7, "org-1", "pro", "active", periodStart, periodEnd, nil, nil, "business", periodEnd, now, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE org_id = $1")).
		WithArgs("org-1").
		WillReturnRows(rows)

	sub, err := s.Get(context.Background(), nil, "org-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if sub.Plan != models.PlanPro || sub.Status != models.SubscriptionActive {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if sub.PeriodStart == nil || !sub.PeriodStart.Equal(periodStart) {
		t.Fatalf("period start not scanned: %v", sub.PeriodStart)
	}
	if !sub.HasPendingPlan() || *sub.PendingPlan != models.PlanBusiness {
		t.Fatalf("pending plan not scanned: %+v", sub)
	}
}

func TestSubscriptionGetNotFound(t *testing.T) {
	s, mock := newSubscriptionStoreWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions WHERE org_id = $1")).
		WithArgs("org-missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.Get(context.Background(), nil, "org-missing"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestSubscriptionUpdateUnknownID(t *testing.T) {
	s, mock := newSubscriptionStoreWithMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sub := &models.Subscription{ID: 99, OrgID: "org-1", Plan: models.PlanPro, Status: models.SubscriptionActive}
	if err := s.Update(context.Background(), nil, sub); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestListExpiredActive(t *testing.T) {
	s, mock := newSubscriptionStoreWithMock(t)

	rows := sqlmock.NewRows([]string{"org_id"}).AddRow("org-1").AddRow("org-2")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND period_end IS NOT NULL AND period_end <= now()")).
		WithArgs(models.SubscriptionActive, 10).
		WillReturnRows(rows)

	ids, err := s.ListExpiredActive(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListExpiredActive returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "org-1" || ids[1] != "org-2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}
