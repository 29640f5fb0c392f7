package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brigada-app/backend/internal/billing"
	"github.com/brigada-app/backend/internal/config"
	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

type stubEngine struct{}

func (stubEngine) EvaluateReadAccess(ctx context.Context, orgID string, now time.Time) (*billing.AccessDecision, error) {
	return &billing.AccessDecision{OK: true, Plan: models.PlanBasic}, nil
}

func (stubEngine) EvaluateWriteAccess(ctx context.Context, orgID string, now time.Time) (*billing.AccessDecision, error) {
	return &billing.AccessDecision{OK: true, Plan: models.PlanBasic}, nil
}

func (stubEngine) ChargeSubscriptionPeriod(ctx context.Context, orgID string, now time.Time) (*billing.ChargeResult, error) {
	return &billing.ChargeResult{OK: true}, nil
}

func (stubEngine) ActivateGracePeriod(ctx context.Context, orgID string, now time.Time) (*models.Subscription, error) {
	return &models.Subscription{OrgID: orgID}, nil
}

func (stubEngine) PreviewPlanChange(ctx context.Context, orgID string, next models.Plan, timing billing.PlanChangeTiming, now time.Time) (*billing.PlanChangePreview, error) {
	return &billing.PlanChangePreview{NextPlan: next}, nil
}

func (stubEngine) ChangePlan(ctx context.Context, orgID string, next models.Plan, timing billing.PlanChangeTiming, now time.Time) (*billing.PlanChangeResult, error) {
	return &billing.PlanChangeResult{OK: true}, nil
}

type stubPlans struct{}

func (stubPlans) List(ctx context.Context) ([]models.PlanConfig, error) {
	return []models.PlanConfig{{Slug: models.PlanBasic}}, nil
}

type stubWallets struct{}

func (stubWallets) Ensure(ctx context.Context, q store.Querier, orgID string) (*models.Wallet, error) {
	return &models.Wallet{OrgID: orgID}, nil
}

func (stubWallets) Credit(ctx context.Context, q store.Querier, orgID string, amountKopecks int64, source string, meta models.JSONB) (*models.Wallet, error) {
	return &models.Wallet{OrgID: orgID, BalanceKopecks: amountKopecks}, nil
}

func (stubWallets) ListTransactions(ctx context.Context, q store.Querier, orgID string, limit int) ([]models.WalletTransaction, error) {
	return nil, nil
}

func newTestServer() *Server {
	cfg := config.Config{ServerAddress: ":0"}
	return New(cfg, stubEngine{}, stubPlans{}, stubWallets{}, nil, nil, nil, nil)
}

func TestHealthRoute(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestBillingRoutesRegistered(t *testing.T) {
	server := newTestServer()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/billing/access"},
		{http.MethodGet, "/api/billing/plans"},
		{http.MethodGet, "/api/wallet"},
		{http.MethodGet, "/api/wallet/transactions"},
	}

	for _, route := range routes {
		req := httptest.NewRequest(route.method, route.path, nil)
		req.Header.Set("X-Org-ID", "org-1")
		rr := httptest.NewRecorder()

		server.Handler().ServeHTTP(rr, req)

		if rr.Code == http.StatusNotFound || rr.Code == http.StatusMethodNotAllowed {
			t.Fatalf("%s %s not routed: %d", route.method, route.path, rr.Code)
		}
	}
}

func TestJobRoutesSkippedWithoutStore(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered job routes, got %d", rr.Code)
	}
}
