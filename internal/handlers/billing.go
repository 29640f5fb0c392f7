package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/brigada-app/backend/internal/billing"
	"github.com/brigada-app/backend/internal/models"
)

// BillingEngine defines the behaviour required from the billing engine
// backing the billing handlers.
type BillingEngine interface {
	EvaluateReadAccess(ctx context.Context, orgID string, now time.Time) (*billing.AccessDecision, error)
	EvaluateWriteAccess(ctx context.Context, orgID string, now time.Time) (*billing.AccessDecision, error)
	ChargeSubscriptionPeriod(ctx context.Context, orgID string, now time.Time) (*billing.ChargeResult, error)
	ActivateGracePeriod(ctx context.Context, orgID string, now time.Time) (*models.Subscription, error)
	PreviewPlanChange(ctx context.Context, orgID string, next models.Plan, timing billing.PlanChangeTiming, now time.Time) (*billing.PlanChangePreview, error)
	ChangePlan(ctx context.Context, orgID string, next models.Plan, timing billing.PlanChangeTiming, now time.Time) (*billing.PlanChangeResult, error)
}

// PlanCatalog defines the behaviour required for listing available plans.
type PlanCatalog interface {
	List(ctx context.Context) ([]models.PlanConfig, error)
}

const orgIDHeader = "X-Org-ID"

// requestOrgID extracts the organization ID from the request. Writes a 400
// response and returns false when the header is missing.
func requestOrgID(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := strings.TrimSpace(r.Header.Get(orgIDHeader))
	if orgID == "" {
		http.Error(w, "missing X-Org-ID header", http.StatusBadRequest)
		return "", false
	}
	return orgID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("handlers: failed to encode response: %v", err)
	}
}

// CheckAccess evaluates billing access for the organization. The mode query
// parameter selects the read path (no side effects) or the write path, which
// may create the subscription record and charge the wallet on period expiry.
// GET defaults to read, POST to write.
func CheckAccess(engine BillingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := requestOrgID(w, r)
		if !ok {
			return
		}

		mode := r.URL.Query().Get("mode")
		if mode == "" {
			if r.Method == http.MethodPost {
				mode = "write"
			} else {
				mode = "read"
			}
		}

		var (
			decision *billing.AccessDecision
			err      error
		)
		switch mode {
		case "read":
			decision, err = engine.EvaluateReadAccess(r.Context(), orgID, time.Now())
		case "write":
			decision, err = engine.EvaluateWriteAccess(r.Context(), orgID, time.Now())
		default:
			http.Error(w, "mode must be read or write", http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Printf("CheckAccess: evaluation failed for org=%s mode=%s: %v", orgID, mode, err)
			http.Error(w, "failed to evaluate access", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, decision)
	}
}

// ChargeCycle triggers the monthly subscription charge for the organization.
// Charging is idempotent within a billing period, so repeated calls are safe.
func ChargeCycle(engine BillingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := requestOrgID(w, r)
		if !ok {
			return
		}

		result, err := engine.ChargeSubscriptionPeriod(r.Context(), orgID, time.Now())
		if err != nil {
			log.Printf("ChargeCycle: charge failed for org=%s: %v", orgID, err)
			http.Error(w, "failed to charge subscription", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if !result.OK {
			// The subscription is past due; the caller should prompt a top-up.
			status = http.StatusPaymentRequired
		}
		writeJSON(w, status, result)
	}
}

// ActivateGrace activates the once-per-calendar-month grace period.
func ActivateGrace(engine BillingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := requestOrgID(w, r)
		if !ok {
			return
		}

		sub, err := engine.ActivateGracePeriod(r.Context(), orgID, time.Now())
		if err != nil {
			switch {
			case errors.Is(err, billing.ErrGraceAlreadyUsed):
				http.Error(w, "grace period already used this month", http.StatusConflict)
			case errors.Is(err, billing.ErrSubscriptionNotFound):
				http.Error(w, "subscription not found", http.StatusNotFound)
			default:
				log.Printf("ActivateGrace: activation failed for org=%s: %v", orgID, err)
				http.Error(w, "failed to activate grace period", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, sub)
	}
}

type planChangePayload struct {
	Plan   string `json:"plan"`
	Timing string `json:"timing,omitempty"`
}

func (p *planChangePayload) parse() (models.Plan, billing.PlanChangeTiming, error) {
	plan := models.Plan(strings.TrimSpace(p.Plan))
	if !plan.Valid() {
		return "", "", errors.New("unknown plan")
	}
	if p.Timing == "" {
		p.Timing = string(billing.TimingImmediate)
	}
	timing, err := billing.ParseTiming(p.Timing)
	if err != nil {
		return "", "", errors.New("timing must be immediate or period_end")
	}
	return plan, timing, nil
}

// PreviewPlanChange quotes a plan change without mutating any state.
func PreviewPlanChange(engine BillingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := requestOrgID(w, r)
		if !ok {
			return
		}

		var payload planChangePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
		plan, timing, err := payload.parse()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		preview, err := engine.PreviewPlanChange(r.Context(), orgID, plan, timing, time.Now())
		if err != nil {
			log.Printf("PreviewPlanChange: preview failed for org=%s plan=%s: %v", orgID, plan, err)
			http.Error(w, "failed to preview plan change", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, preview)
	}
}

// ChangePlan applies a plan change for the organization.
func ChangePlan(engine BillingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := requestOrgID(w, r)
		if !ok {
			return
		}

		var payload planChangePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
		plan, timing, err := payload.parse()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := engine.ChangePlan(r.Context(), orgID, plan, timing, time.Now())
		if err != nil {
			log.Printf("ChangePlan: change failed for org=%s plan=%s: %v", orgID, plan, err)
			http.Error(w, "failed to change plan", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if result.InsufficientFunds {
			status = http.StatusPaymentRequired
		}
		writeJSON(w, status, result)
	}
}

// ListPlans returns the active plan catalog.
func ListPlans(catalog PlanCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := catalog.List(r.Context())
		if err != nil {
			log.Printf("ListPlans: failed to list plans: %v", err)
			http.Error(w, "failed to list plans", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
	}
}
