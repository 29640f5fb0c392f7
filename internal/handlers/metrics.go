package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/brigada-app/backend/internal/models"
)

// MetricsStore defines the behaviour required for usage metrics lookups.
type MetricsStore interface {
	GetOrgMetrics(ctx context.Context, orgID string) (*models.RequestMetrics, error)
}

// GetOrgMetrics returns aggregated request metrics for the organization.
func GetOrgMetrics(metrics MetricsStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := requestOrgID(w, r)
		if !ok {
			return
		}

		m, err := metrics.GetOrgMetrics(r.Context(), orgID)
		if err != nil {
			log.Printf("GetOrgMetrics: failed for org=%s: %v", orgID, err)
			http.Error(w, "failed to load metrics", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, m)
	}
}
