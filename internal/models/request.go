package models

import "time"

// Request records a single tracked API request for usage metrics, keyed by the
// organization that issued it.
type Request struct {
	ID                string    `json:"id"`
	OrgID             string    `json:"org_id"`
	Method            string    `json:"method"`
	Endpoint          string    `json:"endpoint"`
	StatusCode        int       `json:"status_code"`
	ResponseTimeMs    *int      `json:"response_time_ms,omitempty"`
	RequestSizeBytes  *int      `json:"request_size_bytes,omitempty"`
	ResponseSizeBytes *int      `json:"response_size_bytes,omitempty"`
	ErrorMessage      *string   `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// RequestMetrics holds aggregated usage metrics for one organization.
type RequestMetrics struct {
	OrgID             string     `json:"org_id"`
	TotalRequests     int64      `json:"total_requests"`
	SuccessRequests   int64      `json:"success_requests"`
	ErrorRequests     int64      `json:"error_requests"`
	AvgResponseTimeMs float64    `json:"avg_response_time_ms"`
	TotalBytes        int64      `json:"total_bytes"`
	LastRequestAt     *time.Time `json:"last_request_at,omitempty"`
}
