package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

// JobStore defines the interface for job storage operations
type JobStore interface {
	Enqueue(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	CancelJob(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.JobStats, error)
	ListPendingJobs(ctx context.Context, limit int) ([]*models.Job, error)
}

// CreateJobRequest represents a request to create a new job
type CreateJobRequest struct {
	JobType      string                 `json:"job_type"`
	Payload      map[string]interface{} `json:"payload"`
	Priority     string                 `json:"priority,omitempty"`
	MaxAttempts  int                    `json:"max_attempts,omitempty"`
	ScheduledFor *time.Time             `json:"scheduled_for,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// CreateJob creates a new job in the queue
func CreateJob(jobStore JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("CreateJob: invalid JSON payload: %v", err)
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}

		if req.JobType == "" {
			http.Error(w, "job_type is required", http.StatusBadRequest)
			return
		}

		priority := models.JobPriorityNormal
		if req.Priority != "" {
			priority = models.JobPriority(req.Priority)
		}

		maxAttempts := 3
		if req.MaxAttempts > 0 {
			maxAttempts = req.MaxAttempts
		}

		job := &models.Job{
			JobType:      req.JobType,
			Payload:      req.Payload,
			Priority:     priority,
			MaxAttempts:  maxAttempts,
			ScheduledFor: req.ScheduledFor,
			Metadata:     req.Metadata,
		}

		if err := jobStore.Enqueue(r.Context(), job); err != nil {
			log.Printf("CreateJob: failed to enqueue job: %v", err)
			http.Error(w, "failed to create job", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":     job.ID,
			"status": job.Status,
		})
	}
}

// GetJob retrieves a job by ID
func GetJob(jobStore JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid job id", http.StatusBadRequest)
			return
		}

		job, err := jobStore.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				http.Error(w, "job not found", http.StatusNotFound)
				return
			}
			log.Printf("GetJob: failed to load job %d: %v", id, err)
			http.Error(w, "failed to load job", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

// CancelJob cancels a pending or failed job
func CancelJob(jobStore JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid job id", http.StatusBadRequest)
			return
		}

		if err := jobStore.CancelJob(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				http.Error(w, "job not found or not cancellable", http.StatusNotFound)
				return
			}
			log.Printf("CancelJob: failed to cancel job %d: %v", id, err)
			http.Error(w, "failed to cancel job", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": models.JobStatusCancelled})
	}
}

// GetJobStats returns statistics about the job queue
func GetJobStats(jobStore JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := jobStore.GetStats(r.Context())
		if err != nil {
			log.Printf("GetJobStats: failed to load stats: %v", err)
			http.Error(w, "failed to load job stats", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// ListPendingJobs lists jobs waiting to be processed
func ListPendingJobs(jobStore JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		jobs, err := jobStore.ListPendingJobs(r.Context(), limit)
		if err != nil {
			log.Printf("ListPendingJobs: failed to list jobs: %v", err)
			http.Error(w, "failed to list jobs", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":  jobs,
			"count": len(jobs),
		})
	}
}
