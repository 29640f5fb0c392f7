package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/brigada-app/backend/internal/config"
	"github.com/brigada-app/backend/internal/handlers"
	requesttracking "github.com/brigada-app/backend/internal/middleware"
	"github.com/brigada-app/backend/internal/store"
	"github.com/brigada-app/backend/internal/worker"
)

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
	scheduler  *worker.Scheduler
}

// New constructs an HTTP server using the provided configuration, billing
// engine, and storage clients.
func New(cfg config.Config, engine handlers.BillingEngine, planStore handlers.PlanCatalog, walletStore handlers.WalletLedger, jobStore handlers.JobStore, baseStore *store.Store, jobWorker *worker.Worker, scheduler *worker.Scheduler) *Server {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)

	// Request tracking middleware; served without tracking if it cannot be set up.
	if tracker, err := requesttracking.NewRequestTracker(baseStore); err != nil {
		log.Printf("[server] Request tracking disabled: %v", err)
	} else {
		router.Use(tracker.Middleware())
	}

	router.Get("/healthz", handlers.Health)

	// Billing endpoints
	router.Get("/api/billing/access", handlers.CheckAccess(engine))
	router.Post("/api/billing/access", handlers.CheckAccess(engine))
	router.Post("/api/billing/charge", handlers.ChargeCycle(engine))
	router.Post("/api/billing/grace", handlers.ActivateGrace(engine))
	router.Post("/api/billing/plan/preview", handlers.PreviewPlanChange(engine))
	router.Post("/api/billing/plan/change", handlers.ChangePlan(engine))
	router.Get("/api/billing/plans", handlers.ListPlans(planStore))

	// Wallet endpoints
	router.Get("/api/wallet", handlers.GetWallet(walletStore))
	router.Post("/api/wallet/topup", handlers.TopUpWallet(walletStore))
	router.Get("/api/wallet/transactions", handlers.ListWalletTransactions(walletStore))

	// Metrics endpoints
	if baseStore != nil {
		router.Get("/api/metrics/org", handlers.GetOrgMetrics(baseStore))
	}

	// Job queue endpoints
	if jobStore != nil {
		router.Post("/api/jobs", handlers.CreateJob(jobStore))
		router.Get("/api/jobs/stats", handlers.GetJobStats(jobStore))
		router.Get("/api/jobs/pending", handlers.ListPendingJobs(jobStore))
		router.Get("/api/jobs/{id}", handlers.GetJob(jobStore))
		router.Post("/api/jobs/{id}/cancel", handlers.CancelJob(jobStore))
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: jobWorker, scheduler: scheduler}
}

// Start begins serving HTTP traffic and starts the worker and scheduler.
func (s *Server) Start() error {
	if s.worker != nil {
		log.Println("[server] Starting job worker...")
		s.worker.Start(context.Background())
	}
	if s.scheduler != nil {
		log.Println("[server] Starting billing scheduler...")
		s.scheduler.Start()
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, scheduler, and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		log.Println("[server] Stopping billing scheduler...")
		s.scheduler.Stop()
	}
	if s.worker != nil {
		log.Println("[server] Shutting down job worker...")
		if err := s.worker.Stop(ctx); err != nil {
			log.Printf("[server] Worker shutdown error: %v", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
