package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/brigada-app/backend/internal/billing"
	"github.com/brigada-app/backend/internal/config"
	"github.com/brigada-app/backend/internal/httpserver"
	"github.com/brigada-app/backend/internal/migrations"
	"github.com/brigada-app/backend/internal/store"
	"github.com/brigada-app/backend/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logDBTarget(cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrationsWithDirtyFix(db); err != nil {
		log.Fatalf("failed to apply database migrations: %v", err)
	}

	baseStore, err := store.New(db)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	if cfg.DisableTransactions {
		baseStore.ForceBestEffort("BILLING_DISABLE_TX is set")
	} else if err := baseStore.DetectTransactionSupport(ctx); err != nil {
		log.Fatalf("failed to probe transaction support: %v", err)
	}

	subStore, err := store.NewSubscriptionStore(db)
	if err != nil {
		log.Fatalf("failed to create subscription store: %v", err)
	}
	walletStore, err := store.NewWalletStore(db)
	if err != nil {
		log.Fatalf("failed to create wallet store: %v", err)
	}
	planStore, err := store.NewPlanStore(db)
	if err != nil {
		log.Fatalf("failed to create plan store: %v", err)
	}
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		log.Fatalf("failed to create job store: %v", err)
	}

	engine, err := billing.NewEngine(subStore, walletStore, planStore, baseStore, cfg.GracePeriod)
	if err != nil {
		log.Fatalf("failed to create billing engine: %v", err)
	}

	jobWorker := worker.New(worker.DefaultConfig(), jobStore)
	worker.RegisterBillingJobs(jobWorker, engine, subStore, walletStore)

	scheduler, err := worker.NewScheduler(jobWorker, cfg.SweepSchedule)
	if err != nil {
		log.Fatalf("failed to create billing scheduler: %v", err)
	}

	srv := httpserver.New(cfg, engine, planStore, walletStore, jobStore, baseStore, jobWorker, scheduler)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("backend starting on %s", cfg.ServerAddress)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server exited with error: %v", err)
		os.Exit(1)
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB) error {
	if err := migrations.Up(db); err != nil {
		log.Printf("migrations: error detected: %v (type: %T)", err, err)
		if strings.Contains(err.Error(), "Dirty database version") {
			log.Printf("migrations: dirty database detected, attempting to fix...")
			if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
				log.Printf("migrations: failed to fix dirty database: %v", fixErr)
				return err
			}
			return migrations.Up(db)
		}
		return err
	}
	return nil
}

func logDBTarget(dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Printf("db: configured (dsn parse error: %v)", err)
		return
	}
	log.Printf("db: host=%s db=%s", u.Hostname(), strings.TrimPrefix(u.Path, "/"))
}
