package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brigada-app/backend/internal/billing"
	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

// sweepBatchSize caps the number of expired subscriptions handled per sweep
// run. Anything left over is picked up by the next scheduled sweep, and lazy
// charging on access covers organizations the sweep has not reached yet.
const sweepBatchSize = 500

// RegisterBillingJobs wires the billing job handlers into the worker.
func RegisterBillingJobs(w *Worker, engine *billing.Engine, subs *store.SubscriptionStore, wallets *store.WalletStore) {
	w.RegisterHandler(models.JobTypeBillingCycleSweep, billingCycleSweepHandler(engine, subs))
	w.RegisterHandler(models.JobTypeWalletLedgerVerify, walletLedgerVerifyHandler(wallets))
}

// billingCycleSweepHandler charges every active subscription whose paid
// period has ended. The sweep is an optimization only: access evaluation
// charges lazily on the first write after expiry, so a missed or failed sweep
// never extends anyone's paid period.
func billingCycleSweepHandler(engine *billing.Engine, subs *store.SubscriptionStore) Handler {
	return func(ctx context.Context, job *models.Job) error {
		orgIDs, err := subs.ListExpiredActive(ctx, sweepBatchSize)
		if err != nil {
			return fmt.Errorf("billing sweep: list expired subscriptions: %w", err)
		}
		if len(orgIDs) == 0 {
			log.Printf("[worker] Billing sweep: no expired active subscriptions")
			return nil
		}

		now := time.Now().UTC()
		var charged, pastDue, failed int
		for _, orgID := range orgIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := engine.ChargeSubscriptionPeriod(ctx, orgID, now)
			if err != nil {
				failed++
				log.Printf("[worker] Billing sweep: charge failed for org %s: %v", orgID, err)
				continue
			}
			if result.OK {
				charged++
			} else {
				pastDue++
			}
		}

		log.Printf("[worker] Billing sweep: %d charged, %d past due, %d errors (of %d expired)",
			charged, pastDue, failed, len(orgIDs))
		if failed > 0 {
			return fmt.Errorf("billing sweep: %d of %d charges errored", failed, len(orgIDs))
		}
		return nil
	}
}

// walletLedgerVerifyHandler replays each wallet's transaction ledger and
// compares the sum against the stored balance. Drift is logged for operator
// attention; the job does not attempt to repair balances.
func walletLedgerVerifyHandler(wallets *store.WalletStore) Handler {
	return func(ctx context.Context, job *models.Job) error {
		orgIDs, err := wallets.ListWalletOrgIDs(ctx)
		if err != nil {
			return fmt.Errorf("ledger verify: list wallets: %w", err)
		}

		var drifted int
		for _, orgID := range orgIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum, err := wallets.SumLedger(ctx, nil, orgID)
			if err != nil {
				return fmt.Errorf("ledger verify: sum ledger for org %s: %w", orgID, err)
			}
			wallet, err := wallets.Get(ctx, nil, orgID)
			if err != nil {
				return fmt.Errorf("ledger verify: load wallet for org %s: %w", orgID, err)
			}
			if sum != wallet.BalanceKopecks {
				drifted++
				log.Printf("[worker] Ledger verify: DRIFT for org %s: ledger sum %s, balance %s",
					orgID, models.RubString(sum), models.RubString(wallet.BalanceKopecks))
			}
		}

		log.Printf("[worker] Ledger verify: checked %d wallets, %d drifted", len(orgIDs), drifted)
		if drifted > 0 {
			return fmt.Errorf("ledger verify: %d wallets drifted from their ledger", drifted)
		}
		return nil
	}
}

// Scheduler enqueues periodic billing jobs on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	worker *Worker
}

// NewScheduler sets up the cron entries: a billing sweep on the configured
// schedule and a daily ledger verification.
func NewScheduler(w *Worker, sweepSchedule string) (*Scheduler, error) {
	if w == nil {
		return nil, fmt.Errorf("worker: scheduler requires a worker")
	}

	c := cron.New()
	s := &Scheduler{cron: c, worker: w}

	if _, err := c.AddFunc(sweepSchedule, func() {
		s.enqueue(models.JobTypeBillingCycleSweep, models.JobPriorityHigh)
	}); err != nil {
		return nil, fmt.Errorf("worker: invalid sweep schedule %q: %w", sweepSchedule, err)
	}

	if _, err := c.AddFunc("@daily", func() {
		s.enqueue(models.JobTypeWalletLedgerVerify, models.JobPriorityLow)
	}); err != nil {
		return nil, fmt.Errorf("worker: register ledger verify schedule: %w", err)
	}

	return s, nil
}

func (s *Scheduler) enqueue(jobType string, priority models.JobPriority) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job := &models.Job{
		JobType:     jobType,
		Payload:     models.JSONB{},
		Priority:    priority,
		MaxAttempts: 3,
	}
	if err := s.worker.Enqueue(ctx, job); err != nil {
		log.Printf("[worker] Scheduler: failed to enqueue %s: %v", jobType, err)
	}
}

// Start begins the cron schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[worker] Scheduler started with %d entries", len(s.cron.Entries()))
}

// Stop halts the cron schedule and waits for running enqueues to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Printf("[worker] Scheduler stopped")
}
