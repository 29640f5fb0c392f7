// Package billing implements the organization subscription and wallet billing
// engine: access decisions, lazy billing-period rollover, grace periods, and
// prorated plan changes. All balance mutations flow through the wallet ledger
// and, where the store allows it, commit atomically with the subscription
// update.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

// DefaultGraceDuration is how long a grace period extends write access.
const DefaultGraceDuration = 72 * time.Hour

// ErrGraceAlreadyUsed is returned when an organization already activated a
// grace period within the current calendar month.
var ErrGraceAlreadyUsed = errors.New("grace period already used this month")

// ErrSubscriptionNotFound mirrors the store sentinel so callers depend on the
// engine package only.
var ErrSubscriptionNotFound = store.ErrSubscriptionNotFound

// SubscriptionStore persists the single subscription record per organization.
type SubscriptionStore interface {
	Ensure(ctx context.Context, q store.Querier, orgID string) (*models.Subscription, error)
	Get(ctx context.Context, q store.Querier, orgID string) (*models.Subscription, error)
	Update(ctx context.Context, q store.Querier, sub *models.Subscription) error
}

// WalletLedger exposes the atomic balance primitives of the wallet store.
type WalletLedger interface {
	Ensure(ctx context.Context, q store.Querier, orgID string) (*models.Wallet, error)
	Get(ctx context.Context, q store.Querier, orgID string) (*models.Wallet, error)
	Debit(ctx context.Context, q store.Querier, orgID string, amountKopecks int64, source string, meta models.JSONB) (*store.DebitResult, error)
	Credit(ctx context.Context, q store.Querier, orgID string, amountKopecks int64, source string, meta models.JSONB) (*models.Wallet, error)
}

// PlanCatalog is the read-only plan configuration lookup.
type PlanCatalog interface {
	GetBySlug(ctx context.Context, slug models.Plan) (*models.PlanConfig, error)
}

// TxRunner wraps multi-statement writes in a transaction when the backing
// store supports one.
type TxRunner interface {
	RunInTransaction(ctx context.Context, fn func(q store.Querier) error) error
	SupportsTransactions() bool
}

// Engine is the billing engine. It is stateless between calls; all state lives
// in the stores, so concurrent requests for the same organization are
// serialized by the database, not by the engine.
type Engine struct {
	subs          SubscriptionStore
	wallets       WalletLedger
	plans         PlanCatalog
	tx            TxRunner
	graceDuration time.Duration
}

// NewEngine creates a billing engine. graceDuration <= 0 selects the default
// 72 hours.
func NewEngine(subs SubscriptionStore, wallets WalletLedger, plans PlanCatalog, tx TxRunner, graceDuration time.Duration) (*Engine, error) {
	if subs == nil || wallets == nil || plans == nil || tx == nil {
		return nil, errors.New("billing: all engine dependencies are required")
	}
	if graceDuration <= 0 {
		graceDuration = DefaultGraceDuration
	}
	return &Engine{
		subs:          subs,
		wallets:       wallets,
		plans:         plans,
		tx:            tx,
		graceDuration: graceDuration,
	}, nil
}
