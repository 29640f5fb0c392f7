package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brigada-app/backend/internal/models"
)

const defaultPageSize = 200

// Querier is the subset of database/sql operations shared by *sql.DB and
// *sql.Tx. Store methods accept a Querier so the same code runs inside or
// outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the database handle and owns the transaction-or-fallback
// decision for multi-statement billing operations.
type Store struct {
	db *sql.DB

	mu         sync.RWMutex
	supportsTx bool

	warnOnce sync.Once
}

// New creates a Store using the provided sql.DB connection. Transaction
// support is assumed until DetectTransactionSupport or ForceBestEffort says
// otherwise.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db, supportsTx: true}, nil
}

// DB exposes the underlying handle for stores that share the connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// DetectTransactionSupport probes the backing store once at startup. A
// feature-not-supported response (SQLSTATE class 0A, e.g. some pooled or
// single-node deployments) switches the store to best-effort mode instead of
// failing every billing call later.
func (s *Store) DetectTransactionSupport(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isTxUnsupported(err) {
			s.ForceBestEffort(fmt.Sprintf("probe: %v", err))
			return nil
		}
		return fmt.Errorf("store: probe transaction support: %w", err)
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("store: rollback probe transaction: %w", err)
	}
	s.mu.Lock()
	s.supportsTx = true
	s.mu.Unlock()
	log.Printf("[store] transaction support: enabled")
	return nil
}

// ForceBestEffort disables the transactional path. Used when the probe fails
// or when BILLING_DISABLE_TX is set for constrained deployments.
func (s *Store) ForceBestEffort(reason string) {
	s.mu.Lock()
	s.supportsTx = false
	s.mu.Unlock()
	log.Printf("[store] transaction support: DISABLED (%s); balance and subscription writes are best-effort", reason)
}

// SupportsTransactions reports whether RunInTransaction uses a real database
// transaction.
func (s *Store) SupportsTransactions() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supportsTx
}

// RunInTransaction executes fn atomically when the backing store supports
// transactions. Otherwise fn runs against the bare connection: writes are
// applied sequentially and a mid-operation failure can leave a narrow
// inconsistency window, which is warned about once rather than hidden.
func (s *Store) RunInTransaction(ctx context.Context, fn func(q Querier) error) error {
	if !s.SupportsTransactions() {
		s.warnOnce.Do(func() {
			log.Printf("[store] WARNING: running billing writes without transactions; atomicity is best-effort")
		})
		return fn(s.db)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isTxUnsupported(err) {
			s.ForceBestEffort(fmt.Sprintf("begin: %v", err))
			return fn(s.db)
		}
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// isTxUnsupported reports whether err is the driver telling us the deployment
// cannot do multi-statement transactions (SQLSTATE class 0A).
func isTxUnsupported(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "0A")
	}
	return false
}

// CreateRequest records a tracked API request for usage metrics.
func (s *Store) CreateRequest(ctx context.Context, orgID, method, endpoint string, statusCode int, responseTimeMs, requestSizeBytes, responseSizeBytes *int, errorMessage *string) error {
	if s == nil || s.db == nil {
		return errors.New("store: db cannot be nil")
	}

	query := `
	INSERT INTO requests (id, org_id, method, endpoint, status_code, response_time_ms, request_size_bytes, response_size_bytes, error_message)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var errMessage sql.NullString
	if errorMessage != nil {
		errMessage = sql.NullString{String: *errorMessage, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), orgID, method, endpoint, statusCode, responseTimeMs, requestSizeBytes, responseSizeBytes, errMessage)
	if err != nil {
		return fmt.Errorf("store: create request: %w", err)
	}
	return nil
}

// GetOrgMetrics returns aggregated usage metrics for one organization.
func (s *Store) GetOrgMetrics(ctx context.Context, orgID string) (*models.RequestMetrics, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: db cannot be nil")
	}

	query := `
	SELECT
		org_id,
		COUNT(*) as total_requests,
		COUNT(CASE WHEN status_code < 400 THEN 1 END) as success_requests,
		COUNT(CASE WHEN status_code >= 400 THEN 1 END) as error_requests,
		COALESCE(AVG(response_time_ms), 0) as avg_response_time_ms,
		COALESCE(SUM(COALESCE(request_size_bytes, 0) + COALESCE(response_size_bytes, 0)), 0) as total_bytes,
		MAX(created_at) as last_request_at
	FROM requests
	WHERE org_id = $1
	GROUP BY org_id
	`

	var metrics models.RequestMetrics
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&metrics.OrgID,
		&metrics.TotalRequests,
		&metrics.SuccessRequests,
		&metrics.ErrorRequests,
		&metrics.AvgResponseTimeMs,
		&metrics.TotalBytes,
		&metrics.LastRequestAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.OrgID = orgID
			return &metrics, nil
		}
		return nil, fmt.Errorf("store: get org metrics: %w", err)
	}

	return &metrics, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}
