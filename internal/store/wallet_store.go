package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brigada-app/backend/internal/models"
)

// ErrWalletNotFound is returned when an organization has no wallet row.
var ErrWalletNotFound = errors.New("wallet not found")

const walletColumns = "id, org_id, balance_kopecks, created_at, updated_at"

// WalletStore is the append-only ledger around the per-organization balance.
// Every balance mutation goes through Debit or Credit so the
// wallet_transactions log stays the source of truth.
type WalletStore struct {
	db *sql.DB
}

// NewWalletStore creates a new WalletStore instance
func NewWalletStore(db *sql.DB) (*WalletStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &WalletStore{db: db}, nil
}

// querier resolves the optional transaction handle; nil means the store's own
// connection.
func (s *WalletStore) querier(q Querier) Querier {
	if q == nil {
		return s.db
	}
	return q
}

// Ensure returns the organization's wallet, creating it with a zero balance on
// first touch. Safe to call concurrently; the upsert never resets an existing
// balance.
func (s *WalletStore) Ensure(ctx context.Context, q Querier, orgID string) (*models.Wallet, error) {
	query := `
	INSERT INTO wallets (org_id, balance_kopecks)
	VALUES ($1, 0)
	ON CONFLICT (org_id) DO UPDATE SET org_id = EXCLUDED.org_id
	RETURNING ` + walletColumns

	var w models.Wallet
	err := s.querier(q).QueryRowContext(ctx, query, orgID).Scan(
		&w.ID, &w.OrgID, &w.BalanceKopecks, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: ensure wallet: %w", err)
	}
	return &w, nil
}

// Get returns the organization's wallet or ErrWalletNotFound.
func (s *WalletStore) Get(ctx context.Context, q Querier, orgID string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE org_id = $1`

	var w models.Wallet
	err := s.querier(q).QueryRowContext(ctx, query, orgID).Scan(
		&w.ID, &w.OrgID, &w.BalanceKopecks, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("store: get wallet: %w", err)
	}
	return &w, nil
}

// DebitResult reports the outcome of a debit attempt. OK false means the
// balance was insufficient; AvailableKopecks carries what the wallet held so
// callers can surface a top-up prompt.
type DebitResult struct {
	OK               bool
	Wallet           *models.Wallet
	AvailableKopecks int64
}

// Debit atomically decreases the balance iff it covers amountKopecks, and
// appends a ledger entry on success. An insufficient balance leaves the wallet
// and ledger untouched.
func (s *WalletStore) Debit(ctx context.Context, q Querier, orgID string, amountKopecks int64, source string, meta models.JSONB) (*DebitResult, error) {
	if amountKopecks <= 0 {
		return nil, fmt.Errorf("store: debit amount must be positive, got %d", amountKopecks)
	}
	qr := s.querier(q)

	query := `
	UPDATE wallets
	SET balance_kopecks = balance_kopecks - $2,
	    updated_at = now()
	WHERE org_id = $1 AND balance_kopecks >= $2
	RETURNING ` + walletColumns

	var w models.Wallet
	err := qr.QueryRowContext(ctx, query, orgID, amountKopecks).Scan(
		&w.ID, &w.OrgID, &w.BalanceKopecks, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the wallet does not exist yet or the balance is too low.
			existing, getErr := s.Get(ctx, qr, orgID)
			if getErr != nil {
				if errors.Is(getErr, ErrWalletNotFound) {
					if _, ensureErr := s.Ensure(ctx, qr, orgID); ensureErr != nil {
						return nil, ensureErr
					}
					return &DebitResult{OK: false, AvailableKopecks: 0}, nil
				}
				return nil, getErr
			}
			return &DebitResult{OK: false, AvailableKopecks: existing.BalanceKopecks}, nil
		}
		return nil, fmt.Errorf("store: debit wallet: %w", err)
	}

	if err := s.appendTransaction(ctx, qr, orgID, -amountKopecks, source, meta, w.BalanceKopecks); err != nil {
		return nil, err
	}

	return &DebitResult{OK: true, Wallet: &w, AvailableKopecks: w.BalanceKopecks}, nil
}

// Credit unconditionally increases the balance, creating the wallet if needed,
// and appends a ledger entry.
func (s *WalletStore) Credit(ctx context.Context, q Querier, orgID string, amountKopecks int64, source string, meta models.JSONB) (*models.Wallet, error) {
	if amountKopecks <= 0 {
		return nil, fmt.Errorf("store: credit amount must be positive, got %d", amountKopecks)
	}
	qr := s.querier(q)

	query := `
	INSERT INTO wallets (org_id, balance_kopecks)
	VALUES ($1, $2)
	ON CONFLICT (org_id) DO UPDATE
	SET balance_kopecks = wallets.balance_kopecks + EXCLUDED.balance_kopecks,
	    updated_at = now()
	RETURNING ` + walletColumns

	var w models.Wallet
	err := qr.QueryRowContext(ctx, query, orgID, amountKopecks).Scan(
		&w.ID, &w.OrgID, &w.BalanceKopecks, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: credit wallet: %w", err)
	}

	if err := s.appendTransaction(ctx, qr, orgID, amountKopecks, source, meta, w.BalanceKopecks); err != nil {
		return nil, err
	}

	return &w, nil
}

func (s *WalletStore) appendTransaction(ctx context.Context, q Querier, orgID string, amountKopecks int64, source string, meta models.JSONB, balanceAfter int64) error {
	query := `
	INSERT INTO wallet_transactions (org_id, amount_kopecks, source, meta, balance_after_kopecks)
	VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := q.ExecContext(ctx, query, orgID, amountKopecks, source, meta, balanceAfter); err != nil {
		return fmt.Errorf("store: append wallet transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the newest ledger entries for an organization.
func (s *WalletStore) ListTransactions(ctx context.Context, q Querier, orgID string, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	query := `
	SELECT id, org_id, amount_kopecks, source, meta, balance_after_kopecks, created_at
	FROM wallet_transactions
	WHERE org_id = $1
	ORDER BY id DESC
	LIMIT $2
	`

	rows, err := s.querier(q).QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list wallet transactions: %w", err)
	}
	defer rows.Close()

	var entries []models.WalletTransaction
	for rows.Next() {
		var e models.WalletTransaction
		if err := rows.Scan(&e.ID, &e.OrgID, &e.AmountKopecks, &e.Source, &e.Meta, &e.BalanceAfterKopecks, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan wallet transaction: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate wallet transactions: %w", err)
	}
	return entries, nil
}

// SumLedger returns the sum of all ledger entry amounts for an organization.
// Replaying the ledger must reproduce the wallet balance; the verify job uses
// this to flag drift.
func (s *WalletStore) SumLedger(ctx context.Context, q Querier, orgID string) (int64, error) {
	var sum int64
	err := s.querier(q).QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_kopecks), 0) FROM wallet_transactions WHERE org_id = $1`,
		orgID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("store: sum wallet ledger: %w", err)
	}
	return sum, nil
}

// ListWalletOrgIDs returns the org ids of all wallets, for the ledger verify
// sweep.
func (s *WalletStore) ListWalletOrgIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT org_id FROM wallets ORDER BY org_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list wallet org ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan wallet org id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate wallet org ids: %w", err)
	}
	return ids, nil
}
