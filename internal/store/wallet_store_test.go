package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/brigada-app/backend/internal/models"
)

func newWalletStoreWithMock(t *testing.T) (*WalletStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewWalletStore(db)
	if err != nil {
		t.Fatalf("failed to create wallet store: %v", err)
	}
	return s, mock
}

func walletRow(id int64, orgID string, balance int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "org_id", "balance_kopecks", "created_at", "updated_at"}).
		AddRow(id, orgID, balance, now, now)
}

func TestWalletEnsureCreatesWithZeroBalance(t *testing.T) {
	s, mock := newWalletStoreWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wallets (org_id, balance_kopecks)")).
		WithArgs("org-1").
		WillReturnRows(walletRow(1, "org-1", 0))

	w, err := s.Ensure(context.Background(), nil, "org-1")
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if w.OrgID != "org-1" || w.BalanceKopecks != 0 {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWalletGetNotFound(t *testing.T) {
	s, mock := newWalletStoreWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, balance_kopecks, created_at, updated_at FROM wallets WHERE org_id = $1")).
		WithArgs("org-missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.Get(context.Background(), nil, "org-missing"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestWalletDebitSuccessAppendsLedgerEntry(t *testing.T) {
	s, mock := newWalletStoreWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE wallets")).
		WithArgs("org-1", int64(100000)).
		WillReturnRows(walletRow(1, "org-1", 50000))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wallet_transactions (org_id, amount_kopecks, source, meta, balance_after_kopecks)")).
		WithArgs("org-1", int64(-100000), models.TxSourceSubscription, []byte(`{"plan":"pro"}`), int64(50000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := s.Debit(context.Background(), nil, "org-1", 100000, models.TxSourceSubscription, models.JSONB{"plan": "pro"})
	if err != nil {
		t.Fatalf("Debit returned error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected successful debit, got %+v", result)
	}
	if result.Wallet.BalanceKopecks != 50000 {
		t.Fatalf("unexpected balance %d", result.Wallet.BalanceKopecks)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWalletDebitInsufficientBalance(t *testing.T) {
	s, mock := newWalletStoreWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE wallets")).
		WithArgs("org-1", int64(100000)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, balance_kopecks, created_at, updated_at FROM wallets WHERE org_id = $1")).
		WithArgs("org-1").
		WillReturnRows(walletRow(1, "org-1", 300))

	result, err := s.Debit(context.Background(), nil, "org-1", 100000, models.TxSourceSubscription, nil)
	if err != nil {
		t.Fatalf("Debit returned error: %v", err)
	}
	if result.OK {
		t.Fatal("expected failed debit")
	}
	if result.AvailableKopecks != 300 {
		t.Fatalf("expected available 300, got %d", result.AvailableKopecks)
	}

	// No ledger entry may be written for a failed debit.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWalletDebitMissingWalletCreatesIt(t *testing.T) {
	s, mock := newWalletStoreWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE wallets")).
		WithArgs("org-1", int64(100000)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, org_id, balance_kopecks, created_at, updated_at FROM wallets WHERE org_id = $1")).
		WithArgs("org-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wallets (org_id, balance_kopecks)")).
		WithArgs("org-1").
		WillReturnRows(walletRow(1, "org-1", 0))

	result, err := s.Debit(context.Background(), nil, "org-1", 100000, models.TxSourceSubscription, nil)
	if err != nil {
		t.Fatalf("Debit returned error: %v", err)
	}
	if result.OK || result.AvailableKopecks != 0 {
		t.Fatalf("expected failed debit with zero available, got %+v", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWalletDebitRejectsNonPositiveAmount(t *testing.T) {
	s, _ := newWalletStoreWithMock(t)

	if _, err := s.Debit(context.Background(), nil, "org-1", 0, models.TxSourceSubscription, nil); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if _, err := s.Debit(context.Background(), nil, "org-1", -5, models.TxSourceSubscription, nil); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestWalletCreditUpsertsAndAppendsLedgerEntry(t *testing.T) {
	s, mock := newWalletStoreWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wallets (org_id, balance_kopecks)")).
		WithArgs("org-1", int64(25000)).
		WillReturnRows(walletRow(1, "org-1", 75000))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wallet_transactions (org_id, amount_kopecks, source, meta, balance_after_kopecks)")).
		WithArgs("org-1", int64(25000), models.TxSourceTopup, []byte(`{}`), int64(75000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w, err := s.Credit(context.Background(), nil, "org-1", 25000, models.TxSourceTopup, models.JSONB{})
	if err != nil {
		t.Fatalf("Credit returned error: %v", err)
	}
	if w.BalanceKopecks != 75000 {
		t.Fatalf("unexpected balance %d", w.BalanceKopecks)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWalletSumLedger(t *testing.T) {
	s, mock := newWalletStoreWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(amount_kopecks), 0) FROM wallet_transactions WHERE org_id = $1")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(42000)))

	sum, err := s.SumLedger(context.Background(), nil, "org-1")
	if err != nil {
		t.Fatalf("SumLedger returned error: %v", err)
	}
	if sum != 42000 {
		t.Fatalf("expected sum 42000, got %d", sum)
	}
}
