package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

type mockWallets struct {
	wallet       *models.Wallet
	transactions []models.WalletTransaction
	lastAmount   int64
	lastSource   string
	lastLimit    int
	err          error
}

func (m *mockWallets) Ensure(ctx context.Context, q store.Querier, orgID string) (*models.Wallet, error) {
	return m.wallet, m.err
}

func (m *mockWallets) Credit(ctx context.Context, q store.Querier, orgID string, amountKopecks int64, source string, meta models.JSONB) (*models.Wallet, error) {
	m.lastAmount = amountKopecks
	m.lastSource = source
	return m.wallet, m.err
}

func (m *mockWallets) ListTransactions(ctx context.Context, q store.Querier, orgID string, limit int) ([]models.WalletTransaction, error) {
	m.lastLimit = limit
	return m.transactions, m.err
}

func TestGetWallet(t *testing.T) {
	wallets := &mockWallets{wallet: &models.Wallet{OrgID: "org-1", BalanceKopecks: 42000}}

	req := httptest.NewRequest(http.MethodGet, "/api/wallet", nil)
	req.Header.Set("X-Org-ID", "org-1")
	rr := httptest.NewRecorder()

	GetWallet(wallets).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	var w models.Wallet
	if err := json.NewDecoder(rr.Body).Decode(&w); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if w.BalanceKopecks != 42000 {
		t.Fatalf("unexpected balance %d", w.BalanceKopecks)
	}
}

func TestTopUpWallet(t *testing.T) {
	wallets := &mockWallets{wallet: &models.Wallet{OrgID: "org-1", BalanceKopecks: 67000}}

	body := strings.NewReader(`{"amount_kopecks":25000,"reference":"inv-77"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/wallet/topup", body)
	req.Header.Set("X-Org-ID", "org-1")
	rr := httptest.NewRecorder()

	TopUpWallet(wallets).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if wallets.lastAmount != 25000 {
		t.Fatalf("expected credit of 25000, got %d", wallets.lastAmount)
	}
	if wallets.lastSource != models.TxSourceTopup {
		t.Fatalf("expected topup source, got %q", wallets.lastSource)
	}
}

func TestTopUpWalletRejectsNonPositiveAmount(t *testing.T) {
	wallets := &mockWallets{}

	for _, body := range []string{`{"amount_kopecks":0}`, `{"amount_kopecks":-100}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/wallet/topup", strings.NewReader(body))
		req.Header.Set("X-Org-ID", "org-1")
		rr := httptest.NewRecorder()

		TopUpWallet(wallets).ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: unexpected status %d", body, rr.Code)
		}
	}
}

func TestListWalletTransactionsCapsLimit(t *testing.T) {
	wallets := &mockWallets{transactions: []models.WalletTransaction{{OrgID: "org-1", AmountKopecks: -100000}}}

	req := httptest.NewRequest(http.MethodGet, "/api/wallet/transactions?limit=9999", nil)
	req.Header.Set("X-Org-ID", "org-1")
	rr := httptest.NewRecorder()

	ListWalletTransactions(wallets).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if wallets.lastLimit != 200 {
		t.Fatalf("expected limit capped at 200, got %d", wallets.lastLimit)
	}
}
