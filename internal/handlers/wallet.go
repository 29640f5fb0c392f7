package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/brigada-app/backend/internal/models"
	"github.com/brigada-app/backend/internal/store"
)

// WalletLedger defines the behaviour required from the wallet store backing
// the wallet handlers. The Querier parameter is always nil here; handlers
// never run inside a transaction.
type WalletLedger interface {
	Ensure(ctx context.Context, q store.Querier, orgID string) (*models.Wallet, error)
	Credit(ctx context.Context, q store.Querier, orgID string, amountKopecks int64, source string, meta models.JSONB) (*models.Wallet, error)
	ListTransactions(ctx context.Context, q store.Querier, orgID string, limit int) ([]models.WalletTransaction, error)
}

// maxTopupKopecks caps a single top-up at 1,000,000 RUB.
const maxTopupKopecks = 100_000_000

// GetWallet returns the organization's wallet, creating it on first access.
func GetWallet(wallets WalletLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := requestOrgID(w, r)
		if !ok {
			return
		}

		wallet, err := wallets.Ensure(r.Context(), nil, orgID)
		if err != nil {
			log.Printf("GetWallet: failed to load wallet for org=%s: %v", orgID, err)
			http.Error(w, "failed to load wallet", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, wallet)
	}
}

type topUpPayload struct {
	AmountKopecks int64  `json:"amount_kopecks"`
	Reference     string `json:"reference,omitempty"`
}

// TopUpWallet credits the organization's wallet. The credit is recorded as a
// topup ledger entry with the external payment reference in its metadata.
func TopUpWallet(wallets WalletLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := requestOrgID(w, r)
		if !ok {
			return
		}

		var payload topUpPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}
		if payload.AmountKopecks <= 0 {
			http.Error(w, "amount_kopecks must be positive", http.StatusBadRequest)
			return
		}
		if payload.AmountKopecks > maxTopupKopecks {
			http.Error(w, "amount_kopecks exceeds the top-up limit", http.StatusBadRequest)
			return
		}

		meta := models.JSONB{}
		if payload.Reference != "" {
			meta["reference"] = payload.Reference
		}

		wallet, err := wallets.Credit(r.Context(), nil, orgID, payload.AmountKopecks, models.TxSourceTopup, meta)
		if err != nil {
			log.Printf("TopUpWallet: credit failed for org=%s amount=%s: %v", orgID, models.RubString(payload.AmountKopecks), err)
			http.Error(w, "failed to top up wallet", http.StatusInternalServerError)
			return
		}

		log.Printf("TopUpWallet: org=%s credited %s, balance now %s", orgID,
			models.RubString(payload.AmountKopecks), models.RubString(wallet.BalanceKopecks))
		writeJSON(w, http.StatusOK, wallet)
	}
}

// ListWalletTransactions returns the organization's ledger entries, newest
// first. The limit query parameter defaults to 50 and is capped at 200.
func ListWalletTransactions(wallets WalletLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := requestOrgID(w, r)
		if !ok {
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		if limit > 200 {
			limit = 200
		}

		transactions, err := wallets.ListTransactions(r.Context(), nil, orgID, limit)
		if err != nil {
			log.Printf("ListWalletTransactions: failed for org=%s: %v", orgID, err)
			http.Error(w, "failed to list transactions", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"transactions": transactions,
			"count":        len(transactions),
		})
	}
}
