package models

import (
	"fmt"
	"time"
)

// Wallet holds the prepaid balance for one organization. The balance must only
// be mutated through the wallet store's debit/credit primitives so every change
// lands in the wallet_transactions ledger.
type Wallet struct {
	ID             int64     `json:"id"`
	OrgID          string    `json:"org_id"`
	BalanceKopecks int64     `json:"balance_kopecks"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WalletTransaction is one append-only ledger entry. Amount is signed (debits
// negative, credits positive); BalanceAfterKopecks snapshots the wallet balance
// after applying the entry, so replaying all entries in order reproduces it.
type WalletTransaction struct {
	ID                  int64     `json:"id"`
	OrgID               string    `json:"org_id"`
	AmountKopecks       int64     `json:"amount_kopecks"`
	Source              string    `json:"source"`
	Meta                JSONB     `json:"meta"`
	BalanceAfterKopecks int64     `json:"balance_after_kopecks"`
	CreatedAt           time.Time `json:"created_at"`
}

// Ledger entry sources.
const (
	TxSourceSubscription = "subscription"
	TxSourcePlanChange   = "plan_change"
	TxSourceTopup        = "topup"
	TxSourceBid          = "bid"
)

// RubString formats an amount of kopecks as rubles with two decimals.
func RubString(kopecks int64) string {
	sign := ""
	if kopecks < 0 {
		sign = "-"
		kopecks = -kopecks
	}
	return fmt.Sprintf("%s%d.%02d", sign, kopecks/100, kopecks%100)
}
