package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceEntryType classifies a row in shop_balance_entries.
type BalanceEntryType string

const (
	EntryDeduction BalanceEntryType = "DEDUCTION"
	EntryPurchase  BalanceEntryType = "PURCHASE"
)

// BalanceEntry is one row of a shop's balance history. Amount is drawn from
// (DEDUCTION) or added to (PURCHASE) the purchased balance; TokensIssued is zero
// for purchases.
type BalanceEntry struct {
	ID            string           `json:"id" db:"id"`
	ShopID        string           `json:"shopId" db:"shop_id"`
	EntryType     BalanceEntryType `json:"entryType" db:"entry_type"`
	Amount        decimal.Decimal  `json:"amount" db:"amount"`
	TokensIssued  decimal.Decimal  `json:"tokensIssued" db:"tokens_issued"`
	BalanceBefore decimal.Decimal  `json:"balanceBefore" db:"balance_before"`
	BalanceAfter  decimal.Decimal  `json:"balanceAfter" db:"balance_after"`
	Reference     string           `json:"reference,omitempty" db:"reference"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
}

// BalanceChange is the before/after view of a single ledger mutation.
type BalanceChange struct {
	PreviousBalance decimal.Decimal `json:"previousBalance"`
	NewBalance      decimal.Decimal `json:"newBalance"`
	TokensIssued    decimal.Decimal `json:"tokensIssued"`
}
