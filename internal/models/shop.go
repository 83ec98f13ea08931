package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShopAccount holds a shop's pre-purchased RCN reserve and its lifetime issuance counter.
type ShopAccount struct {
	ShopID            string          `json:"shopId" db:"shop_id"`
	PurchasedBalance  decimal.Decimal `json:"purchasedBalance" db:"purchased_balance"`
	TotalTokensIssued decimal.Decimal `json:"totalTokensIssued" db:"total_tokens_issued"`
	Version           int64           `json:"version" db:"version"` // bumped on every mutation
	LastActivityAt    *time.Time      `json:"lastActivityAt,omitempty" db:"last_activity_at"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// TreasuryStats aggregates every shop account. Read-only.
type TreasuryStats struct {
	ShopCount             int64           `json:"shopCount"`
	TotalPurchasedBalance decimal.Decimal `json:"totalPurchasedBalance"`
	TotalTokensIssued     decimal.Decimal `json:"totalTokensIssued"`
}
