package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CustomerTier string

const (
	TierBronze CustomerTier = "BRONZE"
	TierSilver CustomerTier = "SILVER"
	TierGold   CustomerTier = "GOLD"
)

// RewardRequest is one customer reward event raised by a shop after a repair.
type RewardRequest struct {
	ShopID          string          `json:"-" validate:"required"`
	CustomerAddress string          `json:"customerAddress" validate:"required,eth_addr"`
	BaseReward      decimal.Decimal `json:"baseReward"`
	CustomerTier    CustomerTier    `json:"customerTier" validate:"required,oneof=BRONZE SILVER GOLD"`
	IdempotencyKey  string          `json:"idempotencyKey" validate:"required,max=128"`
}

type RewardResult struct {
	RewardID        string          `json:"rewardId"`
	ShopID          string          `json:"shopId"`
	CustomerAddress string          `json:"customerAddress"`
	BaseReward      decimal.Decimal `json:"baseReward"`
	TierBonus       decimal.Decimal `json:"tierBonus"`
	TokensIssued    decimal.Decimal `json:"tokensIssued"`
	PreviousBalance decimal.Decimal `json:"previousBalance"`
	NewBalance      decimal.Decimal `json:"newBalance"`
	MintQueued      bool            `json:"mintQueued"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// MintJob is handed to the downstream token minter through the mint queue.
type MintJob struct {
	RewardID        string          `json:"rewardId"`
	ShopID          string          `json:"shopId"`
	CustomerAddress string          `json:"customerAddress"`
	Amount          decimal.Decimal `json:"amount"`
	CreatedAt       time.Time       `json:"createdAt"`
}
