package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/repaircoin/backend/internal/models"
)

// TreasuryService aggregates balances across every shop. It takes no row locks, so totals may
// trail in-flight mutations.
type TreasuryService struct {
	db *sql.DB
}

func NewTreasuryService(db *sql.DB) *TreasuryService {
	return &TreasuryService{db: db}
}

func (s *TreasuryService) GetTreasuryStats(ctx context.Context) (*models.TreasuryStats, error) {
	var stats models.TreasuryStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(purchased_balance), 0), COALESCE(SUM(total_tokens_issued), 0)
		FROM shops`).Scan(&stats.ShopCount, &stats.TotalPurchasedBalance, &stats.TotalTokensIssued)
	if err != nil {
		return nil, fmt.Errorf("get treasury stats: %w", err)
	}
	return &stats, nil
}

var _ TreasuryReader = (*TreasuryService)(nil)
