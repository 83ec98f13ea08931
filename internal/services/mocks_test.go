package services

import (
	"context"

	"github.com/repaircoin/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockBalanceLedger resolves the deduct options before recording the call so expectations can
// match on plain strings.
type MockBalanceLedger struct {
	mock.Mock
}

func (m *MockBalanceLedger) CreateShopAccount(ctx context.Context, shopID string) (*models.ShopAccount, error) {
	args := m.Called(ctx, shopID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ShopAccount), args.Error(1)
}

func (m *MockBalanceLedger) DeductBalance(ctx context.Context, shopID string, amount decimal.Decimal, opts ...DeductOption) (*models.BalanceChange, error) {
	o := newDeductOptions(amount, opts)
	args := m.Called(ctx, shopID, amount.String(), o.tokensIssued.String(), o.reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BalanceChange), args.Error(1)
}

func (m *MockBalanceLedger) AddPurchasedBalance(ctx context.Context, shopID string, amount decimal.Decimal, reference string) (*models.BalanceChange, error) {
	args := m.Called(ctx, shopID, amount.String(), reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BalanceChange), args.Error(1)
}

func (m *MockBalanceLedger) GetShopAccount(ctx context.Context, shopID string) (*models.ShopAccount, error) {
	args := m.Called(ctx, shopID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ShopAccount), args.Error(1)
}

func (m *MockBalanceLedger) ListBalanceEntries(ctx context.Context, shopID string, limit int) ([]models.BalanceEntry, error) {
	args := m.Called(ctx, shopID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BalanceEntry), args.Error(1)
}

type MockMintQueue struct {
	mock.Mock
}

func (m *MockMintQueue) Enqueue(ctx context.Context, job models.MintJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

var (
	_ BalanceLedger = (*MockBalanceLedger)(nil)
	_ MintQueue     = (*MockMintQueue)(nil)
)
