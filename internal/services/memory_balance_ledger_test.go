package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/repaircoin/backend/internal/config"
	"github.com/repaircoin/backend/internal/metrics"
	"github.com/repaircoin/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestMemoryLedger(t *testing.T, lockTimeout time.Duration) (*MemoryBalanceLedger, *metrics.LedgerMetrics) {
	t.Helper()
	m := metrics.NewLedgerMetrics(prometheus.NewRegistry())
	cfg := &config.LedgerConfig{
		Backend:             config.BackendMemory,
		LockTimeout:         lockTimeout,
		HistoryDefaultLimit: 20,
		HistoryMaxLimit:     100,
	}
	return NewMemoryBalanceLedger(cfg, nil, m, nil), m
}

func seedShop(t *testing.T, l *MemoryBalanceLedger, shopID, balance string) {
	t.Helper()
	_, err := l.CreateShopAccount(context.Background(), shopID)
	require.NoError(t, err)
	if b := dec(balance); b.IsPositive() {
		_, err = l.AddPurchasedBalance(context.Background(), shopID, b, "seed")
		require.NoError(t, err)
	}
}

func TestMemoryBalanceLedger_DeductBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("sufficient balance", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "15")

		change, err := l.DeductBalance(ctx, "shop-1", dec("10"))
		require.NoError(t, err)
		assert.True(t, change.PreviousBalance.Equal(dec("15")))
		assert.True(t, change.NewBalance.Equal(dec("5")))

		account, err := l.GetShopAccount(ctx, "shop-1")
		require.NoError(t, err)
		assert.True(t, account.PurchasedBalance.Equal(dec("5")))
		assert.True(t, account.TotalTokensIssued.Equal(dec("10")))
		assert.NotNil(t, account.LastActivityAt)
	})

	t.Run("insufficient balance leaves account untouched", func(t *testing.T) {
		l, m := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "15")
		before, err := l.GetShopAccount(ctx, "shop-1")
		require.NoError(t, err)

		_, err = l.DeductBalance(ctx, "shop-1", dec("20"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.EqualError(t, err, "insufficient balance: required 20, available 15")

		after, err := l.GetShopAccount(ctx, "shop-1")
		require.NoError(t, err)
		assert.True(t, after.PurchasedBalance.Equal(dec("15")))
		assert.True(t, after.TotalTokensIssued.IsZero())
		assert.Equal(t, before.Version, after.Version)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues(opDeduct, metrics.ResultInsufficient)))

		entries, err := l.ListBalanceEntries(ctx, "shop-1", 0)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("exact balance", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "15")

		change, err := l.DeductBalance(ctx, "shop-1", dec("15"))
		require.NoError(t, err)
		assert.True(t, change.NewBalance.IsZero())
	})

	t.Run("tokens issued differ from amount", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "15")

		change, err := l.DeductBalance(ctx, "shop-1", dec("5"), WithTokensIssued(dec("10")), WithReference("reward-1"))
		require.NoError(t, err)
		assert.True(t, change.NewBalance.Equal(dec("10")))

		account, err := l.GetShopAccount(ctx, "shop-1")
		require.NoError(t, err)
		assert.True(t, account.TotalTokensIssued.Equal(dec("10")))

		entries, err := l.ListBalanceEntries(ctx, "shop-1", 1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.EntryDeduction, entries[0].EntryType)
		assert.Equal(t, "reward-1", entries[0].Reference)
		assert.True(t, entries[0].Amount.Equal(dec("5")))
	})

	t.Run("unknown shop", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)

		_, err := l.DeductBalance(ctx, "missing", dec("1"))
		assert.ErrorIs(t, err, ErrShopNotFound)
	})

	t.Run("invalid amount", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "15")

		_, err := l.DeductBalance(ctx, "shop-1", decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = l.DeductBalance(ctx, "shop-1", dec("-3"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestMemoryBalanceLedger_ConcurrentDeductionsHaveOneWinner(t *testing.T) {
	l, _ := newTestMemoryLedger(t, 5*time.Second)
	seedShop(t, l, "shop-1", "15")

	var (
		g            errgroup.Group
		succeeded    atomic.Int32
		insufficient atomic.Int32
	)
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := l.DeductBalance(context.Background(), "shop-1", dec("15"))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientBalance):
				insufficient.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), insufficient.Load())

	account, err := l.GetShopAccount(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.True(t, account.PurchasedBalance.IsZero())
}

func TestMemoryBalanceLedger_NeverNegativeAndConserved(t *testing.T) {
	l, _ := newTestMemoryLedger(t, 5*time.Second)
	seedShop(t, l, "shop-1", "100")

	const workers = 50
	var (
		g        errgroup.Group
		deducted atomic.Int64
	)
	for i := 0; i < workers; i++ {
		amount := int64(i%7 + 1)
		g.Go(func() error {
			_, err := l.DeductBalance(context.Background(), "shop-1", decimal.NewFromInt(amount))
			if err == nil {
				deducted.Add(amount)
				return nil
			}
			if errors.Is(err, ErrInsufficientBalance) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	account, err := l.GetShopAccount(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.False(t, account.PurchasedBalance.IsNegative())
	assert.True(t, account.PurchasedBalance.Equal(decimal.NewFromInt(100-deducted.Load())))
	assert.True(t, account.TotalTokensIssued.Equal(decimal.NewFromInt(deducted.Load())))

	// every successful deduction leaves one history entry whose before/after chain is unbroken
	entries, err := l.ListBalanceEntries(context.Background(), "shop-1", 100)
	require.NoError(t, err)
	for i := 0; i+1 < len(entries); i++ {
		assert.True(t, entries[i].BalanceBefore.Equal(entries[i+1].BalanceAfter))
	}
}

func TestMemoryBalanceLedger_LockTimeout(t *testing.T) {
	l, m := newTestMemoryLedger(t, 20*time.Millisecond)
	seedShop(t, l, "shop-1", "15")

	release, err := l.acquire(context.Background(), "shop-1")
	require.NoError(t, err)

	_, err = l.DeductBalance(context.Background(), "shop-1", dec("5"))
	assert.ErrorIs(t, err, ErrLedgerBusy)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues(opDeduct, metrics.ResultBusy)))

	release()

	account, err := l.GetShopAccount(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.True(t, account.PurchasedBalance.Equal(dec("15")))

	_, err = l.DeductBalance(context.Background(), "shop-1", dec("5"))
	assert.NoError(t, err)
}

func TestMemoryBalanceLedger_CancelledContext(t *testing.T) {
	l, _ := newTestMemoryLedger(t, time.Second)
	seedShop(t, l, "shop-1", "15")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.DeductBalance(ctx, "shop-1", dec("5"))
	assert.ErrorIs(t, err, ErrLedgerBusy)

	account, err := l.GetShopAccount(context.Background(), "shop-1")
	require.NoError(t, err)
	assert.True(t, account.PurchasedBalance.Equal(dec("15")))
}

func TestMemoryBalanceLedger_ShopsDoNotBlockEachOther(t *testing.T) {
	l, _ := newTestMemoryLedger(t, 50*time.Millisecond)
	seedShop(t, l, "shop-x", "15")
	seedShop(t, l, "shop-y", "15")

	release, err := l.acquire(context.Background(), "shop-x")
	require.NoError(t, err)
	defer release()

	change, err := l.DeductBalance(context.Background(), "shop-y", dec("10"))
	require.NoError(t, err)
	assert.True(t, change.NewBalance.Equal(dec("5")))
}

func TestMemoryBalanceLedger_AccountsAndHistory(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestMemoryLedger(t, time.Second)

	_, err := l.CreateShopAccount(ctx, "shop-1")
	require.NoError(t, err)
	_, err = l.CreateShopAccount(ctx, "shop-1")
	assert.ErrorIs(t, err, ErrShopExists)

	for i := 1; i <= 3; i++ {
		_, err := l.AddPurchasedBalance(ctx, "shop-1", decimal.NewFromInt(int64(i*10)), fmt.Sprintf("order-%d", i))
		require.NoError(t, err)
	}

	entries, err := l.ListBalanceEntries(ctx, "shop-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "order-3", entries[0].Reference)
	assert.Equal(t, "order-2", entries[1].Reference)
	assert.True(t, entries[0].BalanceAfter.Equal(dec("60")))

	_, err = l.ListBalanceEntries(ctx, "missing", 2)
	assert.ErrorIs(t, err, ErrShopNotFound)

	seedShop(t, l, "shop-2", "5")
	_, err = l.DeductBalance(ctx, "shop-2", dec("2"))
	require.NoError(t, err)

	stats, err := l.GetTreasuryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ShopCount)
	assert.True(t, stats.TotalPurchasedBalance.Equal(dec("63")))
	assert.True(t, stats.TotalTokensIssued.Equal(dec("2")))
}

func TestMemoryBalanceLedger_SequentialDeductions(t *testing.T) {
	ctx := context.Background()

	t.Run("three deductions drain the balance", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "30")

		for i := 0; i < 3; i++ {
			_, err := l.DeductBalance(ctx, "shop-1", dec("10"))
			require.NoError(t, err)
		}

		account, err := l.GetShopAccount(ctx, "shop-1")
		require.NoError(t, err)
		assert.True(t, account.PurchasedBalance.IsZero())
		assert.True(t, account.TotalTokensIssued.Equal(dec("30")))
	})

	t.Run("explicit tokens issued", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "100")

		_, err := l.DeductBalance(ctx, "shop-1", dec("10"), WithTokensIssued(dec("10")))
		require.NoError(t, err)

		account, err := l.GetShopAccount(ctx, "shop-1")
		require.NoError(t, err)
		assert.True(t, account.PurchasedBalance.Equal(dec("90")))
		assert.True(t, account.TotalTokensIssued.Equal(dec("10")))
	})

	t.Run("fractional amounts do not drift", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "1")

		for i := 0; i < 10; i++ {
			_, err := l.DeductBalance(ctx, "shop-1", dec("0.1"))
			require.NoError(t, err)
		}

		account, err := l.GetShopAccount(ctx, "shop-1")
		require.NoError(t, err)
		assert.True(t, account.PurchasedBalance.IsZero())
	})
}

func TestMemoryBalanceLedger_AmountScale(t *testing.T) {
	ctx := context.Background()

	t.Run("more than 18 decimal places is rejected", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "15")

		_, err := l.DeductBalance(ctx, "shop-1", dec("0.0000000000000000001"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = l.DeductBalance(ctx, "shop-1", dec("1"), WithTokensIssued(dec("1.0000000000000000001")))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = l.AddPurchasedBalance(ctx, "shop-1", dec("2.0000000000000000001"), "")
		assert.ErrorIs(t, err, ErrInvalidAmount)

		account, err := l.GetShopAccount(ctx, "shop-1")
		require.NoError(t, err)
		assert.True(t, account.PurchasedBalance.Equal(dec("15")))
		assert.True(t, account.TotalTokensIssued.IsZero())
	})

	t.Run("18 decimal places is accepted", func(t *testing.T) {
		l, _ := newTestMemoryLedger(t, time.Second)
		seedShop(t, l, "shop-1", "15")

		change, err := l.DeductBalance(ctx, "shop-1", dec("0.000000000000000001"))
		require.NoError(t, err)
		assert.True(t, change.NewBalance.Equal(dec("14.999999999999999999")))
	})
}

func TestMemoryBalanceLedger_NonPositiveLockTimeout(t *testing.T) {
	ctx := context.Background()

	for _, timeout := range []time.Duration{0, -time.Second} {
		l, _ := newTestMemoryLedger(t, timeout)
		seedShop(t, l, "shop-1", "15")

		change, err := l.DeductBalance(ctx, "shop-1", dec("10"))
		require.NoError(t, err, "timeout %s", timeout)
		assert.True(t, change.NewBalance.Equal(dec("5")))
	}
}
