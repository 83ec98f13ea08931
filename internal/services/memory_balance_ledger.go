package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/repaircoin/backend/internal/audit"
	"github.com/repaircoin/backend/internal/config"
	"github.com/repaircoin/backend/internal/metrics"
	"github.com/repaircoin/backend/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// MemoryBalanceLedger keeps shop accounts in process memory. Each shop has its own weighted
// semaphore of size one, so deductions for one shop queue behind each other while other shops
// proceed. mu only guards the maps and account fields and is never held while waiting.
type MemoryBalanceLedger struct {
	mu       sync.Mutex
	accounts map[string]*models.ShopAccount
	entries  map[string][]models.BalanceEntry
	locks    map[string]*semaphore.Weighted

	lockTimeout time.Duration
	historyDef  int
	historyMax  int
	observer    ledgerObserver
	now         func() time.Time
}

func NewMemoryBalanceLedger(cfg *config.LedgerConfig, auditLogger audit.Logger, m *metrics.LedgerMetrics, logger *zap.Logger) *MemoryBalanceLedger {
	if cfg == nil {
		cfg = config.LoadLedgerConfig()
	}
	c := *cfg
	c.Sanitize()
	return &MemoryBalanceLedger{
		accounts:    make(map[string]*models.ShopAccount),
		entries:     make(map[string][]models.BalanceEntry),
		locks:       make(map[string]*semaphore.Weighted),
		lockTimeout: c.LockTimeout,
		historyDef:  c.HistoryDefaultLimit,
		historyMax:  c.HistoryMaxLimit,
		observer:    newLedgerObserver(auditLogger, m, logger),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryBalanceLedger) CreateShopAccount(ctx context.Context, shopID string) (*models.ShopAccount, error) {
	if err := validateShopID(shopID); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[shopID]; ok {
		return nil, ErrShopExists
	}
	now := l.now()
	account := &models.ShopAccount{
		ShopID:            shopID,
		PurchasedBalance:  decimal.Zero,
		TotalTokensIssued: decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	l.accounts[shopID] = account
	l.locks[shopID] = semaphore.NewWeighted(1)
	snapshot := *account
	return &snapshot, nil
}

func (l *MemoryBalanceLedger) DeductBalance(ctx context.Context, shopID string, amount decimal.Decimal, opts ...DeductOption) (*models.BalanceChange, error) {
	o := newDeductOptions(amount, opts)
	if err := validateDeduction(shopID, amount, o); err != nil {
		l.observer.failed(opDeduct, shopID, o.reference, amount, err)
		return nil, err
	}

	change, err := l.withShopLock(ctx, shopID, func(account *models.ShopAccount) (*models.BalanceChange, error) {
		if account.PurchasedBalance.LessThan(amount) {
			return nil, &InsufficientBalanceError{ShopID: shopID, Required: amount, Available: account.PurchasedBalance}
		}
		return l.apply(account, models.EntryDeduction, amount.Neg(), o.tokensIssued, o.reference), nil
	})
	if err != nil {
		l.observer.failed(opDeduct, shopID, o.reference, amount, err)
		return nil, err
	}

	l.observer.deducted(shopID, o.reference, amount, change)
	return change, nil
}

func (l *MemoryBalanceLedger) AddPurchasedBalance(ctx context.Context, shopID string, amount decimal.Decimal, reference string) (*models.BalanceChange, error) {
	if err := validateShopID(shopID); err != nil {
		l.observer.failed(opPurchase, shopID, reference, amount, err)
		return nil, err
	}
	if err := validatePositive("amount", amount); err != nil {
		l.observer.failed(opPurchase, shopID, reference, amount, err)
		return nil, err
	}

	change, err := l.withShopLock(ctx, shopID, func(account *models.ShopAccount) (*models.BalanceChange, error) {
		return l.apply(account, models.EntryPurchase, amount, decimal.Zero, reference), nil
	})
	if err != nil {
		l.observer.failed(opPurchase, shopID, reference, amount, err)
		return nil, err
	}

	l.observer.purchased(shopID, reference, amount, change)
	return change, nil
}

func (l *MemoryBalanceLedger) GetShopAccount(ctx context.Context, shopID string) (*models.ShopAccount, error) {
	if err := validateShopID(shopID); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	account, ok := l.accounts[shopID]
	if !ok {
		return nil, ErrShopNotFound
	}
	snapshot := *account
	return &snapshot, nil
}

func (l *MemoryBalanceLedger) ListBalanceEntries(ctx context.Context, shopID string, limit int) ([]models.BalanceEntry, error) {
	if err := validateShopID(shopID); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[shopID]; !ok {
		return nil, ErrShopNotFound
	}
	history := l.entries[shopID]
	n := clampLimit(limit, l.historyDef, l.historyMax)
	if n > len(history) {
		n = len(history)
	}

	// newest first
	entries := make([]models.BalanceEntry, 0, n)
	for i := len(history) - 1; i >= len(history)-n; i-- {
		entries = append(entries, history[i])
	}
	return entries, nil
}

func (l *MemoryBalanceLedger) GetTreasuryStats(ctx context.Context) (*models.TreasuryStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &models.TreasuryStats{
		TotalPurchasedBalance: decimal.Zero,
		TotalTokensIssued:     decimal.Zero,
	}
	for _, account := range l.accounts {
		stats.ShopCount++
		stats.TotalPurchasedBalance = stats.TotalPurchasedBalance.Add(account.PurchasedBalance)
		stats.TotalTokensIssued = stats.TotalTokensIssued.Add(account.TotalTokensIssued)
	}
	return stats, nil
}

// withShopLock holds the shop's semaphore while fn runs. fn is called with mu held, so it must
// not block.
func (l *MemoryBalanceLedger) withShopLock(ctx context.Context, shopID string, fn func(account *models.ShopAccount) (*models.BalanceChange, error)) (*models.BalanceChange, error) {
	release, err := l.acquire(ctx, shopID)
	if err != nil {
		return nil, err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l.accounts[shopID])
}

func (l *MemoryBalanceLedger) acquire(ctx context.Context, shopID string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.locks[shopID]
	l.mu.Unlock()
	if !ok {
		return nil, ErrShopNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: shop %s: %v", ErrLedgerBusy, shopID, err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()

	started := time.Now()
	err := sem.Acquire(lockCtx, 1)
	l.observer.metrics.ObserveLockWait(config.BackendMemory, started)
	if err != nil {
		return nil, fmt.Errorf("%w: shop %s: %v", ErrLedgerBusy, shopID, err)
	}
	return func() { sem.Release(1) }, nil
}

// apply mutates account and records history. delta is signed; tokensIssued is added to the
// issued counter. Callers hold both the shop semaphore and mu.
func (l *MemoryBalanceLedger) apply(account *models.ShopAccount, entryType models.BalanceEntryType, delta, tokensIssued decimal.Decimal, reference string) *models.BalanceChange {
	now := l.now()
	before := account.PurchasedBalance
	after := before.Add(delta)

	account.PurchasedBalance = after
	account.TotalTokensIssued = account.TotalTokensIssued.Add(tokensIssued)
	account.Version++
	account.LastActivityAt = &now
	account.UpdatedAt = now

	l.entries[account.ShopID] = append(l.entries[account.ShopID], models.BalanceEntry{
		ID:            uuid.NewString(),
		ShopID:        account.ShopID,
		EntryType:     entryType,
		Amount:        delta.Abs(),
		TokensIssued:  tokensIssued,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     reference,
		CreatedAt:     now,
	})

	return &models.BalanceChange{
		PreviousBalance: before,
		NewBalance:      after,
		TokensIssued:    tokensIssued,
	}
}

var (
	_ BalanceLedger  = (*MemoryBalanceLedger)(nil)
	_ TreasuryReader = (*MemoryBalanceLedger)(nil)
)
