package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/repaircoin/backend/internal/audit"
	"github.com/repaircoin/backend/internal/config"
	"github.com/repaircoin/backend/internal/metrics"
	"github.com/repaircoin/backend/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgreSQL error codes that mean "could not get the row lock in time".
const (
	pqLockNotAvailable = "55P03"
	pqQueryCanceled    = "57014"
)

// ShopBalanceService is the PostgreSQL-backed BalanceLedger. It serializes mutations per shop
// with SELECT ... FOR UPDATE on the shops row.
type ShopBalanceService struct {
	db          *sql.DB
	lockTimeout time.Duration
	historyDef  int
	historyMax  int
	observer    ledgerObserver
	now         func() time.Time
}

// lockedAccount is the state read under the row lock.
type lockedAccount struct {
	balance decimal.Decimal
	issued  decimal.Decimal
	version int64
}

func NewShopBalanceService(db *sql.DB, cfg *config.LedgerConfig, auditLogger audit.Logger, m *metrics.LedgerMetrics, logger *zap.Logger) *ShopBalanceService {
	if cfg == nil {
		cfg = config.LoadLedgerConfig()
	}
	c := *cfg
	c.Sanitize()
	return &ShopBalanceService{
		db:          db,
		lockTimeout: c.LockTimeout,
		historyDef:  c.HistoryDefaultLimit,
		historyMax:  c.HistoryMaxLimit,
		observer:    newLedgerObserver(auditLogger, m, logger),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *ShopBalanceService) CreateShopAccount(ctx context.Context, shopID string) (*models.ShopAccount, error) {
	if err := validateShopID(shopID); err != nil {
		return nil, err
	}
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (shop_id, purchased_balance, total_tokens_issued, version, created_at, updated_at)
		VALUES ($1, 0, 0, 0, $2, $2)
		ON CONFLICT (shop_id) DO NOTHING`,
		shopID, now)
	if err != nil {
		return nil, fmt.Errorf("create shop account %s: %w", shopID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create shop account %s: %w", shopID, err)
	}
	if rows == 0 {
		return nil, ErrShopExists
	}
	return &models.ShopAccount{
		ShopID:            shopID,
		PurchasedBalance:  decimal.Zero,
		TotalTokensIssued: decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (s *ShopBalanceService) DeductBalance(ctx context.Context, shopID string, amount decimal.Decimal, opts ...DeductOption) (*models.BalanceChange, error) {
	o := newDeductOptions(amount, opts)
	if err := validateDeduction(shopID, amount, o); err != nil {
		s.observer.failed(opDeduct, shopID, o.reference, amount, err)
		return nil, err
	}

	var change *models.BalanceChange
	err := s.withShopLock(ctx, shopID, func(txCtx context.Context, tx *sql.Tx, acc *lockedAccount) error {
		if acc.balance.LessThan(amount) {
			return &InsufficientBalanceError{ShopID: shopID, Required: amount, Available: acc.balance}
		}

		newBalance := acc.balance.Sub(amount)
		now := s.now()
		if err := s.updateAccountBalance(txCtx, tx, shopID, newBalance, o.tokensIssued, acc.version, now); err != nil {
			return err
		}
		if err := s.createBalanceEntry(txCtx, tx, models.BalanceEntry{
			ID:            uuid.NewString(),
			ShopID:        shopID,
			EntryType:     models.EntryDeduction,
			Amount:        amount,
			TokensIssued:  o.tokensIssued,
			BalanceBefore: acc.balance,
			BalanceAfter:  newBalance,
			Reference:     o.reference,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		change = &models.BalanceChange{
			PreviousBalance: acc.balance,
			NewBalance:      newBalance,
			TokensIssued:    o.tokensIssued,
		}
		return nil
	})
	if err != nil {
		s.observer.failed(opDeduct, shopID, o.reference, amount, err)
		return nil, err
	}

	s.observer.deducted(shopID, o.reference, amount, change)
	return change, nil
}

// AddPurchasedBalance credits RCN a shop has bought. It takes the same row lock as
// DeductBalance so top-ups and deductions are totally ordered.
func (s *ShopBalanceService) AddPurchasedBalance(ctx context.Context, shopID string, amount decimal.Decimal, reference string) (*models.BalanceChange, error) {
	if err := validateShopID(shopID); err != nil {
		s.observer.failed(opPurchase, shopID, reference, amount, err)
		return nil, err
	}
	if err := validatePositive("amount", amount); err != nil {
		s.observer.failed(opPurchase, shopID, reference, amount, err)
		return nil, err
	}

	var change *models.BalanceChange
	err := s.withShopLock(ctx, shopID, func(txCtx context.Context, tx *sql.Tx, acc *lockedAccount) error {
		newBalance := acc.balance.Add(amount)
		now := s.now()
		if err := s.updateAccountBalance(txCtx, tx, shopID, newBalance, decimal.Zero, acc.version, now); err != nil {
			return err
		}
		if err := s.createBalanceEntry(txCtx, tx, models.BalanceEntry{
			ID:            uuid.NewString(),
			ShopID:        shopID,
			EntryType:     models.EntryPurchase,
			Amount:        amount,
			TokensIssued:  decimal.Zero,
			BalanceBefore: acc.balance,
			BalanceAfter:  newBalance,
			Reference:     reference,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		change = &models.BalanceChange{
			PreviousBalance: acc.balance,
			NewBalance:      newBalance,
			TokensIssued:    decimal.Zero,
		}
		return nil
	})
	if err != nil {
		s.observer.failed(opPurchase, shopID, reference, amount, err)
		return nil, err
	}

	s.observer.purchased(shopID, reference, amount, change)
	return change, nil
}

func (s *ShopBalanceService) GetShopAccount(ctx context.Context, shopID string) (*models.ShopAccount, error) {
	if err := validateShopID(shopID); err != nil {
		return nil, err
	}
	var (
		account      models.ShopAccount
		lastActivity sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT shop_id, purchased_balance, total_tokens_issued, version, last_activity_at, created_at, updated_at
		FROM shops
		WHERE shop_id = $1`, shopID).Scan(
		&account.ShopID, &account.PurchasedBalance, &account.TotalTokensIssued, &account.Version,
		&lastActivity, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shop account %s: %w", shopID, err)
	}
	if lastActivity.Valid {
		t := lastActivity.Time
		account.LastActivityAt = &t
	}
	return &account, nil
}

func (s *ShopBalanceService) ListBalanceEntries(ctx context.Context, shopID string, limit int) ([]models.BalanceEntry, error) {
	if err := validateShopID(shopID); err != nil {
		return nil, err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM shops WHERE shop_id = $1)`, shopID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check shop %s: %w", shopID, err)
	}
	if !exists {
		return nil, ErrShopNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, entry_type, amount, tokens_issued, balance_before, balance_after, reference, created_at
		FROM shop_balance_entries
		WHERE shop_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, shopID, clampLimit(limit, s.historyDef, s.historyMax))
	if err != nil {
		return nil, fmt.Errorf("list balance entries %s: %w", shopID, err)
	}
	defer rows.Close()

	entries := []models.BalanceEntry{}
	for rows.Next() {
		var e models.BalanceEntry
		if err := rows.Scan(&e.ID, &e.ShopID, &e.EntryType, &e.Amount, &e.TokensIssued,
			&e.BalanceBefore, &e.BalanceAfter, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan balance entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list balance entries %s: %w", shopID, err)
	}
	return entries, nil
}

// withShopLock runs fn inside a transaction holding the shop row lock. Only the lock wait
// honours ctx cancellation; once the lock is held the transaction runs to commit or rollback
// on a detached context so a caller going away cannot leave a half-applied mutation.
func (s *ShopBalanceService) withShopLock(ctx context.Context, shopID string, fn func(txCtx context.Context, tx *sql.Tx, acc *lockedAccount) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerBusy, err)
	}

	txCtx := context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(txCtx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeoutMillis(s.lockTimeout))); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	started := time.Now()
	acc, err := s.lockAccount(ctx, tx, shopID)
	s.observer.metrics.ObserveLockWait(config.BackendPostgres, started)
	if err != nil {
		return err
	}

	if err := fn(txCtx, tx, acc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit shop %s balance: %w", shopID, err)
	}
	return nil
}

func (s *ShopBalanceService) lockAccount(ctx context.Context, tx *sql.Tx, shopID string) (*lockedAccount, error) {
	var acc lockedAccount
	err := tx.QueryRowContext(ctx, `
		SELECT purchased_balance, total_tokens_issued, version
		FROM shops
		WHERE shop_id = $1
		FOR UPDATE`, shopID).Scan(&acc.balance, &acc.issued, &acc.version)
	switch {
	case err == nil:
		return &acc, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrShopNotFound
	case isLockWaitError(err):
		return nil, fmt.Errorf("%w: shop %s: %v", ErrLedgerBusy, shopID, err)
	default:
		return nil, fmt.Errorf("lock shop %s: %w", shopID, err)
	}
}

// updateAccountBalance writes the new balance. The version guard can only trip if something
// bypassed the row lock, in which case the whole transaction is rolled back.
func (s *ShopBalanceService) updateAccountBalance(ctx context.Context, tx *sql.Tx, shopID string, newBalance, tokensIssued decimal.Decimal, version int64, now time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE shops
		SET purchased_balance = $1, total_tokens_issued = total_tokens_issued + $2, version = version + 1, last_activity_at = $3, updated_at = $3
		WHERE shop_id = $4 AND version = $5`,
		newBalance, tokensIssued, now, shopID, version)
	if err != nil {
		return fmt.Errorf("update shop %s balance: %w", shopID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update shop %s balance: %w", shopID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("version check failed for shop %s", shopID)
	}
	return nil
}

func (s *ShopBalanceService) createBalanceEntry(ctx context.Context, tx *sql.Tx, e models.BalanceEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO shop_balance_entries (id, shop_id, entry_type, amount, tokens_issued, balance_before, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ShopID, string(e.EntryType), e.Amount, e.TokensIssued, e.BalanceBefore, e.BalanceAfter, e.Reference, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record balance entry for shop %s: %w", e.ShopID, err)
	}
	return nil
}

// lockTimeoutMillis rounds d up to whole milliseconds, never below one. lock_timeout = 0 means
// wait forever.
func lockTimeoutMillis(d time.Duration) int64 {
	ms := int64(d / time.Millisecond)
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms < 1 {
		return 1
	}
	return ms
}

func isLockWaitError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqLockNotAvailable || pqErr.Code == pqQueryCanceled
	}
	return false
}

var _ BalanceLedger = (*ShopBalanceService)(nil)
