package services

import (
	"context"
	"errors"
	"strings"

	"github.com/repaircoin/backend/internal/audit"
	"github.com/repaircoin/backend/internal/config"
	"github.com/repaircoin/backend/internal/metrics"
	"github.com/repaircoin/backend/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	opDeduct   = "deduct"
	opPurchase = "purchase"
)

// BalanceLedger is the only sanctioned writer of a shop's purchased balance and issued-token
// counter. Every mutation for a given shop is serialized; different shops never wait on each other.
type BalanceLedger interface {
	CreateShopAccount(ctx context.Context, shopID string) (*models.ShopAccount, error)
	// DeductBalance subtracts amount from the purchased balance if, and only if, the balance
	// observed under the shop's exclusive lock covers it.
	DeductBalance(ctx context.Context, shopID string, amount decimal.Decimal, opts ...DeductOption) (*models.BalanceChange, error)
	AddPurchasedBalance(ctx context.Context, shopID string, amount decimal.Decimal, reference string) (*models.BalanceChange, error)
	GetShopAccount(ctx context.Context, shopID string) (*models.ShopAccount, error)
	ListBalanceEntries(ctx context.Context, shopID string, limit int) ([]models.BalanceEntry, error)
}

// TreasuryReader serves aggregate, lock-free reads across all shops.
type TreasuryReader interface {
	GetTreasuryStats(ctx context.Context) (*models.TreasuryStats, error)
}

type DeductOption func(*deductOptions)

type deductOptions struct {
	tokensIssued    decimal.Decimal
	tokensIssuedSet bool
	reference       string
}

// WithTokensIssued sets how much the shop's issued-token counter grows. Without it the
// counter grows by the deducted amount.
func WithTokensIssued(tokens decimal.Decimal) DeductOption {
	return func(o *deductOptions) {
		o.tokensIssued = tokens
		o.tokensIssuedSet = true
	}
}

// WithReference records a caller reference (usually the reward id) on the history entry.
func WithReference(reference string) DeductOption {
	return func(o *deductOptions) {
		o.reference = reference
	}
}

func newDeductOptions(amount decimal.Decimal, opts []DeductOption) deductOptions {
	var o deductOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.tokensIssuedSet {
		o.tokensIssued = amount
	}
	return o
}

func validateShopID(shopID string) error {
	if strings.TrimSpace(shopID) == "" {
		return invalidAmountf("shop id is required")
	}
	return nil
}

// maxAmountScale matches the NUMERIC(38,18) balance columns.
const maxAmountScale = 18

func validatePositive(name string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalidAmountf("%s must be positive, got %s", name, amount.String())
	}
	return validateScale(name, amount)
}

// validateScale rejects amounts the balance columns would silently round.
func validateScale(name string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(maxAmountScale)) {
		return invalidAmountf("%s has more than %d decimal places, got %s", name, maxAmountScale, amount.String())
	}
	return nil
}

func validateDeduction(shopID string, amount decimal.Decimal, o deductOptions) error {
	if err := validateShopID(shopID); err != nil {
		return err
	}
	if err := validatePositive("amount", amount); err != nil {
		return err
	}
	if o.tokensIssued.IsNegative() {
		return invalidAmountf("tokens issued must not be negative, got %s", o.tokensIssued.String())
	}
	return validateScale("tokens issued", o.tokensIssued)
}

func clampLimit(limit, defaultLimit, maxLimit int) int {
	if maxLimit <= 0 {
		maxLimit = config.MaxHistoryLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(config.DefaultHistoryLimit, maxLimit)
	}
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, ErrInsufficientBalance):
		return metrics.ResultInsufficient
	case errors.Is(err, ErrShopNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, ErrInvalidAmount):
		return metrics.ResultInvalid
	case errors.Is(err, ErrLedgerBusy):
		return metrics.ResultBusy
	default:
		return metrics.ResultError
	}
}

// ledgerObserver fans a finished mutation out to metrics, the audit trail and the service log.
// Both ledger backends share it.
type ledgerObserver struct {
	audit   audit.Logger
	metrics *metrics.LedgerMetrics
	logger  *zap.Logger
}

func newLedgerObserver(auditLogger audit.Logger, m *metrics.LedgerMetrics, logger *zap.Logger) ledgerObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewAuditLogger(logger)
	}
	return ledgerObserver{audit: auditLogger, metrics: m, logger: logger}
}

func (o ledgerObserver) deducted(shopID, reference string, amount decimal.Decimal, change *models.BalanceChange) {
	o.metrics.ObserveOperation(opDeduct, metrics.ResultSuccess)
	o.audit.LogDeduction(shopID, reference, amount, change.TokensIssued, change.PreviousBalance, change.NewBalance)
}

func (o ledgerObserver) purchased(shopID, reference string, amount decimal.Decimal, change *models.BalanceChange) {
	o.metrics.ObserveOperation(opPurchase, metrics.ResultSuccess)
	o.audit.LogPurchase(shopID, reference, amount, change.PreviousBalance, change.NewBalance)
}

func (o ledgerObserver) failed(operation, shopID, reference string, amount decimal.Decimal, err error) {
	result := resultFor(err)
	o.metrics.ObserveOperation(operation, result)
	o.audit.LogError(shopID, reference, operation, err)

	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("shop_id", shopID),
		zap.Stringer("amount", amount),
		zap.String("result", result),
		zap.Error(err),
	}
	if result == metrics.ResultError {
		o.logger.Error("shop balance operation failed", fields...)
		return
	}
	o.logger.Warn("shop balance operation rejected", fields...)
}
