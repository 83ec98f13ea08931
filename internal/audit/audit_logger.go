package audit

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventDeduction = "DEDUCTION"
	EventPurchase  = "PURCHASE"
	EventError     = "ERROR"
)

type AuditEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     string            `json:"event_type"`
	ShopID        string            `json:"shop_id"`
	Reference     string            `json:"reference,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	Status        string            `json:"status"`
	Details       map[string]string `json:"details,omitempty"`
}

// Logger is what the ledger and reward services depend on.
type Logger interface {
	LogDeduction(shopID, reference string, amount, tokensIssued, before, after decimal.Decimal)
	LogPurchase(shopID, reference string, amount, before, after decimal.Decimal)
	LogError(shopID, reference, operation string, err error)
}

type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) LogDeduction(shopID, reference string, amount, tokensIssued, before, after decimal.Decimal) {
	a.log(AuditEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     EventDeduction,
		ShopID:        shopID,
		Reference:     reference,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        "SUCCESS",
		Details:       map[string]string{"tokens_issued": tokensIssued.String()},
	})
}

func (a *AuditLogger) LogPurchase(shopID, reference string, amount, before, after decimal.Decimal) {
	a.log(AuditEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     EventPurchase,
		ShopID:        shopID,
		Reference:     reference,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        "SUCCESS",
	})
}

func (a *AuditLogger) LogError(shopID, reference, operation string, err error) {
	a.log(AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventError,
		ShopID:    shopID,
		Reference: reference,
		Status:    "FAILED",
		Details: map[string]string{
			"operation": operation,
			"error":     err.Error(),
		},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	fields := []zap.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.String("shop_id", event.ShopID),
		zap.String("status", event.Status),
	}
	if event.Reference != "" {
		fields = append(fields, zap.String("reference", event.Reference))
	}
	if event.EventType != EventError {
		fields = append(fields,
			zap.Stringer("amount", event.Amount),
			zap.Stringer("balance_before", event.BalanceBefore),
			zap.Stringer("balance_after", event.BalanceAfter),
		)
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String(k, v))
	}
	a.logger.Info("AUDIT", fields...)
}

var _ Logger = (*AuditLogger)(nil)
