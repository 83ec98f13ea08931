package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/repaircoin/backend/internal/audit"
	"github.com/repaircoin/backend/internal/config"
	"github.com/repaircoin/backend/internal/metrics"
	"github.com/repaircoin/backend/internal/models"
	"go.uber.org/zap"
)

const opMintEnqueue = "mint_enqueue"

// RewardService issues customer rewards out of a shop's purchased balance. The balance is only
// ever touched through BalanceLedger.DeductBalance.
type RewardService struct {
	ledger      BalanceLedger
	idempotency IdempotencyStore
	queue       MintQueue
	cfg         *config.RewardConfig
	validator   *ValidationHelper
	audit       audit.Logger
	metrics     *metrics.LedgerMetrics
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

func NewRewardService(
	ledger BalanceLedger,
	idempotency IdempotencyStore,
	queue MintQueue,
	cfg *config.RewardConfig,
	auditLogger audit.Logger,
	m *metrics.LedgerMetrics,
	logger *zap.Logger,
) *RewardService {
	if cfg == nil {
		cfg = config.LoadRewardConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewAuditLogger(logger)
	}
	if idempotency == nil {
		idempotency = NewMemoryIdempotencyStore()
	}
	if queue == nil {
		queue = NewMemoryMintQueue()
	}
	return &RewardService{
		ledger:      ledger,
		idempotency: idempotency,
		queue:       queue,
		cfg:         cfg,
		validator:   NewValidationHelper(),
		audit:       auditLogger,
		metrics:     m,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// IssueReward reserves the idempotency key, deducts BaseReward from the shop and then queues
// the mint of BaseReward plus the tier bonus. A failed deduction releases the key and queues
// nothing. A failed enqueue after a successful deduction is reported through MintQueued.
func (s *RewardService) IssueReward(ctx context.Context, req models.RewardRequest) (*models.RewardResult, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReward, err)
	}
	if err := validatePositive("base reward", req.BaseReward); err != nil {
		return nil, err
	}
	bonus, ok := s.cfg.TierBonuses[string(req.CustomerTier)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown customer tier %q", ErrInvalidReward, req.CustomerTier)
	}
	tokensIssued := req.BaseReward.Add(bonus)

	rewardID := s.newID()
	reserved, err := s.idempotency.Reserve(ctx, req.IdempotencyKey, rewardID, s.cfg.IdempotencyTTL)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDuplicateReward
	}

	change, err := s.ledger.DeductBalance(ctx, req.ShopID, req.BaseReward,
		WithTokensIssued(tokensIssued), WithReference(rewardID))
	if err != nil {
		if relErr := s.idempotency.Release(context.WithoutCancel(ctx), req.IdempotencyKey); relErr != nil {
			s.logger.Error("failed to release idempotency key",
				zap.String("shop_id", req.ShopID),
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(relErr))
		}
		return nil, err
	}

	now := s.now()
	result := &models.RewardResult{
		RewardID:        rewardID,
		ShopID:          req.ShopID,
		CustomerAddress: req.CustomerAddress,
		BaseReward:      req.BaseReward,
		TierBonus:       bonus,
		TokensIssued:    tokensIssued,
		PreviousBalance: change.PreviousBalance,
		NewBalance:      change.NewBalance,
		CreatedAt:       now,
	}

	job := models.MintJob{
		RewardID:        rewardID,
		ShopID:          req.ShopID,
		CustomerAddress: req.CustomerAddress,
		Amount:          tokensIssued,
		CreatedAt:       now,
	}
	// the deduction is committed, so the enqueue must not be abandoned with the request
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("mint job not queued",
			zap.String("reward_id", rewardID),
			zap.String("shop_id", req.ShopID),
			zap.Stringer("amount", tokensIssued),
			zap.Error(err))
		s.audit.LogError(req.ShopID, rewardID, opMintEnqueue, err)
	} else {
		result.MintQueued = true
	}

	s.metrics.ObserveReward(string(req.CustomerTier))
	s.logger.Info("reward issued",
		zap.String("reward_id", rewardID),
		zap.String("shop_id", req.ShopID),
		zap.String("tier", string(req.CustomerTier)),
		zap.Stringer("tokens_issued", tokensIssued),
		zap.Bool("mint_queued", result.MintQueued))
	return result, nil
}
