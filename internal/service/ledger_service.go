// Package service 提供 eidos-bridge 的业务逻辑
//
// 结算链路:
//
//	支付处理方回调 -> WebhookService -> LedgerService (按 correlation id 加锁 + CAS)
//	               -> MintService (锁释放后异步铸币) -> 稳定币合约
//
// 账本状态只能向前 (PENDING -> COMPLETED | FAILED)，重复或迟到的回调
// 被吸收为无操作。铸币失败不回滚账本，只记录在铸币表并通知运维。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/kafka"
	"github.com/eidos-exchange/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	bizerr "github.com/eidos-exchange/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

const paymentLockPrefix = "payment:"

// TransitionResult 状态迁移结果，Changed 为 false 表示无操作
type TransitionResult struct {
	Record  *model.PaymentRecord
	Changed bool
}

// LedgerService 支付账本
type LedgerService struct {
	repo      repository.PaymentRepository
	locker    lock.Locker
	publisher kafka.EventPublisher
}

// NewLedgerService 创建账本服务
func NewLedgerService(repo repository.PaymentRepository, locker lock.Locker, publisher kafka.EventPublisher) *LedgerService {
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	return &LedgerService{repo: repo, locker: locker, publisher: publisher}
}

// Create 创建 PENDING 记录，correlationID 为空时自动生成
func (s *LedgerService) Create(ctx context.Context, correlationID string, amount decimal.Decimal, destinationWallet string) (*model.PaymentRecord, error) {
	if !amount.IsPositive() {
		return nil, bizerr.ErrValidation.WithMessage("amount must be positive")
	}
	if !common.IsHexAddress(destinationWallet) {
		return nil, bizerr.ErrValidation.WithMessage("destinationWallet must be a hex address")
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	rec := &model.PaymentRecord{
		PixID:             uuid.New().String(),
		CorrelationID:     correlationID,
		Amount:            amount,
		DestinationWallet: common.HexToAddress(destinationWallet).Hex(),
		Status:            model.PaymentStatusPending,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicatePayment) {
			return nil, bizerr.Wrapf(bizerr.ErrConflict, err, "correlation id %s already exists", correlationID)
		}
		return nil, fmt.Errorf("create payment record: %w", err)
	}

	logger.Info("payment record created",
		zap.String("pix_id", rec.PixID),
		zap.String("correlation_id", rec.CorrelationID),
		zap.String("amount", rec.Amount.String()),
		zap.String("destination_wallet", rec.DestinationWallet))
	return rec, nil
}

// FindByCorrelationID 按关联 ID 查询
func (s *LedgerService) FindByCorrelationID(ctx context.Context, correlationID string) (*model.PaymentRecord, error) {
	rec, err := s.repo.GetByCorrelationID(ctx, correlationID)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, bizerr.Wrap(bizerr.ErrPaymentNotFound, err)
	}
	return rec, err
}

// FindByPixID 按 pixId 查询
func (s *LedgerService) FindByPixID(ctx context.Context, pixID string) (*model.PaymentRecord, error) {
	rec, err := s.repo.GetByPixID(ctx, pixID)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, bizerr.Wrap(bizerr.ErrPaymentNotFound, err)
	}
	return rec, err
}

// Transition 在记录锁内读取、判定并条件写入
// 非法迁移 (含重复投递) 记 warn 并返回 Changed=false，不视为错误
func (s *LedgerService) Transition(ctx context.Context, correlationID string, target model.PaymentStatus, reason string) (*TransitionResult, error) {
	var result *TransitionResult

	err := s.locker.WithLock(ctx, paymentLockPrefix+correlationID, func(ctx context.Context) error {
		rec, err := s.FindByCorrelationID(ctx, correlationID)
		if err != nil {
			return err
		}

		if !rec.Status.CanTransitionTo(target) {
			logger.Warn("illegal payment transition ignored",
				zap.String("correlation_id", correlationID),
				zap.String("from", rec.Status.String()),
				zap.String("to", target.String()))
			result = &TransitionResult{Record: rec, Changed: false}
			return nil
		}

		err = s.repo.CompareAndSetStatus(ctx, correlationID, rec.Status, target, reason)
		if errors.Is(err, repository.ErrOptimisticLock) {
			// 锁过期期间被其他实例抢先
			latest, getErr := s.FindByCorrelationID(ctx, correlationID)
			if getErr != nil {
				return getErr
			}
			logger.Warn("payment transition lost compare-and-set",
				zap.String("correlation_id", correlationID),
				zap.String("current", latest.Status.String()),
				zap.String("to", target.String()))
			result = &TransitionResult{Record: latest, Changed: false}
			return nil
		}
		if err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}

		now := time.Now().UnixMilli()
		rec.Status = target
		rec.UpdatedAt = now
		switch target {
		case model.PaymentStatusCompleted:
			rec.CompletedAt = now
		case model.PaymentStatusFailed:
			rec.FailedAt = now
			rec.FailureReason = reason
		}
		result = &TransitionResult{Record: rec, Changed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition(target.String(), result.Changed)
	if result.Changed {
		logger.Info("payment transitioned",
			zap.String("correlation_id", correlationID),
			zap.String("status", target.String()),
			zap.String("reason", reason))
		s.publish(ctx, result.Record)
	}
	return result, nil
}

// CountByStatus 各状态记录数
func (s *LedgerService) CountByStatus(ctx context.Context) (map[model.PaymentStatus]int64, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *LedgerService) publish(ctx context.Context, rec *model.PaymentRecord) {
	event := &model.PaymentEvent{
		PixID:             rec.PixID,
		CorrelationID:     rec.CorrelationID,
		Amount:            rec.Amount.String(),
		DestinationWallet: rec.DestinationWallet,
		Status:            rec.Status.String(),
		Reason:            rec.FailureReason,
		Timestamp:         rec.UpdatedAt,
	}
	if err := s.publisher.PublishPayment(ctx, event); err != nil {
		logger.Warn("publish payment event failed",
			zap.String("correlation_id", rec.CorrelationID),
			zap.Error(err))
	}
}
