package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/internal/processor"
	"github.com/eidos-exchange/eidos-bridge/internal/repository"
	bizerr "github.com/eidos-exchange/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// ChargeCreator 支付处理方
type ChargeCreator interface {
	CreateCharge(ctx context.Context, req *processor.ChargeRequest) (*processor.Charge, error)
}

// ChargeService 创建 PIX 收款单
type ChargeService struct {
	ledger     *LedgerService
	payments   repository.PaymentRepository
	processor  ChargeCreator
	expiresIn  time.Duration
	commentFmt string
}

// ChargeServiceConfig 配置
type ChargeServiceConfig struct {
	ExpiresIn  time.Duration
	CommentFmt string // 含一个 %s，填入 correlation id
}

// NewChargeService 创建收款服务
func NewChargeService(ledger *LedgerService, payments repository.PaymentRepository, p ChargeCreator, cfg *ChargeServiceConfig) *ChargeService {
	expiresIn := cfg.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	commentFmt := cfg.CommentFmt
	if commentFmt == "" {
		commentFmt = "donation %s"
	}
	return &ChargeService{
		ledger:     ledger,
		payments:   payments,
		processor:  p,
		expiresIn:  expiresIn,
		commentFmt: commentFmt,
	}
}

var hundred = decimal.NewFromInt(100)

// CreateCharge 先落 PENDING 记录再向处理方下单
// 处理方拒绝时记录转为 FAILED
func (s *ChargeService) CreateCharge(ctx context.Context, amount decimal.Decimal, destinationWallet string) (*model.PaymentRecord, error) {
	cents := amount.Mul(hundred)
	if !cents.IsInteger() {
		return nil, bizerr.ErrValidation.WithMessage("amount supports at most 2 decimal places")
	}

	rec, err := s.ledger.Create(ctx, uuid.New().String(), amount, destinationWallet)
	if err != nil {
		return nil, err
	}

	charge, err := s.processor.CreateCharge(ctx, &processor.ChargeRequest{
		CorrelationID: rec.CorrelationID,
		Value:         cents.IntPart(),
		Comment:       fmt.Sprintf(s.commentFmt, rec.CorrelationID),
		ExpiresIn:     int(s.expiresIn.Seconds()),
	})
	if err != nil {
		metrics.ChargesTotal.WithLabelValues("processor_failed").Inc()
		logger.Error("processor charge failed",
			zap.String("correlation_id", rec.CorrelationID),
			zap.Error(err))
		if _, tErr := s.ledger.Transition(context.WithoutCancel(ctx), rec.CorrelationID, model.PaymentStatusFailed, "processor: "+err.Error()); tErr != nil {
			logger.Error("mark charge failed", zap.String("correlation_id", rec.CorrelationID), zap.Error(tErr))
		}
		if errors.Is(err, processor.ErrRejected) {
			return nil, bizerr.Wrap(bizerr.ErrProcessor.WithMessage("processor rejected charge"), err)
		}
		return nil, bizerr.Wrap(bizerr.ErrProcessor, err)
	}

	fields := &model.ChargeFields{
		ProcessorChargeID: charge.Identifier,
		BRCode:            charge.BRCode,
		QRCodeImage:       charge.QRCodeImage,
		PaymentLinkURL:    charge.PaymentLinkURL,
	}
	if !charge.ExpiresDate.IsZero() {
		fields.ExpiresAt = charge.ExpiresDate.UnixMilli()
	} else {
		fields.ExpiresAt = time.Now().Add(s.expiresIn).UnixMilli()
	}
	if err := s.payments.UpdateCharge(ctx, rec.CorrelationID, fields); err != nil {
		return nil, fmt.Errorf("save charge fields: %w", err)
	}

	rec.ProcessorChargeID = fields.ProcessorChargeID
	rec.BRCode = fields.BRCode
	rec.QRCodeImage = fields.QRCodeImage
	rec.PaymentLinkURL = fields.PaymentLinkURL
	rec.ExpiresAt = fields.ExpiresAt

	metrics.ChargesTotal.WithLabelValues("created").Inc()
	return rec, nil
}

// GetStatus 按 pixId 查询收款状态
func (s *ChargeService) GetStatus(ctx context.Context, pixID string) (*model.PaymentRecord, error) {
	return s.ledger.FindByPixID(ctx, pixID)
}
