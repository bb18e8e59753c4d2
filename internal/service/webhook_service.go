package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/internal/webhook"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// 回调处理结果
const (
	ResultProcessed        = "processed"
	ResultAlreadyProcessed = "already_processed"
	ResultIgnored          = "ignored"
)

// WebhookOutcome 回调处理结果
type WebhookOutcome struct {
	Result string
	Record *model.PaymentRecord
}

// WebhookService 将已验签的回调事件落到账本，首次 COMPLETED 时派发铸币
type WebhookService struct {
	ledger *LedgerService
	minter MintDispatcher
}

// NewWebhookService 创建回调服务
func NewWebhookService(ledger *LedgerService, minter MintDispatcher) *WebhookService {
	return &WebhookService{ledger: ledger, minter: minter}
}

// Handle 处理一个回调事件，记录不存在时返回 ErrPaymentNotFound
func (s *WebhookService) Handle(ctx context.Context, ev webhook.Event) (*WebhookOutcome, error) {
	switch e := ev.(type) {
	case *webhook.CompletedEvent:
		return s.handleCompleted(ctx, e)
	case *webhook.ExpiredEvent:
		return s.transition(ctx, e.Correlation, model.PaymentStatusFailed, e.Status)
	case *webhook.UnknownEvent:
		rec, err := s.ledger.FindByCorrelationID(ctx, e.Correlation)
		if err != nil {
			return nil, err
		}
		logger.WithContext(ctx).Info("webhook status ignored",
			zap.String("status", e.Status),
			zap.String("record_status", rec.Status.String()))
		return &WebhookOutcome{Result: ResultIgnored, Record: rec}, nil
	}
	return nil, fmt.Errorf("unsupported webhook event %T", ev)
}

func (s *WebhookService) handleCompleted(ctx context.Context, e *webhook.CompletedEvent) (*WebhookOutcome, error) {
	outcome, err := s.transition(ctx, e.Correlation, model.PaymentStatusCompleted, "")
	if err != nil {
		return nil, err
	}
	if outcome.Result != ResultProcessed {
		return outcome, nil
	}

	rec := outcome.Record
	if !e.Amount.Equal(rec.Amount) {
		logger.WithContext(ctx).Warn("webhook amount differs from charge, minting charge amount",
			zap.String("charge_amount", rec.Amount.String()),
			zap.String("webhook_amount", e.Amount.String()))
	}
	if e.DestinationWallet != "" && !strings.EqualFold(e.DestinationWallet, rec.DestinationWallet) {
		logger.WithContext(ctx).Warn("webhook wallet differs from charge, minting to charge wallet",
			zap.String("charge_wallet", rec.DestinationWallet),
			zap.String("webhook_wallet", e.DestinationWallet))
	}

	// 锁已释放，账本已是 COMPLETED
	s.minter.Dispatch(rec)
	return outcome, nil
}

func (s *WebhookService) transition(ctx context.Context, correlationID string, target model.PaymentStatus, reason string) (*WebhookOutcome, error) {
	res, err := s.ledger.Transition(ctx, correlationID, target, reason)
	if err != nil {
		return nil, err
	}
	if res.Changed {
		return &WebhookOutcome{Result: ResultProcessed, Record: res.Record}, nil
	}
	return &WebhookOutcome{Result: ResultAlreadyProcessed, Record: res.Record}, nil
}
