package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/dto"
	"github.com/eidos-exchange/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos-bridge/internal/service"
	"github.com/eidos-exchange/eidos-bridge/internal/webhook"
	bizerr "github.com/eidos-exchange/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

const defaultMaxWebhookBody = 64 << 10

// WebhookService 回调事件处理
type WebhookService interface {
	Handle(ctx context.Context, ev webhook.Event) (*service.WebhookOutcome, error)
}

// SignatureVerifier 回调签名校验
type SignatureVerifier interface {
	Verify(signature string, payload []byte) bool
}

// WebhookHandler 支付处理方回调
type WebhookHandler struct {
	verifier SignatureVerifier
	svc      WebhookService
	maxBody  int64
}

// NewWebhookHandler 创建回调处理器
func NewWebhookHandler(verifier SignatureVerifier, svc WebhookService, maxBody int64) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxWebhookBody
	}
	return &WebhookHandler{verifier: verifier, svc: svc, maxBody: maxBody}
}

// Receive 接收回调
// POST /webhook
//
// 顺序固定：读原始请求体 -> 验签 -> 解析 -> 账本。验签失败不触碰账本
func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.WithContext(ctx)

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		// 无法取得完整请求体就无法验签
		log.Warn("webhook body unreadable", zap.Error(err))
		metrics.RecordWebhook("unauthorized")
		Error(c, dto.ErrInvalidSignature)
		return
	}

	if !h.verifier.Verify(c.GetHeader(webhook.SignatureHeader), raw) {
		log.Warn("webhook signature rejected",
			zap.String("ip", c.ClientIP()),
			zap.Int("body_bytes", len(raw)))
		metrics.RecordWebhook("unauthorized")
		Error(c, dto.ErrInvalidSignature)
		return
	}

	ev, err := webhook.Parse(raw)
	if err != nil {
		log.Warn("webhook payload malformed", zap.Error(err))
		metrics.RecordWebhook("malformed")
		BadRequest(c, err.Error())
		return
	}

	ctx = logger.NewContext(ctx, zap.String("correlation_id", ev.CorrelationID()))
	log = logger.WithContext(ctx)

	outcome, err := h.svc.Handle(ctx, ev)
	if err != nil {
		if bizerr.Is(err, bizerr.ErrPaymentNotFound) {
			log.Warn("webhook for unknown correlation id, processor and bridge out of sync")
			metrics.RecordWebhook("not_found")
			Error(c, dto.ErrPaymentNotFound)
			return
		}
		metrics.RecordWebhook("error")
		log.Error("webhook processing failed", zap.Error(err))
		InternalError(c)
		return
	}

	metrics.RecordWebhook(outcome.Result)
	resp := &dto.WebhookResponse{Result: outcome.Result}
	if outcome.Record != nil {
		resp.CorrelationID = outcome.Record.CorrelationID
		resp.Status = outcome.Record.Status.String()
	}
	Success(c, resp)
}
