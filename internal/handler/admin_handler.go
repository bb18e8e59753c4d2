package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/dto"
	"github.com/eidos-exchange/eidos-bridge/internal/middleware"
	"github.com/eidos-exchange/eidos-bridge/internal/service"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// MintRetrier 铸币运维重试
type MintRetrier interface {
	Retry(ctx context.Context, correlationID string) (*service.MintRetryResult, error)
}

// AdminHandler 运维接口
type AdminHandler struct {
	mints MintRetrier
}

// NewAdminHandler 创建运维处理器
func NewAdminHandler(mints MintRetrier) *AdminHandler {
	return &AdminHandler{mints: mints}
}

// RetryMint 重试失败的铸币
// POST /admin/mints/:correlationId/retry
func (h *AdminHandler) RetryMint(c *gin.Context) {
	correlationID := c.Param("correlationId")
	if correlationID == "" {
		BadRequest(c, "correlationId is required")
		return
	}

	logger.Info("operator mint retry requested",
		zap.String("correlation_id", correlationID),
		zap.String("ip", c.ClientIP()),
		zap.String(middleware.TraceIDKey, middleware.GetTraceID(c)))

	res, err := h.mints.Retry(c.Request.Context(), correlationID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	resp := &dto.MintRetryResponse{
		CorrelationID: correlationID,
		TxHash:        res.TxHash,
		Reconciled:    res.Reconciled,
	}
	if res.Mint != nil {
		resp.Status = res.Mint.Status.String()
	}
	Success(c, resp)
}
