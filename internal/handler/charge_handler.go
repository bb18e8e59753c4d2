package handler

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/dto"
	"github.com/eidos-exchange/eidos-bridge/internal/model"
	bizerr "github.com/eidos-exchange/eidos-bridge/pkg/errors"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// ChargeService 收款单服务
type ChargeService interface {
	CreateCharge(ctx context.Context, amount decimal.Decimal, destinationWallet string) (*model.PaymentRecord, error)
	GetStatus(ctx context.Context, pixID string) (*model.PaymentRecord, error)
}

// MintLookup 铸币记录查询
type MintLookup interface {
	GetMint(ctx context.Context, correlationID string) (*model.MintTx, error)
}

// ChargeHandler 收款单处理器
type ChargeHandler struct {
	svc   ChargeService
	mints MintLookup
}

// NewChargeHandler 创建收款单处理器，mints 可为 nil
func NewChargeHandler(svc ChargeService, mints MintLookup) *ChargeHandler {
	return &ChargeHandler{svc: svc, mints: mints}
}

// CreateCharge 创建 PIX 收款单
// POST /charges
func (h *ChargeHandler) CreateCharge(c *gin.Context) {
	var req dto.CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		BadRequest(c, "amount must be a decimal string")
		return
	}
	if !amount.IsPositive() {
		BadRequest(c, "amount must be positive")
		return
	}
	if !common.IsHexAddress(req.DestinationWallet) {
		Error(c, dto.ErrInvalidWalletAddr)
		return
	}

	rec, err := h.svc.CreateCharge(c.Request.Context(), amount, req.DestinationWallet)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	Success(c, &dto.ChargeResponse{
		PixID:          rec.PixID,
		CorrelationID:  rec.CorrelationID,
		Amount:         rec.Amount,
		BRCode:         rec.BRCode,
		QRCodeImage:    rec.QRCodeImage,
		PaymentLinkURL: rec.PaymentLinkURL,
		ExpiresAt:      rec.ExpiresAt,
	})
}

// GetStatus 查询收款状态
// GET /status/:pixId
func (h *ChargeHandler) GetStatus(c *gin.Context) {
	pixID := c.Param("pixId")
	if pixID == "" {
		BadRequest(c, "pixId is required")
		return
	}

	rec, err := h.svc.GetStatus(c.Request.Context(), pixID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	resp := &dto.PaymentStatusResponse{
		PixID:             rec.PixID,
		CorrelationID:     rec.CorrelationID,
		Status:            rec.Status.String(),
		Amount:            rec.Amount,
		DestinationWallet: rec.DestinationWallet,
		FailureReason:     rec.FailureReason,
		ProcessorChargeID: rec.ProcessorChargeID,
		BRCode:            rec.BRCode,
		PaymentLinkURL:    rec.PaymentLinkURL,
		ExpiresAt:         rec.ExpiresAt,
		CompletedAt:       rec.CompletedAt,
		FailedAt:          rec.FailedAt,
	}

	if h.mints != nil && rec.Status == model.PaymentStatusCompleted {
		mint, err := h.mints.GetMint(c.Request.Context(), rec.CorrelationID)
		switch {
		case err == nil:
			resp.Mint = mintResponse(mint)
		case errors.Is(err, bizerr.ErrMintNotFound):
		default:
			logger.Warn("load mint for status failed", zap.String("correlation_id", rec.CorrelationID), zap.Error(err))
		}
	}

	Success(c, resp)
}

func mintResponse(m *model.MintTx) *dto.MintResponse {
	return &dto.MintResponse{
		Status:      m.Status.String(),
		TxHash:      m.TxHash,
		BlockNumber: m.BlockNumber,
		Attempts:    m.Attempts,
		Error:       m.ErrorMessage,
	}
}
