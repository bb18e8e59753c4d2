package dto

import (
	"github.com/shopspring/decimal"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// PagedData 分页数据
type PagedData struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 从 BizError 创建错误响应
func NewErrorResponse(err *BizError) *Response {
	return &Response{
		Code:    err.Code,
		Message: err.Message,
	}
}

// NewPagedResponse 创建分页响应
func NewPagedResponse(items interface{}, total int64, page, pageSize int) *Response {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int(total) / pageSize
		if int(total)%pageSize > 0 {
			totalPages++
		}
	}

	return &Response{
		Code:    0,
		Message: "success",
		Data: &PagedData{
			Items: items,
			Pagination: &Pagination{
				Total:      total,
				Page:       page,
				PageSize:   pageSize,
				TotalPages: totalPages,
			},
		},
	}
}

// WebhookResponse 回调应答，处理方只看 HTTP 状态与 result
type WebhookResponse struct {
	Result        string `json:"result"`
	CorrelationID string `json:"correlationId,omitempty"`
	Status        string `json:"status,omitempty"`
}

// ChargeResponse 收款单
type ChargeResponse struct {
	PixID          string          `json:"pixId"`
	CorrelationID  string          `json:"correlationId"`
	Amount         decimal.Decimal `json:"amount"`
	BRCode         string          `json:"brCode"`
	QRCodeImage    string          `json:"qrCodeImage,omitempty"`
	PaymentLinkURL string          `json:"paymentLinkUrl,omitempty"`
	ExpiresAt      int64           `json:"expiresAt"`
}

// PaymentStatusResponse 收款状态
type PaymentStatusResponse struct {
	PixID             string          `json:"pixId"`
	CorrelationID     string          `json:"correlationId"`
	Status            string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	DestinationWallet string          `json:"destinationWallet"`
	FailureReason     string          `json:"failureReason,omitempty"`
	ProcessorChargeID string          `json:"processorChargeId,omitempty"`
	BRCode            string          `json:"brCode,omitempty"`
	PaymentLinkURL    string          `json:"paymentLinkUrl,omitempty"`
	ExpiresAt         int64           `json:"expiresAt,omitempty"`
	CompletedAt       int64           `json:"completedAt,omitempty"`
	FailedAt          int64           `json:"failedAt,omitempty"`
	Mint              *MintResponse   `json:"mint,omitempty"`
}

// MintResponse 铸币状态
type MintResponse struct {
	Status      string `json:"status"`
	TxHash      string `json:"txHash,omitempty"`
	BlockNumber int64  `json:"blockNumber,omitempty"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

// MintRetryResponse 运维重试结果
type MintRetryResponse struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
	TxHash        string `json:"txHash"`
	Reconciled    bool   `json:"reconciled"`
}

// CampaignResponse 活动镜像
type CampaignResponse struct {
	CampaignID      int64           `json:"campaignId"`
	ContractAddress string          `json:"contractAddress"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Creator         string          `json:"creator"`
	Beneficiary     string          `json:"beneficiary"`
	Goal            decimal.Decimal `json:"goal"`
	Raised          decimal.Decimal `json:"raised"`
	DonorCount      int64           `json:"donorCount"`
	Active          bool            `json:"active"`
	SyncedAt        int64           `json:"syncedAt"`
}

// ProgressResponse 活动进度，stale 为 true 时数值来自镜像
type ProgressResponse struct {
	ContractAddress string          `json:"contractAddress"`
	Raised          decimal.Decimal `json:"raised"`
	Balance         decimal.Decimal `json:"balance"`
	Goal            decimal.Decimal `json:"goal"`
	DonorCount      int64           `json:"donorCount"`
	Active          bool            `json:"active"`
	Source          string          `json:"source"`
	Stale           bool            `json:"stale"`
	SyncedAt        int64           `json:"syncedAt,omitempty"`
}

// HealthResponse 健康检查
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}
