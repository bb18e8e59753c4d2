package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentStatus 支付记录状态
// 只允许 PENDING -> COMPLETED 与 PENDING -> FAILED，终态不可再变
type PaymentStatus int8

const (
	PaymentStatusPending   PaymentStatus = 0 // 等待处理方确认
	PaymentStatusCompleted PaymentStatus = 1 // 已收款，触发铸币
	PaymentStatusFailed    PaymentStatus = 2 // 过期或取消
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusPending:
		return "PENDING"
	case PaymentStatusCompleted:
		return "COMPLETED"
	case PaymentStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// CanTransitionTo 状态只能向前
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	return s == PaymentStatusPending && target.IsTerminal()
}

// ParsePaymentStatus 解析状态字符串
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch strings.ToUpper(s) {
	case "PENDING":
		return PaymentStatusPending, true
	case "COMPLETED":
		return PaymentStatusCompleted, true
	case "FAILED":
		return PaymentStatusFailed, true
	}
	return 0, false
}

// PaymentRecord PIX 收款记录，每条记录对应处理方的一笔 charge
type PaymentRecord struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	PixID             string          `gorm:"column:pix_id;type:varchar(64);uniqueIndex;not null" json:"pix_id"`
	CorrelationID     string          `gorm:"column:correlation_id;type:varchar(64);uniqueIndex;not null" json:"correlation_id"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null" json:"amount"`
	DestinationWallet string          `gorm:"column:destination_wallet;type:varchar(42);index;not null" json:"destination_wallet"`
	Status            PaymentStatus   `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	FailureReason     string          `gorm:"column:failure_reason;type:varchar(255)" json:"failure_reason,omitempty"`
	ProcessorChargeID string          `gorm:"column:processor_charge_id;type:varchar(128)" json:"processor_charge_id,omitempty"`
	BRCode            string          `gorm:"column:br_code;type:text" json:"br_code,omitempty"`
	QRCodeImage       string          `gorm:"column:qr_code_image;type:varchar(512)" json:"qr_code_image,omitempty"`
	PaymentLinkURL    string          `gorm:"column:payment_link_url;type:varchar(512)" json:"payment_link_url,omitempty"`
	ExpiresAt         int64           `gorm:"column:expires_at;type:bigint" json:"expires_at,omitempty"`
	CompletedAt       int64           `gorm:"column:completed_at;type:bigint" json:"completed_at,omitempty"`
	FailedAt          int64           `gorm:"column:failed_at;type:bigint" json:"failed_at,omitempty"`
	CreatedAt         int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt         int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (PaymentRecord) TableName() string {
	return "bridge_payment_records"
}

// ChargeFields 处理方返回的 charge 信息
type ChargeFields struct {
	ProcessorChargeID string
	BRCode            string
	QRCodeImage       string
	PaymentLinkURL    string
	ExpiresAt         int64
}
