package model

import "github.com/shopspring/decimal"

// MintStatus 铸币交易状态
type MintStatus int8

const (
	MintStatusPending   MintStatus = 0 // 已占位，尚未广播
	MintStatusSubmitted MintStatus = 1 // 已广播
	MintStatusConfirmed MintStatus = 2 // 已确认
	MintStatusFailed    MintStatus = 3 // 回滚、广播失败或超时
)

func (s MintStatus) String() string {
	switch s {
	case MintStatusPending:
		return "PENDING"
	case MintStatusSubmitted:
		return "SUBMITTED"
	case MintStatusConfirmed:
		return "CONFIRMED"
	case MintStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 判断是否为终态
func (s MintStatus) IsTerminal() bool {
	return s == MintStatusConfirmed || s == MintStatusFailed
}

// MintTx 铸币交易记录，每个 correlation id 最多一条
// 广播前先落库占位，崩溃或重试时据此判断交易是否已发出
type MintTx struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CorrelationID string          `gorm:"column:correlation_id;type:varchar(64);uniqueIndex;not null" json:"correlation_id"`
	PixID         string          `gorm:"column:pix_id;type:varchar(64);index;not null" json:"pix_id"`
	ToAddress     string          `gorm:"column:to_address;type:varchar(42);not null" json:"to_address"`
	TokenAddress  string          `gorm:"column:token_address;type:varchar(42);not null" json:"token_address"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null" json:"amount"`
	BaseUnits     string          `gorm:"column:base_units;type:varchar(80);not null" json:"base_units"`
	ChainID       int64           `gorm:"column:chain_id;type:bigint;not null" json:"chain_id"`
	FromAddress   string          `gorm:"column:from_address;type:varchar(42)" json:"from_address"`
	TxHash        string          `gorm:"column:tx_hash;type:varchar(66);index" json:"tx_hash"`
	Nonce         int64           `gorm:"column:nonce;type:bigint" json:"nonce"`
	BlockNumber   int64           `gorm:"column:block_number;type:bigint" json:"block_number"`
	GasUsed       int64           `gorm:"column:gas_used;type:bigint" json:"gas_used"`
	Status        MintStatus      `gorm:"column:status;type:smallint;index;not null;default:0" json:"status"`
	ErrorMessage  string          `gorm:"column:error_message;type:varchar(500)" json:"error_message,omitempty"`
	Attempts      int             `gorm:"column:attempts;type:int;not null;default:0" json:"attempts"`
	SubmittedAt   int64           `gorm:"column:submitted_at;type:bigint" json:"submitted_at,omitempty"`
	ConfirmedAt   int64           `gorm:"column:confirmed_at;type:bigint" json:"confirmed_at,omitempty"`
	CreatedAt     int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt     int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (MintTx) TableName() string {
	return "bridge_mint_txs"
}
