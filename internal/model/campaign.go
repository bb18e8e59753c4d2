package model

import "github.com/shopspring/decimal"

// Campaign 链上活动的链下镜像，以合约地址关联
// raised 以链上为准，镜像只用于展示与链不可达时的降级
type Campaign struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	CampaignID      int64           `gorm:"column:campaign_id;type:bigint;index" json:"campaign_id"`
	ContractAddress string          `gorm:"column:contract_address;type:varchar(42);uniqueIndex;not null" json:"contract_address"`
	Title           string          `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Description     string          `gorm:"column:description;type:text" json:"description"`
	Creator         string          `gorm:"column:creator;type:varchar(42);index" json:"creator"`
	Beneficiary     string          `gorm:"column:beneficiary;type:varchar(42)" json:"beneficiary"`
	Goal            decimal.Decimal `gorm:"column:goal;type:decimal(36,18);not null" json:"goal"`
	Raised          decimal.Decimal `gorm:"column:raised;type:decimal(36,18);not null;default:0" json:"raised"`
	Balance         decimal.Decimal `gorm:"column:balance;type:decimal(36,18);not null;default:0" json:"balance"`
	DonorCount      int64           `gorm:"column:donor_count;type:bigint;not null;default:0" json:"donor_count"`
	Active          bool            `gorm:"column:active;not null;default:true" json:"active"`
	ChainCreatedAt  int64           `gorm:"column:chain_created_at;type:bigint" json:"chain_created_at"`
	CreatedBlock    int64           `gorm:"column:created_block;type:bigint" json:"created_block"`
	CreatedTxHash   string          `gorm:"column:created_tx_hash;type:varchar(66)" json:"created_tx_hash"`
	SyncedAt        int64           `gorm:"column:synced_at;type:bigint" json:"synced_at"`
	CreatedAt       int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt       int64           `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Campaign) TableName() string {
	return "bridge_campaigns"
}

// BlockCheckpoint 日志扫描进度
type BlockCheckpoint struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"column:name;type:varchar(64);uniqueIndex;not null" json:"name"`
	ChainID     int64  `gorm:"column:chain_id;type:bigint;not null" json:"chain_id"`
	BlockNumber int64  `gorm:"column:block_number;type:bigint;not null" json:"block_number"`
	UpdatedAt   int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (BlockCheckpoint) TableName() string {
	return "bridge_block_checkpoints"
}
