package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
)

var ErrCampaignNotFound = errors.New("campaign not found")

// CampaignProgress 链上读取的进度字段
type CampaignProgress struct {
	Raised     decimal.Decimal
	Balance    decimal.Decimal
	DonorCount int64
	Active     bool
}

// CampaignRepository 活动镜像仓储接口
type CampaignRepository interface {
	Upsert(ctx context.Context, c *model.Campaign) error
	GetByAddress(ctx context.Context, address string) (*model.Campaign, error)
	List(ctx context.Context, activeOnly bool, page *Pagination) ([]*model.Campaign, error)
	ListAddresses(ctx context.Context) ([]string, error)
	UpdateProgress(ctx context.Context, address string, p *CampaignProgress) error
}

type campaignRepository struct {
	*Repository
}

// NewCampaignRepository 创建活动镜像仓储
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{Repository: NewRepository(db)}
}

// Upsert 以合约地址为键插入或覆盖镜像
func (r *campaignRepository) Upsert(ctx context.Context, c *model.Campaign) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.SyncedAt = now

	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "contract_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"campaign_id", "title", "description", "creator", "beneficiary",
			"goal", "raised", "balance", "donor_count", "active",
			"chain_created_at", "synced_at", "updated_at",
		}),
	}).Create(c).Error
}

func (r *campaignRepository) GetByAddress(ctx context.Context, address string) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB(ctx).Where("contract_address = ?", address).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *campaignRepository) List(ctx context.Context, activeOnly bool, page *Pagination) ([]*model.Campaign, error) {
	var campaigns []*model.Campaign

	query := r.DB(ctx).Model(&model.Campaign{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	if err := query.Count(&page.Total).Error; err != nil {
		return nil, err
	}

	err := query.
		Order("chain_created_at DESC").
		Offset(page.Offset()).
		Limit(page.Limit()).
		Find(&campaigns).Error
	return campaigns, err
}

func (r *campaignRepository) ListAddresses(ctx context.Context) ([]string, error) {
	var addrs []string
	err := r.DB(ctx).Model(&model.Campaign{}).Pluck("contract_address", &addrs).Error
	return addrs, err
}

func (r *campaignRepository) UpdateProgress(ctx context.Context, address string, p *CampaignProgress) error {
	now := time.Now().UnixMilli()
	result := r.DB(ctx).Model(&model.Campaign{}).
		Where("contract_address = ?", address).
		Updates(map[string]interface{}{
			"raised":      p.Raised,
			"balance":     p.Balance,
			"donor_count": p.DonorCount,
			"active":      p.Active,
			"synced_at":   now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}
