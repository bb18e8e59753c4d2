package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
)

// CheckpointRepository 扫块进度仓储接口
type CheckpointRepository interface {
	// Get 返回已处理的最后区块，尚无记录时 ok 为 false
	Get(ctx context.Context, name string) (block int64, ok bool, err error)
	Save(ctx context.Context, name string, chainID, block int64) error
}

type checkpointRepository struct {
	*Repository
}

// NewCheckpointRepository 创建扫块进度仓储
func NewCheckpointRepository(db *gorm.DB) CheckpointRepository {
	return &checkpointRepository{Repository: NewRepository(db)}
}

func (r *checkpointRepository) Get(ctx context.Context, name string) (int64, bool, error) {
	var cp model.BlockCheckpoint
	err := r.DB(ctx).Where("name = ?", name).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cp.BlockNumber, true, nil
}

func (r *checkpointRepository) Save(ctx context.Context, name string, chainID, block int64) error {
	cp := &model.BlockCheckpoint{
		Name:        name,
		ChainID:     chainID,
		BlockNumber: block,
		UpdatedAt:   time.Now().UnixMilli(),
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"chain_id", "block_number", "updated_at"}),
	}).Create(cp).Error
}
