package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
)

var (
	ErrMintNotFound = errors.New("mint tx not found")
	ErrMintExists   = errors.New("mint tx already exists")
)

// MintRepository 铸币记录仓储接口
// 状态更新均为条件更新，不满足前置状态时返回 ErrOptimisticLock
type MintRepository interface {
	Create(ctx context.Context, tx *model.MintTx) error
	GetByCorrelationID(ctx context.Context, correlationID string) (*model.MintTx, error)
	// MarkSubmitted PENDING -> SUBMITTED
	MarkSubmitted(ctx context.Context, correlationID, from, txHash string, nonce int64) error
	// MarkConfirmed SUBMITTED|FAILED -> CONFIRMED
	MarkConfirmed(ctx context.Context, correlationID string, blockNumber, gasUsed int64) error
	// MarkFailed 非终态 -> FAILED
	MarkFailed(ctx context.Context, correlationID, errMsg string) error
	// ResetForRetry FAILED -> PENDING
	ResetForRetry(ctx context.Context, correlationID string) error
	ListByStatus(ctx context.Context, status model.MintStatus, limit int) ([]*model.MintTx, error)
}

type mintRepository struct {
	*Repository
}

// NewMintRepository 创建铸币记录仓储
func NewMintRepository(db *gorm.DB) MintRepository {
	return &mintRepository{Repository: NewRepository(db)}
}

func (r *mintRepository) Create(ctx context.Context, tx *model.MintTx) error {
	now := time.Now().UnixMilli()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	if err := r.DB(ctx).Create(tx).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrMintExists
		}
		return err
	}
	return nil
}

func (r *mintRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*model.MintTx, error) {
	var tx model.MintTx
	err := r.DB(ctx).Where("correlation_id = ?", correlationID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMintNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *mintRepository) MarkSubmitted(ctx context.Context, correlationID, from, txHash string, nonce int64) error {
	now := time.Now().UnixMilli()
	return r.casUpdateStatus(ctx, correlationID, []model.MintStatus{model.MintStatusPending}, map[string]interface{}{
		"status":       model.MintStatusSubmitted,
		"from_address": from,
		"tx_hash":      txHash,
		"nonce":        nonce,
		"attempts":     gorm.Expr("attempts + 1"),
		"submitted_at": now,
		"updated_at":   now,
	})
}

func (r *mintRepository) MarkConfirmed(ctx context.Context, correlationID string, blockNumber, gasUsed int64) error {
	now := time.Now().UnixMilli()
	return r.casUpdateStatus(ctx, correlationID, []model.MintStatus{model.MintStatusSubmitted, model.MintStatusFailed}, map[string]interface{}{
		"status":        model.MintStatusConfirmed,
		"block_number":  blockNumber,
		"gas_used":      gasUsed,
		"error_message": "",
		"confirmed_at":  now,
		"updated_at":    now,
	})
}

func (r *mintRepository) MarkFailed(ctx context.Context, correlationID, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	return r.casUpdateStatus(ctx, correlationID, []model.MintStatus{model.MintStatusPending, model.MintStatusSubmitted}, map[string]interface{}{
		"status":        model.MintStatusFailed,
		"error_message": errMsg,
		"updated_at":    time.Now().UnixMilli(),
	})
}

func (r *mintRepository) ResetForRetry(ctx context.Context, correlationID string) error {
	return r.casUpdateStatus(ctx, correlationID, []model.MintStatus{model.MintStatusFailed}, map[string]interface{}{
		"status":     model.MintStatusPending,
		"updated_at": time.Now().UnixMilli(),
	})
}

func (r *mintRepository) casUpdateStatus(ctx context.Context, correlationID string, from []model.MintStatus, updates map[string]interface{}) error {
	return r.casUpdate(ctx, &model.MintTx{}, updates, "correlation_id = ? AND status IN ?", correlationID, from)
}

func (r *mintRepository) ListByStatus(ctx context.Context, status model.MintStatus, limit int) ([]*model.MintTx, error) {
	var txs []*model.MintTx
	err := r.DB(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
