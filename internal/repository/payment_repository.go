package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
)

var (
	ErrPaymentNotFound  = errors.New("payment record not found")
	ErrDuplicatePayment = errors.New("payment record already exists")
)

// PaymentRepository 支付记录仓储接口
type PaymentRepository interface {
	Create(ctx context.Context, rec *model.PaymentRecord) error
	GetByCorrelationID(ctx context.Context, correlationID string) (*model.PaymentRecord, error)
	GetByPixID(ctx context.Context, pixID string) (*model.PaymentRecord, error)
	// CompareAndSetStatus 仅当当前状态为 from 时更新为 to，否则返回 ErrOptimisticLock
	CompareAndSetStatus(ctx context.Context, correlationID string, from, to model.PaymentStatus, reason string) error
	UpdateCharge(ctx context.Context, correlationID string, charge *model.ChargeFields) error
	CountByStatus(ctx context.Context) (map[model.PaymentStatus]int64, error)
	// ListCompletedWithoutMint 早于 completedBefore 完成、却没有铸币记录的支付
	ListCompletedWithoutMint(ctx context.Context, completedBefore int64, limit int) ([]*model.PaymentRecord, error)
}

type paymentRepository struct {
	*Repository
}

// NewPaymentRepository 创建支付记录仓储
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{Repository: NewRepository(db)}
}

func (r *paymentRepository) Create(ctx context.Context, rec *model.PaymentRecord) error {
	now := time.Now().UnixMilli()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := r.DB(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return err
	}
	return nil
}

func (r *paymentRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*model.PaymentRecord, error) {
	var rec model.PaymentRecord
	err := r.DB(ctx).Where("correlation_id = ?", correlationID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *paymentRepository) GetByPixID(ctx context.Context, pixID string) (*model.PaymentRecord, error) {
	var rec model.PaymentRecord
	err := r.DB(ctx).Where("pix_id = ?", pixID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *paymentRepository) CompareAndSetStatus(ctx context.Context, correlationID string, from, to model.PaymentStatus, reason string) error {
	now := time.Now().UnixMilli()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case model.PaymentStatusCompleted:
		updates["completed_at"] = now
	case model.PaymentStatusFailed:
		updates["failed_at"] = now
		updates["failure_reason"] = reason
	}

	return r.casUpdate(ctx, &model.PaymentRecord{}, updates,
		"correlation_id = ? AND status = ?", correlationID, from)
}

func (r *paymentRepository) UpdateCharge(ctx context.Context, correlationID string, charge *model.ChargeFields) error {
	result := r.DB(ctx).Model(&model.PaymentRecord{}).
		Where("correlation_id = ?", correlationID).
		Updates(map[string]interface{}{
			"processor_charge_id": charge.ProcessorChargeID,
			"br_code":             charge.BRCode,
			"qr_code_image":       charge.QRCodeImage,
			"payment_link_url":    charge.PaymentLinkURL,
			"expires_at":          charge.ExpiresAt,
			"updated_at":          time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepository) CountByStatus(ctx context.Context) (map[model.PaymentStatus]int64, error) {
	var rows []struct {
		Status model.PaymentStatus
		Count  int64
	}
	err := r.DB(ctx).Model(&model.PaymentRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.PaymentStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *paymentRepository) ListCompletedWithoutMint(ctx context.Context, completedBefore int64, limit int) ([]*model.PaymentRecord, error) {
	var recs []*model.PaymentRecord
	err := r.DB(ctx).
		Select("bridge_payment_records.*").
		Joins("LEFT JOIN bridge_mint_txs ON bridge_mint_txs.correlation_id = bridge_payment_records.correlation_id").
		Where("bridge_payment_records.status = ? AND bridge_payment_records.completed_at < ? AND bridge_mint_txs.id IS NULL",
			model.PaymentStatusCompleted, completedBefore).
		Order("bridge_payment_records.completed_at ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
