// Package repository 持久化层：支付记录、铸币记录、活动镜像与扫块进度
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrOptimisticLock 条件更新未命中，记录已被并发修改
	ErrOptimisticLock = errors.New("optimistic lock conflict")
)

// PostgreSQL 错误码
// 参考: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrUniqueViolation      = "23505"
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrConnectionFailure    = "08006"
	pgErrConnectionException  = "08000"
	pgErrTooManyConnections   = "53300"
	pgErrQueryCanceled        = "57014"
	pgErrCannotConnectNow     = "57P03"
)

// Repository 基础仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB 返回绑定 ctx 的连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// maxTransientRetries 单条条件更新遇到临时错误时的重试次数
const maxTransientRetries = 3

// casUpdate 条件更新：where 未命中任何行返回 ErrOptimisticLock
// 序列化失败、死锁、连接中断等临时错误按指数退避重试，条件更新本身幂等
func (r *Repository) casUpdate(ctx context.Context, m interface{}, updates map[string]interface{}, query string, args ...interface{}) error {
	var err error
	for i := 0; i < maxTransientRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * 100 * time.Millisecond):
			}
		}

		result := r.DB(ctx).Model(m).Where(query, args...).Updates(updates)
		err = result.Error
		if err == nil {
			if result.RowsAffected == 0 {
				return ErrOptimisticLock
			}
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
	}
	return err
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected,
		pgErrConnectionFailure, pgErrConnectionException,
		pgErrTooManyConnections, pgErrQueryCanceled, pgErrCannotConnectNow:
		return true
	}
	return false
}

// isUniqueViolation 唯一索引冲突
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// Pagination 分页参数
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// Offset 计算偏移量
func (p *Pagination) Offset() int {
	if p.Page <= 0 {
		p.Page = 1
	}
	return (p.Page - 1) * p.Limit()
}

// Limit 返回限制数量
func (p *Pagination) Limit() int {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p.PageSize
}
