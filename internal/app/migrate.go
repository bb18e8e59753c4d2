package app

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// migrationModels 需要建表的模型
var migrationModels = []interface{}{
	&model.PaymentRecord{},
	&model.MintTx{},
	&model.Campaign{},
	&model.BlockCheckpoint{},
}

// AutoMigrate 自动执行数据库迁移
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(migrationModels...); err != nil {
		logger.Error("auto migration failed", zap.Error(err))
		return err
	}
	return nil
}
