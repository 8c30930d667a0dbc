package database

import (
	"fmt"
	"time"

	"consignsystem/internal/config"
	"consignsystem/internal/infrastructure/logger"
	"consignsystem/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// InitMySQL 初始化 MySQL 连接
func InitMySQL(cfg *config.MySQLConfig, sqlLevel string, log *zap.Logger) *gorm.DB {
	// clientFoundRows：RowsAffected 按匹配行数计算，额度未变化的更新不会被误判为记录不存在
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.NewGormLogger(log, logger.GormLevel(sqlLevel)),
		TranslateError: true,
	})
	if err != nil {
		log.Fatal("连接 MySQL 失败", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("获取底层 DB 失败", zap.Error(err))
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		log.Fatal("自动迁移表结构失败", zap.Error(err))
	}

	log.Info("MySQL 连接成功", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return db
}

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Beneficiary{},
		&model.Consignment{},
		&model.Installment{},
		&model.OutboxMessage{},
	)
}
