// Package database 管理关系库、Redis 与 PostgreSQL 的全局连接。
package database

import (
	"fmt"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/pkg/log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("MySQL database connected successfully")
}

// Migrate 创建或更新用户、小票与商品行表。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Receipt{}, &model.LineItem{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Info("Database schema migrated")
	return nil
}
