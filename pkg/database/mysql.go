package database

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"kidsafe-go/internal/config"
	"kidsafe-go/pkg/log"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接
func InitMySQL(cfg config.MySQLConfig) {
	var err error
	DB, err = gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 10))  // 设置空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 100)) // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour)                     // 设置了连接可复用的最大时间

	log.Info("MySQL database connected successfully")
}

// AutoMigrate 按模型定义同步表结构。
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	log.Infof("数据库表结构迁移完成, 模型数量: %d", len(models))
	return nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
