package db

import (
	"fmt"

	"mace-freeze/internal/config"
	"mace-freeze/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// DSN 按配置拼接 MySQL 连接串
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
	)
}

// InitDB 连接数据库并迁移表结构；未配置数据库时跳过，DB 保持为 nil
func InitDB(cfg *config.Config, log *zap.Logger) error {
	if !cfg.Database.Enabled() {
		log.Info("未配置数据库，异步标注任务不可用")
		return nil
	}

	conn, err := gorm.Open(mysql.Open(DSN(cfg.Database)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("连接数据库失败: %w", err)
	}

	// 自动迁移
	if err := conn.AutoMigrate(
		&model.LabelingJob{},
	); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	DB = conn
	log.Info("数据库初始化成功", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))
	return nil
}
