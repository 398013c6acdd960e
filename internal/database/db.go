package database

import (
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/config"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// InitGorm 初始化 GORM 数据库连接并运行自动迁移
// AutoMigrate 会自动创建表、添加缺失的列、创建约束和索引
// 若表已存在，只会添加新字段或修改字段（不会删除字段）
func InitGorm(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	// 三张逻辑表：状态事件（只追加）、实时投影（每人一行）、会话
	if err := db.AutoMigrate(&models.StateEvent{}, &models.LiveProjection{}, &models.WorkSession{}); err != nil {
		return nil, err
	}
	return db, nil
}
