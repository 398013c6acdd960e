package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
)

// gorm 版三张表，生产环境走 Postgres
// LatestFor/ListDay 都命中 idx_identity_date 复合索引

// NewGorm 基于已初始化的 gorm 连接构造表句柄
func NewGorm(db *gorm.DB) Tables {
	return Tables{
		Events:      &gormEvents{db: db},
		Projections: &gormProjections{db: db},
		Sessions:    &gormSessions{db: db},
	}
}

type gormEvents struct{ db *gorm.DB }

func (g *gormEvents) Append(ctx context.Context, ev *models.StateEvent) error {
	return g.db.WithContext(ctx).Create(ev).Error
}

func (g *gormEvents) Update(ctx context.Context, ev *models.StateEvent) error {
	// Save 整行覆盖，对应"整行写"的表格存储语义
	return g.db.WithContext(ctx).Save(ev).Error
}

func (g *gormEvents) LatestFor(ctx context.Context, identity, date string) (*models.StateEvent, error) {
	var ev models.StateEvent
	err := g.db.WithContext(ctx).
		Where("identity = ? AND date = ?", identity, date).
		Order("timestamp DESC").
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (g *gormEvents) ListDay(ctx context.Context, identity, date string) ([]models.StateEvent, error) {
	var evs []models.StateEvent
	err := g.db.WithContext(ctx).
		Where("identity = ? AND date = ?", identity, date).
		Order("timestamp ASC").
		Find(&evs).Error
	return evs, err
}

type gormProjections struct{ db *gorm.DB }

func (g *gormProjections) Get(ctx context.Context, identity string) (*models.LiveProjection, error) {
	var row models.LiveProjection
	err := g.db.WithContext(ctx).Where("identity = ?", identity).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (g *gormProjections) Put(ctx context.Context, row *models.LiveProjection) error {
	return g.db.WithContext(ctx).Save(row).Error
}

func (g *gormProjections) List(ctx context.Context) ([]models.LiveProjection, error) {
	var rows []models.LiveProjection
	err := g.db.WithContext(ctx).Order("identity ASC").Find(&rows).Error
	return rows, err
}

type gormSessions struct{ db *gorm.DB }

func (g *gormSessions) Get(ctx context.Context, identity string) (*models.WorkSession, error) {
	var s models.WorkSession
	err := g.db.WithContext(ctx).Where("identity = ?", identity).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (g *gormSessions) GetByToken(ctx context.Context, token string) (*models.WorkSession, error) {
	var s models.WorkSession
	err := g.db.WithContext(ctx).Where("token = ?", token).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (g *gormSessions) Put(ctx context.Context, s *models.WorkSession) error {
	return g.db.WithContext(ctx).Save(s).Error
}

func (g *gormSessions) Delete(ctx context.Context, identity string) error {
	return g.db.WithContext(ctx).Where("identity = ?", identity).Delete(&models.WorkSession{}).Error
}

func (g *gormSessions) List(ctx context.Context) ([]models.WorkSession, error) {
	var rows []models.WorkSession
	err := g.db.WithContext(ctx).Find(&rows).Error
	return rows, err
}
