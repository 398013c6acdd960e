package store

import (
	"context"
	"errors"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
)

// 表格存储只提供整行读写，没有跨行事务和行锁
// 并发正确性由上层（引擎的按人锁 + 投影的防抖合并）保证

var ErrNotFound = errors.New("row not found")

// EventLog 状态事件表（只追加 + 收口回填）
// LatestFor 必须走 (identity, date) 索引，不允许全表扫
type EventLog interface {
	Append(ctx context.Context, ev *models.StateEvent) error
	// Update 整行覆盖（用于收口回填 DurationMin）
	Update(ctx context.Context, ev *models.StateEvent) error
	LatestFor(ctx context.Context, identity, date string) (*models.StateEvent, error)
	ListDay(ctx context.Context, identity, date string) ([]models.StateEvent, error)
}

// ProjectionTable 实时投影表，每人一行，整行覆盖写（last write wins）
type ProjectionTable interface {
	Get(ctx context.Context, identity string) (*models.LiveProjection, error)
	Put(ctx context.Context, row *models.LiveProjection) error
	List(ctx context.Context) ([]models.LiveProjection, error)
}

// SessionTable 会话表，每人一行
type SessionTable interface {
	Get(ctx context.Context, identity string) (*models.WorkSession, error)
	GetByToken(ctx context.Context, token string) (*models.WorkSession, error)
	Put(ctx context.Context, s *models.WorkSession) error
	Delete(ctx context.Context, identity string) error
	List(ctx context.Context) ([]models.WorkSession, error)
}

// Tables 三张逻辑表的句柄，按引用传给各子系统（不用包级全局）
type Tables struct {
	Events      EventLog
	Projections ProjectionTable
	Sessions    SessionTable
}
