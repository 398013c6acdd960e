package projection

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/logger"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/store"
)

// 实时投影的合并写入口
// 任何子系统都可以提交 patch，但状态字段要过防抖守卫：
// 乱序写直接丢弃（不重排），短时间内的降级也丢弃

// Patch 一次投影变更，nil 字段表示不动
type Patch struct {
	State        *string
	Since        *time.Time
	LastSeen     *time.Time
	SessionToken *string
	Note         *string

	LoggedInMin    *int
	EfficiencyPct  *int
	UtilisationPct *int
	ThroughputHr   *float64

	// Force 跳过守卫（管理员强制下线、看门狗升级时用，允许降级）
	Force bool
}

type Store struct {
	table     store.ProjectionTable
	clock     quartz.Clock
	debounce  time.Duration
	freshness time.Duration
	log       *logger.Logger
}

func New(table store.ProjectionTable, clock quartz.Clock, debounce, freshness time.Duration, log *logger.Logger) *Store {
	return &Store{
		table:     table,
		clock:     clock,
		debounce:  debounce,
		freshness: freshness,
		log:       log.Named("projection"),
	}
}

// Upsert 合并一个 patch 并整行落库
// 返回值 applied=false 表示状态字段被守卫拦下（其余字段照常合并）
// 守卫拦截不是错误，调用方最多记条日志
func (s *Store) Upsert(ctx context.Context, identity string, p Patch) (*models.LiveProjection, bool, error) {
	now := s.clock.Now()
	row, err := s.table.Get(ctx, identity)
	fresh := false
	if errors.Is(err, store.ErrNotFound) {
		// 没有行就建一行安全默认值，首次写入不走守卫
		row = &models.LiveProjection{
			Identity:     identity,
			CurrentState: models.StateLoggedOut,
			Since:        now,
		}
		fresh = true
	} else if err != nil {
		return nil, false, err
	}

	applied := true
	if p.State != nil {
		incomingSince := now
		if p.Since != nil {
			incomingSince = *p.Since
		}
		if !fresh && !p.Force {
			switch {
			case incomingSince.Before(row.Since):
				// 乱序写：丢弃，不重排
				applied = false
				s.log.Debug("stale since rejected",
					"identity", identity, "incoming", incomingSince, "existing", row.Since)
			case *p.State == models.StateIdle &&
				row.CurrentState != models.StateIdle &&
				now.Sub(row.Since) < s.debounce:
				// 降级防抖：非中性状态没坐稳就不许掉到 Idle
				applied = false
				s.log.Debug("idle downgrade debounced",
					"identity", identity, "existing", row.CurrentState, "held", now.Sub(row.Since))
			}
		}
		if applied {
			row.CurrentState = *p.State
			row.Since = incomingSince
		}
	}

	// 其余字段逐个覆盖（last write wins）
	if p.LastSeen != nil {
		row.LastSeen = *p.LastSeen
	}
	if p.SessionToken != nil {
		row.SessionToken = *p.SessionToken
	}
	if p.Note != nil {
		row.Note = *p.Note
	}
	if p.LoggedInMin != nil {
		row.LoggedInMin = *p.LoggedInMin
	}
	if p.EfficiencyPct != nil {
		row.EfficiencyPct = *p.EfficiencyPct
	}
	if p.UtilisationPct != nil {
		row.UtilisationPct = *p.UtilisationPct
	}
	if p.ThroughputHr != nil {
		row.ThroughputHr = *p.ThroughputHr
	}

	// online 按合并后的状态算，不看来路
	row.Online = s.online(row, now)
	row.UpdatedAt = now

	if err := s.table.Put(ctx, row); err != nil {
		return nil, false, err
	}
	return row, applied, nil
}

// Touch 心跳专用：只动 last_seen 和 online，不碰状态机字段
func (s *Store) Touch(ctx context.Context, identity string) (*models.LiveProjection, error) {
	now := s.clock.Now()
	row, _, err := s.Upsert(ctx, identity, Patch{LastSeen: &now})
	return row, err
}

// Get 读一行；没有就自动建默认行（NotFound 自愈，不外抛）
func (s *Store) Get(ctx context.Context, identity string) (*models.LiveProjection, error) {
	row, err := s.table.Get(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		row, _, err = s.Upsert(ctx, identity, Patch{})
		return row, err
	}
	return row, err
}

// List 全量行（给实时大盘）
func (s *Store) List(ctx context.Context) ([]models.LiveProjection, error) {
	return s.table.List(ctx)
}

func (s *Store) online(row *models.LiveProjection, now time.Time) bool {
	if row.CurrentState == models.StateLoggedOut {
		return false
	}
	if row.LastSeen.IsZero() {
		return false
	}
	return now.Sub(row.LastSeen) <= s.freshness
}
