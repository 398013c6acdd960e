package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/engine"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/logger"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/projection"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/session"
)

// 不活跃看门狗：定时巡检所有会话，按心跳间隔把失活会话逐级
// 推向 LoggedOut。只会往"更不活跃"的方向走，从不反向
// 单次巡检内任何一个人的失败都只记日志，不中断整轮

// Gaps 各状态档位的心跳超时
type Gaps struct {
	Active time.Duration // Working/Admin -> Idle
	Idle   time.Duration // Idle -> LoggedOut
	Rest   time.Duration // Break/Lunch -> LoggedOut
	Other  time.Duration // 其余状态 -> LoggedOut
}

type Watchdog struct {
	engine   *engine.Engine
	sessions *session.Manager
	proj     *projection.Store
	clock    quartz.Clock
	tick     time.Duration
	gaps     Gaps
	log      *logger.Logger
}

func New(eng *engine.Engine, sessions *session.Manager, proj *projection.Store, clock quartz.Clock, tick time.Duration, gaps Gaps, log *logger.Logger) *Watchdog {
	return &Watchdog{
		engine:   eng,
		sessions: sessions,
		proj:     proj,
		clock:    clock,
		tick:     tick,
		gaps:     gaps,
		log:      log.Named("watchdog"),
	}
}

// Run 周期巡检，ctx 取消后停止
func (w *Watchdog) Run(ctx context.Context) {
	w.log.Info("watchdog started", "tick", w.tick)
	tkr := w.clock.TickerFunc(ctx, w.tick, func() error {
		w.Sweep(ctx)
		return nil
	}, "watchdog")
	_ = tkr.Wait()
	w.log.Info("watchdog stopped")
}

// Sweep 巡检一轮
func (w *Watchdog) Sweep(ctx context.Context) {
	sessions, err := w.sessions.List(ctx)
	if err != nil {
		w.log.Error("session list failed", "error", err)
		return
	}
	now := w.clock.Now()
	for _, s := range sessions {
		if err := w.check(ctx, s, now); err != nil {
			w.log.Error("escalation failed", "identity", s.Identity, "error", err)
		}
	}
}

func (w *Watchdog) check(ctx context.Context, s models.WorkSession, now time.Time) error {
	// 没有任何心跳记录就无从判断，不动
	if s.LastHeartbeatAt.IsZero() {
		return nil
	}
	row, err := w.proj.Get(ctx, s.Identity)
	if err != nil {
		return err
	}
	// 终态：到了 LoggedOut 就不再碰
	if row.CurrentState == models.StateLoggedOut {
		return nil
	}

	gap := now.Sub(s.LastHeartbeatAt)
	target, threshold := w.target(row.CurrentState, gap)
	if target == "" {
		return nil
	}
	reason := fmt.Sprintf("no heartbeat for %s (threshold %s)", gap.Truncate(time.Second), threshold)
	return w.engine.Escalate(ctx, s.Identity, target, reason)
}

// target 按当前状态档位返回该升级到的状态，不需升级返回空
func (w *Watchdog) target(state string, gap time.Duration) (string, time.Duration) {
	switch {
	case models.IsActiveWork(state):
		if gap > w.gaps.Active {
			return models.StateIdle, w.gaps.Active
		}
	case state == models.StateIdle:
		if gap > w.gaps.Idle {
			return models.StateLoggedOut, w.gaps.Idle
		}
	case models.IsRest(state):
		if gap > w.gaps.Rest {
			return models.StateLoggedOut, w.gaps.Rest
		}
	default:
		// Meeting/Training/OutOfOffice 等
		if gap > w.gaps.Other {
			return models.StateLoggedOut, w.gaps.Other
		}
	}
	return "", 0
}
