package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/coder/quartz"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/collab"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/kpi"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
	pkgerr "github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/err"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/logger"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/projection"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/session"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/store"
)

// 状态流转引擎
// 写路径固定三步：收口上一条事件、追加新事件、patch 投影
// 全程握着该 identity 的锁，事件时间戳在锁内取，保证单人全序

type Options struct {
	Clock    quartz.Clock
	LockWait time.Duration
	Policy   kpi.Policy
	Location *time.Location
	Meetings collab.MeetingSource
	Work     collab.WorkSource
	Audit    collab.AuditSink
}

type Engine struct {
	events   store.EventLog
	proj     *projection.Store
	sessions *session.Manager
	clock    quartz.Clock
	locks    *keyedLocks
	lockWait time.Duration
	policy   kpi.Policy
	loc      *time.Location
	meetings collab.MeetingSource
	work     collab.WorkSource
	audit    collab.AuditSink
	log      *logger.Logger
}

func New(events store.EventLog, proj *projection.Store, sessions *session.Manager, opt Options, log *logger.Logger) *Engine {
	if opt.Clock == nil {
		opt.Clock = quartz.NewReal()
	}
	if opt.LockWait <= 0 {
		opt.LockWait = 3 * time.Second
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}
	if opt.Meetings == nil {
		opt.Meetings = collab.NoopMeetings{}
	}
	if opt.Work == nil {
		opt.Work = collab.NoopWork{}
	}
	if opt.Audit == nil {
		opt.Audit = collab.NoopAudit{}
	}
	return &Engine{
		events:   events,
		proj:     proj,
		sessions: sessions,
		clock:    opt.Clock,
		locks:    newKeyedLocks(),
		lockWait: opt.LockWait,
		policy:   opt.Policy,
		loc:      opt.Location,
		meetings: opt.Meetings,
		work:     opt.Work,
		audit:    opt.Audit,
		log:      log.Named("engine"),
	}
}

// SetState 客户端状态上报入口
func (e *Engine) SetState(ctx context.Context, identity, token, state, note string) (*models.StateEvent, error) {
	if err := e.sessions.Validate(ctx, identity, token); err != nil {
		return nil, err
	}
	return e.apply(ctx, identity, state, note, models.SourceClient, false)
}

// LogOff 主动登出：落 LoggedOut 事件并吊销会话
func (e *Engine) LogOff(ctx context.Context, identity, token, note string) (*models.StateEvent, error) {
	if err := e.sessions.Validate(ctx, identity, token); err != nil {
		return nil, err
	}
	ev, err := e.apply(ctx, identity, models.StateLoggedOut, note, models.SourceClient, true)
	if err != nil {
		return nil, err
	}
	if err := e.sessions.Revoke(ctx, identity, "logoff"); err != nil {
		e.log.Error("revoke after logoff failed", "identity", identity, "error", err)
	}
	return ev, nil
}

// ForceLogout 管理员强制下线（不校验被踢者的 token）
func (e *Engine) ForceLogout(ctx context.Context, identity, reason, actor string) error {
	ev, err := e.apply(ctx, identity, models.StateLoggedOut, reason, models.SourceAdmin, true)
	if err != nil {
		return err
	}
	if err := e.sessions.Revoke(ctx, identity, "force logout by "+actor); err != nil {
		e.log.Error("revoke after force logout failed", "identity", identity, "error", err)
	}
	e.audit.Record(ctx, "force_logout", identity, actor, reason, ev.Timestamp)
	return nil
}

// Escalate 看门狗升级入口（允许降级，带 force patch）
// 目标是 LoggedOut 时顺带吊销会话，达到终态
func (e *Engine) Escalate(ctx context.Context, identity, state, reason string) error {
	ev, err := e.apply(ctx, identity, state, reason, models.SourceWatchdog, true)
	if err != nil {
		return err
	}
	if state == models.StateLoggedOut {
		if err := e.sessions.Revoke(ctx, identity, "watchdog escalation"); err != nil {
			e.log.Error("revoke after escalation failed", "identity", identity, "error", err)
		}
	}
	e.audit.Record(ctx, "escalate", identity, "watchdog", reason+" -> "+state, ev.Timestamp)
	return nil
}

// apply 核心写路径，锁内完成事件收口 + 追加 + 投影 patch
func (e *Engine) apply(ctx context.Context, identity, state, note, source string, force bool) (*models.StateEvent, error) {
	if !models.ValidState(state) {
		return nil, pkgerr.Validation("unknown state: " + state)
	}
	if err := e.locks.acquire(ctx, identity, e.lockWait); err != nil {
		return nil, err
	}
	defer e.locks.release(identity)

	// 时间戳在锁内取，单人事件由此全序
	at := e.clock.Now()
	date := at.In(e.loc).Format(kpi.DateLayout)

	prev, err := e.events.LatestFor(ctx, identity, date)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if prev == nil {
		// 今天第一条事件：昨天的末条若还开着，先按昨天结束补收
		e.closeCarryover(ctx, identity, at)
	}
	if prev != nil {
		// 幂等：同状态且未收口的重复上报当成功处理，不开第二个区间
		// 投影仍要跟进：之前被防抖拦下的降级，窗口过了就该在这里收敛
		if prev.DurationMin == nil && prev.State == state && !prev.Timestamp.After(at) {
			since := prev.Timestamp
			_, applied, perr := e.proj.Upsert(ctx, identity, projection.Patch{
				State:    &state,
				Since:    &since,
				LastSeen: &at,
				Force:    force,
			})
			if perr != nil {
				e.log.Error("projection patch on no-op failed", "identity", identity, "error", perr)
			} else if !applied {
				e.log.Debug("projection patch guarded", "identity", identity, "state", state)
			}
			e.refreshKPIs(ctx, identity, date)
			return prev, nil
		}
		// 收口上一条：回填分钟数（只在还没收口时做一次）
		if prev.DurationMin == nil {
			min := int(math.Round(at.Sub(prev.Timestamp).Minutes()))
			if min < 0 {
				min = 0
			}
			prev.DurationMin = &min
			if err := e.events.Update(ctx, prev); err != nil {
				return nil, err
			}
		}
	}

	ev := &models.StateEvent{
		Identity:  identity,
		Date:      date,
		Timestamp: at,
		State:     state,
		Source:    source,
		Note:      note,
	}
	if err := e.events.Append(ctx, ev); err != nil {
		return nil, err
	}

	_, applied, err := e.proj.Upsert(ctx, identity, projection.Patch{
		State:    &state,
		Since:    &at,
		LastSeen: &at,
		Force:    force,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		// 守卫拦截是保护性空操作，不算失败
		e.log.Debug("projection patch guarded", "identity", identity, "state", state)
	}

	// KPI 重算尽力而为，失败不影响本次流转
	e.refreshKPIs(ctx, identity, date)
	return ev, nil
}

// closeCarryover 跨天补收：昨天的末条事件若未收口，按昨天结束时刻回填
// 失败只记日志，不挡住当前这次写入（下次写入会再试）
func (e *Engine) closeCarryover(ctx context.Context, identity string, at time.Time) {
	local := at.In(e.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	prevDate := dayStart.AddDate(0, 0, -1).Format(kpi.DateLayout)
	prev, err := e.events.LatestFor(ctx, identity, prevDate)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		e.log.Error("carryover lookup failed", "identity", identity, "error", err)
		return
	}
	if prev.DurationMin != nil {
		return
	}
	min := int(math.Round(dayStart.Sub(prev.Timestamp).Minutes()))
	if min < 0 {
		min = 0
	}
	prev.DurationMin = &min
	if err := e.events.Update(ctx, prev); err != nil {
		e.log.Error("carryover close failed", "identity", identity, "error", err)
	}
}

// RefreshKPIs 对外的 KPI 重算入口（心跳路径用），错误只记日志
func (e *Engine) RefreshKPIs(ctx context.Context, identity string) {
	date := e.clock.Now().In(e.loc).Format(kpi.DateLayout)
	e.refreshKPIs(ctx, identity, date)
}

func (e *Engine) refreshKPIs(ctx context.Context, identity, date string) {
	snap, _, logged, err := e.dayView(ctx, identity, date)
	if err != nil {
		e.log.Error("kpi refresh failed", "identity", identity, "date", date, "error", err)
		return
	}
	_, _, err = e.proj.Upsert(ctx, identity, projection.Patch{
		LoggedInMin:    &logged,
		EfficiencyPct:  &snap.EfficiencyPct,
		UtilisationPct: &snap.UtilisationPct,
		ThroughputHr:   &snap.ThroughputHr,
	})
	if err != nil {
		e.log.Error("kpi projection write failed", "identity", identity, "error", err)
	}
}

// DayView 重建某人某天的区间和 KPI 快照（只读派生，不落库）
func (e *Engine) DayView(ctx context.Context, identity, date string) (kpi.Snapshot, []kpi.Stint, error) {
	snap, stints, _, err := e.dayView(ctx, identity, date)
	return snap, stints, err
}

func (e *Engine) dayView(ctx context.Context, identity, date string) (kpi.Snapshot, []kpi.Stint, int, error) {
	dayStart, dayEnd, err := kpi.DayBounds(date, e.loc)
	if err != nil {
		return kpi.Snapshot{}, nil, 0, pkgerr.Validation("bad date: " + date)
	}
	evs, err := e.events.ListDay(ctx, identity, date)
	if err != nil {
		return kpi.Snapshot{}, nil, 0, err
	}
	stints := kpi.BuildStints(evs, dayStart, dayEnd, e.clock.Now())
	logged := kpi.LoggedInMinutes(stints)

	meetingMin, err := e.meetings.MeetingMinutes(ctx, identity, date)
	if err != nil {
		e.log.Error("meeting source failed, treating as 0", "identity", identity, "error", err)
		meetingMin = 0
	}
	wd, err := e.work.WorkDay(ctx, identity, date)
	if err != nil {
		e.log.Error("work source failed, treating as 0", "identity", identity, "error", err)
		wd = collab.WorkDay{}
	}
	avail := kpi.AvailableMinutes(logged, meetingMin)
	snap := kpi.Compute(wd.HandlingMin, wd.StandardMin, avail, wd.OutputCount, e.policy)
	return snap, stints, logged, nil
}
