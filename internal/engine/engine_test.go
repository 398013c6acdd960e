package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/collab"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/kpi"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
	pkgerr "github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/err"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/logger"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/projection"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/session"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/store"
)

// 可控的工单/会议数据源
type stubWork struct{ wd collab.WorkDay }

func (s stubWork) WorkDay(ctx context.Context, identity, date string) (collab.WorkDay, error) {
	return s.wd, nil
}

type stubMeetings struct{ min int }

func (s stubMeetings) MeetingMinutes(ctx context.Context, identity, date string) (int, error) {
	return s.min, nil
}

type recordingAudit struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingAudit) Record(ctx context.Context, kind, identity, actor, detail string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recordingAudit) has(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type fixture struct {
	eng      *Engine
	sessions *session.Manager
	proj     *projection.Store
	tables   store.Tables
	clock    *quartz.Mock
	audit    *recordingAudit
}

func newFixture(t *testing.T, opt Options) *fixture {
	t.Helper()
	clock := quartz.NewMock(t)
	// 固定到工作日早上九点，避免用例跨天
	clock.Set(time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC))
	tables := store.NewMemory()
	log := logger.Init("test")
	audit := &recordingAudit{}
	proj := projection.New(tables.Projections, clock, 5*time.Minute, 5*time.Minute, log)
	sessions := session.New(tables.Sessions, proj, clock, 5*time.Minute, audit, log)
	opt.Clock = clock
	opt.Location = time.UTC
	opt.Audit = audit
	if opt.Policy.UtilisationCapPct == 0 {
		opt.Policy = kpi.Policy{UtilisationCapPct: 100}
	}
	eng := New(tables.Events, proj, sessions, opt, log)
	return &fixture{eng: eng, sessions: sessions, proj: proj, tables: tables, clock: clock, audit: audit}
}

func (f *fixture) login(t *testing.T, identity string) string {
	t.Helper()
	token, err := f.sessions.Issue(context.Background(), identity)
	require.NoError(t, err)
	return token
}

func (f *fixture) today() string {
	return f.clock.Now().UTC().Format(kpi.DateLayout)
}

func TestSetState_AppendsAndClosesPrevious(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	token := f.login(t, "alice")

	_, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "shift start")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	_, err = f.eng.SetState(ctx, "alice", token, models.StateIdle, "")
	require.NoError(t, err)

	evs, err := f.tables.Events.ListDay(ctx, "alice", f.today())
	require.NoError(t, err)
	require.Len(t, evs, 2)
	// 上一段被收口成 30 分钟，新的一条保持未收口
	require.NotNil(t, evs[0].DurationMin)
	assert.Equal(t, 30, *evs[0].DurationMin)
	assert.Nil(t, evs[1].DurationMin)
	assert.Equal(t, models.StateIdle, evs[1].State)

	row, err := f.proj.Get(ctx, "alice")
	require.NoError(t, err)
	// 30 分钟的 Working 早已坐稳，降级不会被防抖拦
	assert.Equal(t, models.StateIdle, row.CurrentState)
}

func TestSetState_IdempotentReplay(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	token := f.login(t, "alice")

	ev1, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.NoError(t, err)

	// 同状态重复上报：不开第二个区间，当成功的空操作
	ev2, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.NoError(t, err)
	assert.Equal(t, ev1.ID, ev2.ID)

	evs, err := f.tables.Events.ListDay(ctx, "alice", f.today())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Nil(t, evs[0].DurationMin)
}

func TestSetState_DebouncedDowngradeConvergesOnReplay(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	token := f.login(t, "alice")
	base := f.clock.Now()

	_, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.NoError(t, err)

	// 2 分钟后掉 Idle：事件照常追加，投影被防抖拦下
	f.clock.Advance(2 * time.Minute)
	idleEv, err := f.eng.SetState(ctx, "alice", token, models.StateIdle, "")
	require.NoError(t, err)
	row, err := f.proj.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, models.StateWorking, row.CurrentState)

	// 窗口过后客户端重报 Idle：日志侧是空操作，投影要收敛到 Idle
	f.clock.Advance(8 * time.Minute)
	ev, err := f.eng.SetState(ctx, "alice", token, models.StateIdle, "")
	require.NoError(t, err)
	assert.Equal(t, idleEv.ID, ev.ID)

	row, err = f.proj.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, row.CurrentState)
	assert.True(t, row.Since.Equal(base.Add(2*time.Minute)))
	// KPI 顺带重算：Working 2 分钟 + Idle 8 分钟
	assert.Equal(t, 10, row.LoggedInMin)

	evs, err := f.tables.Events.ListDay(ctx, "alice", f.today())
	require.NoError(t, err)
	require.Len(t, evs, 2)
}

func TestSetState_ClosesPreviousDayOpenEvent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	token := f.login(t, "alice")

	// 23:55 开始干活，跨天后的第一条事件要把昨天的末条补收到天末
	f.clock.Set(time.Date(2024, 3, 11, 23, 55, 0, 0, time.UTC))
	_, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.NoError(t, err)

	f.clock.Set(time.Date(2024, 3, 12, 0, 30, 0, 0, time.UTC))
	_, err = f.eng.SetState(ctx, "alice", token, models.StateIdle, "")
	require.NoError(t, err)

	evs, err := f.tables.Events.ListDay(ctx, "alice", "2024-03-11")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.NotNil(t, evs[0].DurationMin)
	assert.Equal(t, 5, *evs[0].DurationMin)

	evs, err = f.tables.Events.ListDay(ctx, "alice", "2024-03-12")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, models.StateIdle, evs[0].State)
	assert.Nil(t, evs[0].DurationMin)
}

func TestSetState_UnknownState(t *testing.T) {
	f := newFixture(t, Options{})
	token := f.login(t, "alice")

	_, err := f.eng.SetState(context.Background(), "alice", token, "Napping", "")
	require.Error(t, err)
	assert.Equal(t, pkgerr.CodeValidation, pkgerr.CodeOf(err))
}

func TestSetState_BadToken(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t, "alice")
	// 另一个设备拿着假 token，会话还新鲜，拒绝
	now := f.clock.Now()
	state := models.StateWorking
	_, _, err := f.proj.Upsert(context.Background(), "alice", projection.Patch{State: &state, Since: &now, LastSeen: &now})
	require.NoError(t, err)

	_, err = f.eng.SetState(context.Background(), "alice", "wrong", models.StateIdle, "")
	require.Error(t, err)
	assert.True(t, pkgerr.IsAuth(err))
}

func TestSetState_LockTimeout(t *testing.T) {
	f := newFixture(t, Options{LockWait: 50 * time.Millisecond})
	ctx := context.Background()
	token := f.login(t, "alice")

	// 占住 alice 的锁再写，必须拿到可重试的并发错误，而不是硬写
	require.NoError(t, f.eng.locks.acquire(ctx, "alice", time.Second))
	defer f.eng.locks.release("alice")

	_, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.Error(t, err)
	assert.True(t, pkgerr.IsConcurrency(err))
}

func TestLogOff(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	token := f.login(t, "alice")

	_, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	_, err = f.eng.LogOff(ctx, "alice", token, "day done")
	require.NoError(t, err)

	row, err := f.proj.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateLoggedOut, row.CurrentState)
	assert.False(t, row.Online)

	// 会话已吊销，token 不再可用
	_, err = f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.Error(t, err)
	assert.True(t, pkgerr.IsAuth(err))
}

func TestForceLogout(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	token := f.login(t, "alice")
	_, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.NoError(t, err)

	// 管理员不需要被踢者的 token，防抖也拦不住
	require.NoError(t, f.eng.ForceLogout(ctx, "alice", "policy violation", "boss"))

	row, err := f.proj.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateLoggedOut, row.CurrentState)
	assert.True(t, f.audit.has("force_logout"))
}

func TestRefreshKPIs_WritesProjectionFields(t *testing.T) {
	f := newFixture(t, Options{
		Work:     stubWork{collab.WorkDay{HandlingMin: 120, StandardMin: 90, OutputCount: 8}},
		Meetings: stubMeetings{min: 30},
	})
	ctx := context.Background()
	token := f.login(t, "alice")

	_, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.NoError(t, err)
	f.clock.Advance(4 * time.Hour)
	f.eng.RefreshKPIs(ctx, "alice")

	row, err := f.proj.Get(ctx, "alice")
	require.NoError(t, err)
	// 在线 240 分钟，可用 = 240 - 30 会议 = 210
	assert.Equal(t, 240, row.LoggedInMin)
	assert.Equal(t, 75, row.EfficiencyPct)             // 90/120
	assert.Equal(t, 57, row.UtilisationPct)            // 120/210
	assert.InDelta(t, 2.29, row.ThroughputHr, 0.00001) // 8 / 3.5h
}

func TestDayView_FullDayScenario(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	token := f.login(t, "alice")

	// 09:00 Working
	base := f.clock.Now()
	_, err := f.eng.SetState(ctx, "alice", token, models.StateWorking, "")
	require.NoError(t, err)
	// 09:30 Idle
	f.clock.Advance(30 * time.Minute)
	_, err = f.eng.SetState(ctx, "alice", token, models.StateIdle, "")
	require.NoError(t, err)
	// 10:45 看门狗登出
	f.clock.Advance(75 * time.Minute)
	require.NoError(t, f.eng.Escalate(ctx, "alice", models.StateLoggedOut, "no heartbeat"))

	snap, stints, err := f.eng.DayView(ctx, "alice", f.today())
	require.NoError(t, err)
	require.Len(t, stints, 2) // 终态事件零长，被丢弃
	assert.Equal(t, models.StateWorking, stints[0].State)
	assert.Equal(t, 30, stints[0].Minutes())
	assert.Equal(t, models.StateIdle, stints[1].State)
	assert.Equal(t, 75, stints[1].Minutes())
	assert.True(t, stints[0].Start.Equal(base))
	assert.Equal(t, 0, snap.HandlingMin) // 没接工单源，全 0 但不报错

	evs, err := f.tables.Events.ListDay(ctx, "alice", f.today())
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, 30, *evs[0].DurationMin)
	assert.Equal(t, 75, *evs[1].DurationMin)
	assert.Equal(t, models.SourceWatchdog, evs[2].Source)
}
