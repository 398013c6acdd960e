package session

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/collab"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
	pkgerr "github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/err"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/logger"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/projection"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/store"
)

func newManager(t *testing.T) (*Manager, *projection.Store, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC))
	tables := store.NewMemory()
	log := logger.Init("test")
	proj := projection.New(tables.Projections, clock, 5*time.Minute, 5*time.Minute, log)
	m := New(tables.Sessions, proj, clock, 5*time.Minute, collab.NoopAudit{}, log)
	return m, proj, clock
}

func TestIssueAndValidate(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, m.Validate(ctx, "alice", token))
}

func TestValidate_NoSession(t *testing.T) {
	m, _, _ := newManager(t)
	err := m.Validate(context.Background(), "nobody", "some-token")
	require.Error(t, err)
	assert.True(t, pkgerr.IsAuth(err))
}

func TestValidate_ConcurrentSessionRejected(t *testing.T) {
	m, proj, clock := newManager(t)
	ctx := context.Background()

	_, err := m.Issue(ctx, "alice")
	require.NoError(t, err)
	// 旧会话还新鲜（刚有 last_seen），别的设备不许接管
	now := clock.Now()
	state := models.StateWorking
	_, _, err = proj.Upsert(ctx, "alice", projection.Patch{State: &state, Since: &now, LastSeen: &now})
	require.NoError(t, err)

	err = m.Validate(ctx, "alice", "other-device-token")
	require.Error(t, err)
	assert.True(t, pkgerr.IsAuth(err))
	assert.Contains(t, err.Error(), "elsewhere")
}

func TestValidate_AdoptsStaleSession(t *testing.T) {
	m, proj, clock := newManager(t)
	ctx := context.Background()

	oldToken, err := m.Issue(ctx, "alice")
	require.NoError(t, err)
	now := clock.Now()
	state := models.StateWorking
	_, _, err = proj.Upsert(ctx, "alice", projection.Patch{State: &state, Since: &now, LastSeen: &now})
	require.NoError(t, err)

	// 超过新鲜窗口没动静，新 token 接管并成为权威
	clock.Advance(6 * time.Minute)
	require.NoError(t, m.Validate(ctx, "alice", "new-device-token"))
	require.NoError(t, m.Validate(ctx, "alice", "new-device-token"))

	// 旧 token 从此失效
	err = m.Validate(ctx, "alice", oldToken)
	require.Error(t, err)
	assert.True(t, pkgerr.IsAuth(err))
}

func TestValidate_AdoptsLoggedOutSessionImmediately(t *testing.T) {
	m, proj, clock := newManager(t)
	ctx := context.Background()

	_, err := m.Issue(ctx, "alice")
	require.NoError(t, err)
	now := clock.Now()
	state := models.StateLoggedOut
	_, _, err = proj.Upsert(ctx, "alice", projection.Patch{State: &state, Since: &now, LastSeen: &now, Force: true})
	require.NoError(t, err)

	// 已登出的会话不用等窗口，直接接管
	require.NoError(t, m.Validate(ctx, "alice", "fresh-login-token"))
}

func TestSessionTokenMirroredInProjection(t *testing.T) {
	m, proj, clock := newManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "alice")
	require.NoError(t, err)
	row, err := proj.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, token, row.SessionToken)

	// 接管后投影跟着换成新 token
	now := clock.Now()
	state := models.StateWorking
	_, _, err = proj.Upsert(ctx, "alice", projection.Patch{State: &state, Since: &now, LastSeen: &now})
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)
	require.NoError(t, m.Validate(ctx, "alice", "new-device-token"))
	row, err = proj.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "new-device-token", row.SessionToken)

	// 吊销后清空
	require.NoError(t, m.Revoke(ctx, "alice", "test"))
	row, err = proj.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "", row.SessionToken)
}

func TestHeartbeat(t *testing.T) {
	m, _, clock := newManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "alice")
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	identity, err := m.Heartbeat(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)

	// 幂等：连着跳两次没副作用
	identity, err = m.Heartbeat(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)

	sessions, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].LastHeartbeatAt.Equal(clock.Now()))
}

func TestHeartbeat_UnknownToken(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Heartbeat(context.Background(), "bogus")
	require.Error(t, err)
	assert.True(t, pkgerr.IsAuth(err))
}

func TestRevoke(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, "alice", "test"))

	err = m.Validate(ctx, "alice", token)
	require.Error(t, err)
	assert.True(t, pkgerr.IsAuth(err))

	_, err = m.Heartbeat(ctx, token)
	require.Error(t, err)
}
