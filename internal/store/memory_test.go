package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
)

func mkEvent(identity, date, state string, ts time.Time) *models.StateEvent {
	return &models.StateEvent{Identity: identity, Date: date, State: state, Timestamp: ts}
}

func TestMemEvents_LatestIndex(t *testing.T) {
	tables := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

	_, err := tables.Events.LatestFor(ctx, "alice", "2024-03-11")
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, tables.Events.Append(ctx, mkEvent("alice", "2024-03-11", models.StateWorking, base)))
	require.NoError(t, tables.Events.Append(ctx, mkEvent("alice", "2024-03-11", models.StateIdle, base.Add(30*time.Minute))))
	// 迟到的乱序事件不把索引往回拉
	require.NoError(t, tables.Events.Append(ctx, mkEvent("alice", "2024-03-11", models.StateBreak, base.Add(10*time.Minute))))

	latest, err := tables.Events.LatestFor(ctx, "alice", "2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, latest.State)

	// 按 (identity, date) 隔离
	require.NoError(t, tables.Events.Append(ctx, mkEvent("bob", "2024-03-11", models.StateMeeting, base)))
	require.NoError(t, tables.Events.Append(ctx, mkEvent("alice", "2024-03-12", models.StateWorking, base.AddDate(0, 0, 1))))
	latest, err = tables.Events.LatestFor(ctx, "alice", "2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, models.StateIdle, latest.State)
}

func TestMemEvents_UpdateClosesInterval(t *testing.T) {
	tables := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

	ev := mkEvent("alice", "2024-03-11", models.StateWorking, base)
	require.NoError(t, tables.Events.Append(ctx, ev))
	require.NotZero(t, ev.ID)

	min := 30
	ev.DurationMin = &min
	require.NoError(t, tables.Events.Update(ctx, ev))

	got, err := tables.Events.LatestFor(ctx, "alice", "2024-03-11")
	require.NoError(t, err)
	require.NotNil(t, got.DurationMin)
	assert.Equal(t, 30, *got.DurationMin)

	err = tables.Events.Update(ctx, &models.StateEvent{ID: 404})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemEvents_ListDaySorted(t *testing.T) {
	tables := NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

	require.NoError(t, tables.Events.Append(ctx, mkEvent("alice", "2024-03-11", models.StateIdle, base.Add(time.Hour))))
	require.NoError(t, tables.Events.Append(ctx, mkEvent("alice", "2024-03-11", models.StateWorking, base)))
	require.NoError(t, tables.Events.Append(ctx, mkEvent("bob", "2024-03-11", models.StateMeeting, base)))

	evs, err := tables.Events.ListDay(ctx, "alice", "2024-03-11")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, models.StateWorking, evs[0].State)
	assert.Equal(t, models.StateIdle, evs[1].State)
}

func TestMemSessions_TokenLookupAndDelete(t *testing.T) {
	tables := NewMemory()
	ctx := context.Background()

	require.NoError(t, tables.Sessions.Put(ctx, &models.WorkSession{Identity: "alice", Token: "tok-1"}))
	s, err := tables.Sessions.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Identity)

	// 同 identity 重复 Put 是整行覆盖，旧 token 查不到
	require.NoError(t, tables.Sessions.Put(ctx, &models.WorkSession{Identity: "alice", Token: "tok-2"}))
	_, err = tables.Sessions.GetByToken(ctx, "tok-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, tables.Sessions.Delete(ctx, "alice"))
	_, err = tables.Sessions.Get(ctx, "alice")
	assert.True(t, errors.Is(err, ErrNotFound))
}
