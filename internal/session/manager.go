package session

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/collab"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
	pkgerr "github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/err"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/logger"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/projection"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/store"
)

// 会话管理：签发/校验/轮换/吊销 token
// 每个 identity 同一时刻只有一个权威 token；新客户端只有在旧会话
// 已失活（LoggedOut 或超过新鲜窗口没心跳）时才允许接管

type Manager struct {
	sessions  store.SessionTable
	proj      *projection.Store
	clock     quartz.Clock
	freshness time.Duration
	audit     collab.AuditSink
	log       *logger.Logger
}

func New(sessions store.SessionTable, proj *projection.Store, clock quartz.Clock, freshness time.Duration, audit collab.AuditSink, log *logger.Logger) *Manager {
	return &Manager{
		sessions:  sessions,
		proj:      proj,
		clock:     clock,
		freshness: freshness,
		audit:     audit,
		log:       log.Named("session"),
	}
}

// Issue 登录时签发新 token（覆盖旧会话行）
func (m *Manager) Issue(ctx context.Context, identity string) (string, error) {
	now := m.clock.Now()
	token := uuid.NewString()
	s := &models.WorkSession{
		Identity:        identity,
		Token:           token,
		IssuedAt:        now,
		LastHeartbeatAt: now,
	}
	if err := m.sessions.Put(ctx, s); err != nil {
		return "", err
	}
	m.mirrorToken(ctx, identity, token)
	m.audit.Record(ctx, "login", identity, identity, "session issued", now)
	return token, nil
}

// Validate 校验 token 是否仍是该 identity 的权威会话
// token 不一致时检查旧会话是否已失活：失活则接管（新 token 成为权威），
// 否则报"已在别处登录"
func (m *Manager) Validate(ctx context.Context, identity, token string) error {
	if token == "" {
		return pkgerr.Auth("missing session token, please re-authenticate")
	}
	cur, err := m.sessions.Get(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return pkgerr.Auth("session expired, please re-authenticate")
	}
	if err != nil {
		return err
	}
	if cur.Token == token {
		return nil
	}
	if m.stale(ctx, identity, cur) {
		// 旧会话失活，新 token 接管
		now := m.clock.Now()
		cur.Token = token
		cur.IssuedAt = now
		cur.LastHeartbeatAt = now
		if err := m.sessions.Put(ctx, cur); err != nil {
			return err
		}
		m.mirrorToken(ctx, identity, token)
		m.log.Info("session adopted", "identity", identity)
		m.audit.Record(ctx, "adopt", identity, identity, "stale session taken over", now)
		return nil
	}
	return pkgerr.Auth("already active elsewhere")
}

// Heartbeat 幂等续命：把 last_heartbeat_at 推到当前时刻
// 投影刷新和 KPI 重算由调用方尽力而为地跟进，这里只管会话行
func (m *Manager) Heartbeat(ctx context.Context, token string) (string, error) {
	s, err := m.sessions.GetByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", pkgerr.Auth("unknown session token, please re-authenticate")
	}
	if err != nil {
		return "", err
	}
	s.LastHeartbeatAt = m.clock.Now()
	if err := m.sessions.Put(ctx, s); err != nil {
		return "", err
	}
	return s.Identity, nil
}

// Resolve 由 token 查 identity（不续命）
func (m *Manager) Resolve(ctx context.Context, token string) (string, error) {
	s, err := m.sessions.GetByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", pkgerr.Auth("unknown session token, please re-authenticate")
	}
	if err != nil {
		return "", err
	}
	return s.Identity, nil
}

// Revoke 吊销会话并把投影 token 清掉
func (m *Manager) Revoke(ctx context.Context, identity, reason string) error {
	if err := m.sessions.Delete(ctx, identity); err != nil {
		return err
	}
	empty := ""
	if _, _, err := m.proj.Upsert(ctx, identity, projection.Patch{SessionToken: &empty}); err != nil {
		// 投影没清掉不影响吊销本身，记一笔
		m.log.Error("clear projection token failed", "identity", identity, "error", err)
	}
	m.audit.Record(ctx, "revoke", identity, identity, reason, m.clock.Now())
	return nil
}

// mirrorToken 把权威 token 同步到投影行（运维排查用），失败只记日志
func (m *Manager) mirrorToken(ctx context.Context, identity, token string) {
	if _, _, err := m.proj.Upsert(ctx, identity, projection.Patch{SessionToken: &token}); err != nil {
		m.log.Error("projection token write failed", "identity", identity, "error", err)
	}
}

// List 活跃会话（看门狗巡检用）
func (m *Manager) List(ctx context.Context) ([]models.WorkSession, error) {
	return m.sessions.List(ctx)
}

// stale 判定旧会话是否可被接管：已登出，或超过新鲜窗口没动静
func (m *Manager) stale(ctx context.Context, identity string, cur *models.WorkSession) bool {
	now := m.clock.Now()
	row, err := m.proj.Get(ctx, identity)
	if err != nil {
		m.log.Error("projection read failed during staleness check", "identity", identity, "error", err)
		// 读不到投影就只看心跳
		return now.Sub(cur.LastHeartbeatAt) > m.freshness
	}
	if row.CurrentState == models.StateLoggedOut {
		return true
	}
	last := row.LastSeen
	if cur.LastHeartbeatAt.After(last) {
		last = cur.LastHeartbeatAt
	}
	return now.Sub(last) > m.freshness
}
