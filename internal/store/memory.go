package store

import (
	"context"
	"sort"
	"sync"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
)

// 内存版三张表，开发和测试用（MEMORY_STORE=1）
// 语义与 gorm 版保持一致：整行读写、返回副本、无事务

// NewMemory 构造一套内存表
func NewMemory() Tables {
	return Tables{
		Events:      &memEvents{latest: map[string]uint{}},
		Projections: &memProjections{rows: map[string]models.LiveProjection{}},
		Sessions:    &memSessions{rows: map[string]models.WorkSession{}},
	}
}

type memEvents struct {
	mu     sync.RWMutex
	rows   []models.StateEvent
	nextID uint
	// (identity|date) -> 最新事件 ID，增量维护，避免每次线性重扫
	latest map[string]uint
}

func dayKey(identity, date string) string { return identity + "|" + date }

func (m *memEvents) Append(ctx context.Context, ev *models.StateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	m.rows = append(m.rows, *ev)
	k := dayKey(ev.Identity, ev.Date)
	// 只有时间不早于当前最新的事件才推进索引
	if cur, ok := m.latest[k]; !ok || !ev.Timestamp.Before(m.rowByID(cur).Timestamp) {
		m.latest[k] = ev.ID
	}
	return nil
}

func (m *memEvents) rowByID(id uint) *models.StateEvent {
	for i := range m.rows {
		if m.rows[i].ID == id {
			return &m.rows[i]
		}
	}
	return nil
}

func (m *memEvents) Update(ctx context.Context, ev *models.StateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == ev.ID {
			m.rows[i] = *ev
			return nil
		}
	}
	return ErrNotFound
}

func (m *memEvents) LatestFor(ctx context.Context, identity, date string) (*models.StateEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.latest[dayKey(identity, date)]
	if !ok {
		return nil, ErrNotFound
	}
	row := m.rowByID(id)
	if row == nil {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memEvents) ListDay(ctx context.Context, identity, date string) ([]models.StateEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StateEvent
	for _, r := range m.rows {
		if r.Identity == identity && r.Date == date {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

type memProjections struct {
	mu   sync.RWMutex
	rows map[string]models.LiveProjection
}

func (m *memProjections) Get(ctx context.Context, identity string) (*models.LiveProjection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[identity]
	if !ok {
		return nil, ErrNotFound
	}
	cp := r
	return &cp, nil
}

func (m *memProjections) Put(ctx context.Context, row *models.LiveProjection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.Identity] = *row
	return nil
}

func (m *memProjections) List(ctx context.Context) ([]models.LiveProjection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.LiveProjection, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

type memSessions struct {
	mu   sync.RWMutex
	rows map[string]models.WorkSession
}

func (m *memSessions) Get(ctx context.Context, identity string) (*models.WorkSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[identity]
	if !ok {
		return nil, ErrNotFound
	}
	cp := r
	return &cp, nil
}

func (m *memSessions) GetByToken(ctx context.Context, token string) (*models.WorkSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rows {
		if r.Token == token {
			cp := r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSessions) Put(ctx context.Context, s *models.WorkSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.Identity] = *s
	return nil
}

func (m *memSessions) Delete(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, identity)
	return nil
}

func (m *memSessions) List(ctx context.Context) ([]models.WorkSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.WorkSession, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}
