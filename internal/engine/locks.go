package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	pkgerr "github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/err"
)

// 按 identity 的互斥锁，带超时等待
// 拿不到锁就快速失败返回可重试错误，绝不无限挂起，也绝不无锁硬写

type keyedLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{sems: map[string]*semaphore.Weighted{}}
}

func (k *keyedLocks) sem(key string) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		k.sems[key] = s
	}
	return s
}

// acquire 最多等 wait，超时返回 ConcurrencyError
func (k *keyedLocks) acquire(ctx context.Context, key string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := k.sem(key).Acquire(ctx, 1); err != nil {
		return pkgerr.Concurrency("state write busy, please retry")
	}
	return nil
}

func (k *keyedLocks) release(key string) {
	k.sem(key).Release(1)
}
