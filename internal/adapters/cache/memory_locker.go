package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/affiliate-ledger/internal/domain"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is the single-process fallback when Redis is not configured.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	nowFn  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: map[string]lease{}, nowFn: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if held, ok := l.leases[key]; ok && now.Before(held.expiresAt) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
		return nil
	}, nil
}
