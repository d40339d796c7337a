package ports

import (
	"context"
	"time"
)

// Locker grants a per-key mutual exclusion lease. Acquire returns
// domain.ErrLockHeld when another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
