package adapter

import (
	"context"
	"time"
)

// Locker is a best-effort mutual exclusion primitive shared between processes.
// TryLock returns domain.ErrRunInProgress when the key is already held.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
