package worker

import (
	"context"
	"time"

	"github.com/v0gel/mason/internal/lock"
)

const (
	callAcquire = "Acquire"
	callRelease = "Release"
)

var _ lock.Locker = (*SpyLocker)(nil)

type SpyLocker struct {
	AcquireErr error

	Calls []string
	Keys  []string
}

func (l *SpyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	l.Calls = append(l.Calls, callAcquire)
	l.Keys = append(l.Keys, key)
	return l.AcquireErr
}

func (l *SpyLocker) Release(ctx context.Context, key string) error {
	l.Calls = append(l.Calls, callRelease)
	l.Keys = append(l.Keys, key)
	return nil
}
