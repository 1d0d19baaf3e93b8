package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyLocked is returned by Acquire when the key is currently held.
var ErrAlreadyLocked = errors.New("already locked")

const (
	// ProcessingTTL bounds one job execution. A crashed worker leaks its lock
	// for up to this long before another worker may take the key.
	ProcessingTTL = 30 * time.Minute
	// DedupTTL is the short window the delegator uses to drop duplicate
	// command signals.
	DedupTTL = 3 * time.Minute
)

// Locker provides atomic, TTL-bounded mutual exclusion keyed by strings.
// Acquire fails fast with ErrAlreadyLocked; there is no queueing of waiters.
// Release is best effort, a failed release is recovered by TTL expiry.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ProcessingKey is the lock key guarding one job execution.
func ProcessingKey(tube, identifier string) string {
	return fmt.Sprintf("%s_%s_processing", tube, identifier)
}

// QueuedKey is the dedup lock key guarding one enqueue.
func QueuedKey(tube, identifier string) string {
	return fmt.Sprintf("%s_%s_queued", tube, identifier)
}
