// Package lock provides per-key mutual exclusion for class mutations.
package lock

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// context ended or the configured wait elapsed.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker serializes work per key. The returned unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
