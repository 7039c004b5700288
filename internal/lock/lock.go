// Package lock provides keyed mutual exclusion with a bounded wait.
//
// Every mutation of an exam session runs inside one of these locks. The wait
// bound keeps callers from queueing forever behind a stuck writer; when it is
// exceeded Acquire returns ErrTimeout and the caller decides whether to retry.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the lock could not be obtained within the wait bound.
var ErrTimeout = errors.New("lock wait exceeded")

// Locker acquires exclusive access to a key. The returned release func is safe
// to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Options tunes lock behaviour.
type Options struct {
	// Wait bounds how long Acquire blocks before returning ErrTimeout.
	Wait time.Duration
	// TTL is the lease length for distributed locks; a crashed holder frees the key after TTL.
	TTL time.Duration
	// RetryInterval is the polling interval for distributed locks.
	RetryInterval time.Duration
}

// DefaultOptions mirrors the config defaults.
var DefaultOptions = Options{
	Wait:          2 * time.Second,
	TTL:           5 * time.Second,
	RetryInterval: 25 * time.Millisecond,
}

func (o Options) withDefaults() Options {
	if o.Wait <= 0 {
		o.Wait = DefaultOptions.Wait
	}
	if o.TTL <= 0 {
		o.TTL = DefaultOptions.TTL
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultOptions.RetryInterval
	}
	return o
}
