// Package lock provides the mailbox locks: shared for readers, exclusive for writers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creativeprojects/mailstore/lib"
)

type Mode int

const (
	Shared Mode = iota + 1
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Release gives a lock back. It must be called exactly once.
type Release func()

// Locker acquires a lock on a resource, waiting until the context is done.
// A deadline reached while waiting is reported as lib.ErrLockTimeout.
type Locker interface {
	Acquire(ctx context.Context, resource string, mode Mode) (Release, error)
}

type heldKey struct{}

type held struct {
	resource string
	mode     Mode
	parent   *held
}

// Held returns the mode of the lock on resource held by ctx, or zero.
func Held(ctx context.Context, resource string) Mode {
	current, _ := ctx.Value(heldKey{}).(*held)
	var mode Mode
	for ; current != nil; current = current.parent {
		if current.resource == resource && current.mode > mode {
			mode = current.mode
		}
	}
	return mode
}

func withHeld(ctx context.Context, resource string, mode Mode) context.Context {
	parent, _ := ctx.Value(heldKey{}).(*held)
	return context.WithValue(ctx, heldKey{}, &held{resource: resource, mode: mode, parent: parent})
}

// WithLock runs fn while holding the lock on resource. Waiting for the lock is bounded by timeout (no bound when zero).
// A context already holding the lock in the same or a stronger mode runs fn straight away;
// upgrading a shared lock to an exclusive one is refused with lib.ErrLockUpgrade.
func WithLock[T any](ctx context.Context, locker Locker, resource string, mode Mode, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	switch current := Held(ctx, resource); {
	case current >= mode:
		return fn(ctx)
	case current == Shared:
		return zero, fmt.Errorf("%w: %s", lib.ErrLockUpgrade, resource)
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	release, err := locker.Acquire(waitCtx, resource, mode)
	if err != nil {
		return zero, err
	}
	defer release()

	return fn(withHeld(ctx, resource, mode))
}

// Do is WithLock for a function returning only an error.
func Do(ctx context.Context, locker Locker, resource string, mode Mode, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := WithLock(ctx, locker, resource, mode, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// waitError converts the error of a context done while waiting for a lock.
func waitError(ctx context.Context, resource string) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s", lib.ErrLockTimeout, resource)
}

func noRelease() {}
