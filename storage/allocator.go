package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/mapper"
)

var errAllocationInTransaction = errors.New("uid allocation cannot join a running transaction")

// UidAllocator hands out the UIDs of new messages.
type UidAllocator struct {
	watermarks UidWatermarkStore
	mapper     *mapper.Mapper
	locker     lock.Locker
	timeout    time.Duration
	metrics    *instrumentation

	mu sync.Mutex
	// last UID handed out for each mailbox
	issued map[string]mailbox.UID
}

func newUidAllocator(watermarks UidWatermarkStore, m *mapper.Mapper, locker lock.Locker, timeout time.Duration, metrics *instrumentation) *UidAllocator {
	return &UidAllocator{
		watermarks: watermarks,
		mapper:     m,
		locker:     locker,
		timeout:    timeout,
		metrics:    metrics,
		issued:     make(map[string]mailbox.UID),
	}
}

// ReserveNextUid returns a UID greater than any UID returned before for the mailbox.
// The new watermark is committed before returning: a message failing to be stored afterwards leaves a gap,
// the UID is never given twice. It cannot run inside a transaction, which could roll the watermark back.
func (a *UidAllocator) ReserveNextUid(ctx context.Context, path mailbox.Path) (mailbox.UID, error) {
	if a.mapper.InScope(ctx) {
		return 0, errAllocationInTransaction
	}
	key := path.Key()
	return lock.WithLock(ctx, a.locker, key, lock.Exclusive, a.timeout, func(ctx context.Context) (mailbox.UID, error) {
		uid, err := mapper.Run(ctx, a.mapper, func(ctx context.Context) (mailbox.UID, error) {
			return a.watermarks.IncrementLastUid(ctx, path)
		})
		if err != nil {
			return 0, fmt.Errorf("cannot increment uid of mailbox %q: %w", path, err)
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if last, ok := a.issued[key]; ok && uid <= last {
			return 0, fmt.Errorf("mailbox %q returned uid %d after %d: %w", path, uid, last, lib.ErrUidRegression)
		}
		a.issued[key] = uid
		a.metrics.recordAllocation(ctx)
		return uid, nil
	})
}

// forget is called when a mailbox is deleted: a new mailbox with the same name starts from scratch
func (a *UidAllocator) forget(path mailbox.Path) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.issued, path.Key())
}

func (a *UidAllocator) rename(from, to mailbox.Path) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.issued[from.Key()]; ok {
		a.issued[to.Key()] = last
	}
	delete(a.issued, from.Key())
}
