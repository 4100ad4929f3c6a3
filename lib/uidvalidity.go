package lib

import (
	"fmt"
	"sync/atomic"
	"time"
)

// UidValidityGenerator gives the UIDVALIDITY of a new mailbox.
type UidValidityGenerator interface {
	Generate() (uint32, error)
}

// EpochUidValidity generates values from the number of seconds elapsed since an epoch,
// bumping the value when two mailboxes are created during the same second.
type EpochUidValidity struct {
	epochStart time.Time
	last       uint32
}

func NewEpochUidValidity(epochStart time.Time) *EpochUidValidity {
	return &EpochUidValidity{
		epochStart: epochStart,
	}
}

func DefaultUidValidity() *EpochUidValidity {
	return NewEpochUidValidity(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (e *EpochUidValidity) Generate() (uint32, error) {
	var elapsed uint64
	if since := time.Since(e.epochStart); since > 0 {
		elapsed = uint64(since.Seconds())
	}
	if elapsed > uint64(0xFFFFFFFF) {
		return 0, fmt.Errorf("cannot generate uid validity: interval exceeded maximum capacity")
	}
	value := uint32(elapsed)
	if value == 0 {
		value = 1
	}

	for {
		last := atomic.LoadUint32(&e.last)
		if last >= value {
			if value == 0xFFFFFFFF {
				return 0, fmt.Errorf("cannot generate uid validity: interval exceeded maximum capacity")
			}
			value++
			continue
		}
		if !atomic.CompareAndSwapUint32(&e.last, last, value) {
			continue
		}
		return value, nil
	}
}

// IncrementalUidValidity returns 1, 2, 3... mostly useful in tests.
type IncrementalUidValidity struct {
	counter uint32
}

func (i *IncrementalUidValidity) Generate() (uint32, error) {
	return atomic.AddUint32(&i.counter, 1), nil
}
