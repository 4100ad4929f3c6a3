package lock

import "context"

// Chain takes the in-process lock first, then the locks shared with other processes.
// The cross-process lockers are only used for exclusive locks.
type Chain struct {
	local  Locker
	shared []Locker
}

func NewChain(local Locker, shared ...Locker) *Chain {
	return &Chain{
		local:  local,
		shared: shared,
	}
}

func (c *Chain) Acquire(ctx context.Context, resource string, mode Mode) (Release, error) {
	releaseLocal, err := c.local.Acquire(ctx, resource, mode)
	if err != nil {
		return nil, err
	}
	if mode != Exclusive || len(c.shared) == 0 {
		return releaseLocal, nil
	}

	releases := make([]Release, 0, len(c.shared)+1)
	releases = append(releases, releaseLocal)
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, locker := range c.shared {
		release, err := locker.Acquire(ctx, resource, mode)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
