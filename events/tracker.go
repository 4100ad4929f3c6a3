package events

import (
	"sync"

	"github.com/creativeprojects/mailstore/mailbox"
)

// Tracker keeps the last known state of a mailbox: the highest UID seen and the flags of each message.
type Tracker struct {
	mu      sync.Mutex
	path    mailbox.Path
	lastUid mailbox.UID
	flags   map[mailbox.UID]mailbox.Flags
}

// NewTracker starts tracking a mailbox from its current watermark: messages at or below
// lastUid are existing messages and will never be reported as added.
func NewTracker(path mailbox.Path, lastUid mailbox.UID) *Tracker {
	return &Tracker{
		path:    path,
		lastUid: lastUid,
		flags:   make(map[mailbox.UID]mailbox.Flags),
	}
}

// LastUid is the highest UID seen by the tracker.
func (t *Tracker) LastUid() mailbox.UID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUid
}

// Known returns the cached flags of a message.
func (t *Tracker) Known(uid mailbox.UID) (mailbox.Flags, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	flags, ok := t.flags[uid]
	return flags, ok
}

// Reconcile compares the state observed for the UIDs inside the observed range (nil meaning the whole mailbox)
// with the cached state, and returns the changes:
//   - Added for a UID above the watermark, which then moves up to that UID
//   - FlagsUpdated for a cached UID with different flags (\Recent is ignored)
//   - Expunged for a cached UID inside the observed range but no longer in observed.
//
// The first observation of an existing UID only fills the cache.
func (t *Tracker) Reconcile(observedRange mailbox.RangeSet, observed map[mailbox.UID]mailbox.Flags, actor string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	uids := make([]mailbox.UID, 0, len(observed))
	for uid := range observed {
		uids = append(uids, uid)
	}
	mailbox.SortUIDs(uids)

	var added, updated, expunged []Event
	for _, uid := range uids {
		flags := observed[uid]
		cached, known := t.flags[uid]
		t.flags[uid] = flags

		switch {
		case uid > t.lastUid:
			t.lastUid = uid
			added = append(added, t.event(Added, uid, flags, actor))
		case known && !cached.WithoutRecent().Equal(flags.WithoutRecent()):
			updated = append(updated, t.event(FlagsUpdated, uid, flags, actor))
		}
	}

	gone := make([]mailbox.UID, 0)
	for uid := range t.flags {
		if _, ok := observed[uid]; ok {
			continue
		}
		if observedRange.Contains(uid) {
			gone = append(gone, uid)
		}
	}
	mailbox.SortUIDs(gone)
	for _, uid := range gone {
		delete(t.flags, uid)
		expunged = append(expunged, t.event(Expunged, uid, nil, actor))
	}

	result := make([]Event, 0, len(added)+len(updated)+len(expunged))
	result = append(result, expunged...)
	result = append(result, added...)
	return append(result, updated...)
}

// Rename moves the tracker to a new mailbox path.
func (t *Tracker) Rename(path mailbox.Path) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.path = path
}

func (t *Tracker) event(kind Kind, uid mailbox.UID, flags mailbox.Flags, actor string) Event {
	return Event{
		Kind:  kind,
		Path:  t.path,
		UID:   uid,
		Flags: flags,
		Actor: actor,
	}
}

// Trackers holds one tracker per mailbox.
type Trackers struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewTrackers() *Trackers {
	return &Trackers{
		trackers: make(map[string]*Tracker),
	}
}

// Get returns the tracker of a mailbox, creating it from the watermark returned by lastUid when needed.
func (t *Trackers) Get(path mailbox.Path, lastUid func() (mailbox.UID, error)) (*Tracker, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tracker, ok := t.trackers[path.Key()]; ok {
		return tracker, nil
	}
	watermark, err := lastUid()
	if err != nil {
		return nil, err
	}
	tracker := NewTracker(path, watermark)
	t.trackers[path.Key()] = tracker
	return tracker, nil
}

// Rename moves the tracker of a mailbox.
func (t *Trackers) Rename(from, to mailbox.Path) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracker, ok := t.trackers[from.Key()]
	if !ok {
		return
	}
	delete(t.trackers, from.Key())
	tracker.Rename(to)
	t.trackers[to.Key()] = tracker
}

// Delete forgets about a mailbox.
func (t *Trackers) Delete(path mailbox.Path) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.trackers, path.Key())
}
