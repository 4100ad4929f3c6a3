package storage

import (
	"context"
	"sync"

	"github.com/creativeprojects/mailstore/events"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/google/uuid"
)

// Session is the state of one client connection: the selected mailbox and the messages it sees as recent.
// A nil session can be used for operations made outside of any connection.
type Session struct {
	id    string
	store *Store

	mu         sync.Mutex
	closed     bool
	silent     bool
	selected   *mailbox.Path
	recent     mailbox.UIDSet
	listener   *events.SessionListener
	unregister func()
	handler    func(events.Event) error
}

// OpenSession starts a new session. The events of the selected mailbox are sent to handler,
// or queued until Events is called when handler is nil.
func (s *Store) OpenSession(handler func(events.Event) error) *Session {
	return &Session{
		id:      uuid.NewString(),
		store:   s,
		recent:  mailbox.NewUIDSet(),
		handler: handler,
	}
}

// WithSession runs fn with a new session, closed afterwards.
func WithSession(ctx context.Context, store *Store, fn func(ctx context.Context, session *Session) error) error {
	session := store.OpenSession(nil)
	defer session.Close()
	return fn(ctx, session)
}

func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Selected returns the selected mailbox, if any.
func (s *Session) Selected() (mailbox.Path, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return mailbox.Path{}, false
	}
	return *s.selected, true
}

// Recent returns the messages of the selected mailbox which are recent for this session.
func (s *Session) Recent() mailbox.UIDSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent.Clone()
}

// Events returns the events queued since the last call. Always empty when the session has a handler.
func (s *Session) Events() []events.Event {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil
	}
	return listener.Drain()
}

// SetSilent stops (or resumes) the notification of the flag changes made by this session.
func (s *Session) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
	if s.listener != nil {
		s.listener.SetSilent(silent)
	}
}

// Close unregisters the session from its mailbox. Closing twice is fine.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.release()
	s.selected = nil
	s.recent = mailbox.NewUIDSet()
}

// check is called at the start of every operation
func (s *Session) check() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lib.ErrSessionClosed
	}
	return nil
}

// recentFor returns the recent set when path is the selected mailbox
func (s *Session) recentFor(path mailbox.Path) mailbox.UIDSet {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil || s.selected.Key() != path.Key() {
		return nil
	}
	return s.recent.Clone()
}

// isSelected reports whether path is the mailbox selected by the session
func (s *Session) isSelected(path mailbox.Path) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected != nil && s.selected.Key() == path.Key()
}

// claimRecent gives the session the messages it added to its selected mailbox.
// Their \Recent flag is not stored: no other session will see them as recent.
func (s *Session) claimRecent(path mailbox.Path, uids ...mailbox.UID) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil || s.selected.Key() != path.Key() {
		return
	}
	for _, uid := range uids {
		s.recent.Add(uid)
	}
}

func (s *Session) selectMailbox(path mailbox.Path, recent mailbox.UIDSet) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lib.ErrSessionClosed
	}
	s.release()
	s.selected = &path
	s.recent = recent.Clone()
	s.listener = events.NewSessionListener(s.id, s.silent, s.handler)
	s.unregister = s.store.dispatcher.Register(path, s.listener)
	return nil
}

// release must be called with the mutex held
func (s *Session) release() {
	if s.unregister != nil {
		s.unregister()
		s.unregister = nil
	}
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
}
