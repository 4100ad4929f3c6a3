package events

import "sync"

// SessionListener forwards the events of a mailbox to a session.
// When silent, the flag changes made by the session itself are not forwarded:
// the session already knows the result of its own STORE.
type SessionListener struct {
	session string
	silent  bool
	handler func(Event) error

	mu     sync.Mutex
	closed bool
	queue  []Event
}

// NewSessionListener creates a listener for session. Without handler, events are queued until Drain.
func NewSessionListener(session string, silent bool, handler func(Event) error) *SessionListener {
	return &SessionListener{
		session: session,
		silent:  silent,
		handler: handler,
	}
}

func (l *SessionListener) Event(event Event) error {
	l.mu.Lock()
	if l.closed || (l.silent && event.Kind == FlagsUpdated && event.Actor == l.session) {
		l.mu.Unlock()
		return nil
	}
	if l.handler == nil {
		l.queue = append(l.queue, event)
		l.mu.Unlock()
		return nil
	}
	handler := l.handler
	l.mu.Unlock()
	return handler(event)
}

// SetSilent changes the echo suppression of the session's own flag changes.
func (l *SessionListener) SetSilent(silent bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.silent = silent
}

// Drain returns and forgets the queued events.
func (l *SessionListener) Drain() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.queue
	l.queue = nil
	return queue
}

func (l *SessionListener) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close is idempotent.
func (l *SessionListener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.queue = nil
}
