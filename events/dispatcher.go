package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
)

// Listener receives the events of the mailboxes it is registered to.
// A closed listener receives no more events and is removed from the dispatcher.
type Listener interface {
	Event(event Event) error
	IsClosed() bool
}

type registration struct {
	listener Listener
}

// Dispatcher delivers events to the listeners registered for a mailbox.
// Delivery is synchronous and in no particular order; a failing listener doesn't prevent delivery to the others.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[string][]*registration
	logger    lib.Logger
}

func NewDispatcher() *Dispatcher {
	return NewDispatcherWithLogger(nil)
}

func NewDispatcherWithLogger(logger lib.Logger) *Dispatcher {
	return &Dispatcher{
		listeners: make(map[string][]*registration),
		logger:    lib.OrNoLog(logger),
	}
}

// Register adds a listener to a mailbox. The returned function removes it.
func (d *Dispatcher) Register(path mailbox.Path, listener Listener) func() {
	entry := &registration{listener: listener}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[path.Key()] = append(d.listeners[path.Key()], entry)

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for key, entries := range d.listeners {
			d.setEntries(key, remove(entries, func(e *registration) bool { return e == entry }))
		}
	}
}

// Count returns the number of listeners of a mailbox which are not closed.
func (d *Dispatcher) Count(path mailbox.Path) int {
	return len(d.snapshot(path.Key()))
}

// Dispatch delivers the events. Registrations follow a renamed mailbox and are dropped with a deleted one.
// The errors returned by the listeners are logged and returned together.
func (d *Dispatcher) Dispatch(events ...Event) error {
	var errs []error
	for _, event := range events {
		for _, entry := range d.snapshot(event.Path.Key()) {
			if err := d.deliver(entry.listener, event); err != nil {
				d.logger.Printf("listener failed on event %s: %s", event, err)
				errs = append(errs, err)
			}
		}
		switch event.Kind {
		case MailboxRenamed:
			d.move(event.Path.Key(), event.NewPath.Key())
		case MailboxDeleted:
			d.drop(event.Path.Key())
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(listener Listener, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	if listener.IsClosed() {
		return nil
	}
	return listener.Event(event)
}

// snapshot prunes the closed listeners and returns the others
func (d *Dispatcher) snapshot(key string) []*registration {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := remove(d.listeners[key], func(e *registration) bool {
		return isClosed(e.listener)
	})
	d.setEntries(key, entries)
	return entries
}

func (d *Dispatcher) move(from, to string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if from == to {
		return
	}
	entries := d.listeners[from]
	delete(d.listeners, from)
	d.setEntries(to, append(d.listeners[to], entries...))
}

func (d *Dispatcher) drop(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, key)
}

func (d *Dispatcher) setEntries(key string, entries []*registration) {
	if len(entries) == 0 {
		delete(d.listeners, key)
		return
	}
	d.listeners[key] = entries
}

func isClosed(listener Listener) (closed bool) {
	defer func() {
		if r := recover(); r != nil {
			closed = true
		}
	}()
	return listener.IsClosed()
}

// remove returns a new slice without the entries matching fn
func remove(entries []*registration, fn func(*registration) bool) []*registration {
	output := make([]*registration, 0, len(entries))
	for _, entry := range entries {
		if !fn(entry) {
			output = append(output, entry)
		}
	}
	return output
}
