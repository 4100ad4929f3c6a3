package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/creativeprojects/mailstore/events"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/mapper"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const DefaultLockTimeout = 5 * time.Second

type options struct {
	logger         lib.Logger
	lockTimeout    time.Duration
	lockers        []lock.Locker
	uidValidity    lib.UidValidityGenerator
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

type Option func(*options)

func WithLogger(logger lib.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLockTimeout bounds the time waiting for a mailbox lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = timeout
	}
}

// WithLocker adds a lock shared with other processes, taken by the writers.
func WithLocker(locker lock.Locker) Option {
	return func(o *options) {
		o.lockers = append(o.lockers, locker)
	}
}

func WithUidValidity(generator lib.UidValidityGenerator) Option {
	return func(o *options) {
		o.uidValidity = generator
	}
}

func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = provider
	}
}

func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = provider
	}
}

// Store implements the mailbox operations on top of a backend.
type Store struct {
	backend     Backend
	mapper      *mapper.Mapper
	locker      lock.Locker
	allocator   *UidAllocator
	trackers    *events.Trackers
	dispatcher  *events.Dispatcher
	uidValidity lib.UidValidityGenerator
	lockTimeout time.Duration
	metrics     *instrumentation
	logger      lib.Logger
}

func NewStore(backend Backend, opts ...Option) (*Store, error) {
	o := &options{
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if backend == nil {
		return nil, errors.New("missing storage backend")
	}
	logger := lib.OrNoLog(o.logger)
	if o.uidValidity == nil {
		o.uidValidity = lib.DefaultUidValidity()
	}

	m, err := mapper.NewWithLogger(backend, lib.NewPrefixLogger(logger, "mapper"))
	if err != nil {
		return nil, err
	}
	metrics, err := newInstrumentation(o.tracerProvider, o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("cannot create instrumentation: %w", err)
	}

	shared := make([]lock.Locker, 0, len(o.lockers)+1)
	if provider, ok := backend.(LockProvider); ok {
		shared = append(shared, provider.Locker(lib.NewPrefixLogger(logger, "lock")))
	}
	shared = append(shared, o.lockers...)
	locker := lock.NewChain(lock.NewLocal(), shared...)

	store := &Store{
		backend:     backend,
		mapper:      m,
		locker:      locker,
		allocator:   newUidAllocator(backend, m, locker, o.lockTimeout, metrics),
		trackers:    events.NewTrackers(),
		dispatcher:  events.NewDispatcherWithLogger(lib.NewPrefixLogger(logger, "events")),
		uidValidity: o.uidValidity,
		lockTimeout: o.lockTimeout,
		metrics:     metrics,
		logger:      logger,
	}
	logger.Printf("store opened with %s transactions", m.Capability())
	return store, nil
}

// Allocator gives access to the UID allocator of the store.
func (s *Store) Allocator() *UidAllocator {
	return s.allocator
}

// Dispatcher gives access to the listeners registry, to register listeners outside of a session.
func (s *Store) Dispatcher() *events.Dispatcher {
	return s.dispatcher
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// run instruments an operation and classifies its error
func (s *Store) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, end := s.metrics.start(ctx, op)
	err := lib.Wrap(op, fn(ctx))
	end(err)
	return err
}

func (s *Store) exclusive(ctx context.Context, path mailbox.Path, fn func(ctx context.Context) error) error {
	return lock.Do(ctx, s.locker, path.Key(), lock.Exclusive, s.lockTimeout, fn)
}

func (s *Store) shared(ctx context.Context, path mailbox.Path, fn func(ctx context.Context) error) error {
	return lock.Do(ctx, s.locker, path.Key(), lock.Shared, s.lockTimeout, fn)
}

func (s *Store) tracker(ctx context.Context, path mailbox.Path) (*events.Tracker, error) {
	return s.trackers.Get(path.Canonical(), func() (mailbox.UID, error) {
		state, err := s.backend.MailboxState(ctx, path)
		if err != nil {
			return 0, err
		}
		return state.LastUid, nil
	})
}

// reconcile feeds the tracker with an observed state and dispatches the resulting events
func (s *Store) reconcile(ctx context.Context, tracker *events.Tracker, observedRange mailbox.RangeSet, messages []*mailbox.Message, actor string) {
	s.reconcileFlags(ctx, tracker, observedRange, flagsOf(messages), actor)
}

func (s *Store) reconcileFlags(ctx context.Context, tracker *events.Tracker, observedRange mailbox.RangeSet, observed map[mailbox.UID]mailbox.Flags, actor string) {
	changes := tracker.Reconcile(observedRange, observed, actor)
	s.dispatch(ctx, changes...)
}

func (s *Store) dispatch(ctx context.Context, changes ...events.Event) {
	if len(changes) == 0 {
		return
	}
	s.metrics.recordEvents(ctx, len(changes))
	// listener failures are logged by the dispatcher and never fail the operation
	_ = s.dispatcher.Dispatch(changes...)
}

func flagsOf(messages []*mailbox.Message) map[mailbox.UID]mailbox.Flags {
	flags := make(map[mailbox.UID]mailbox.Flags, len(messages))
	for _, msg := range messages {
		flags[msg.UID] = msg.Flags
	}
	return flags
}

// singles returns the set made of each UID
func singles(uids []mailbox.UID) mailbox.RangeSet {
	set := make(mailbox.RangeSet, len(uids))
	for i, uid := range uids {
		set[i] = mailbox.Single(uid)
	}
	return set
}

func actorOf(session *Session) string {
	if session == nil {
		return ""
	}
	return session.id
}

// CreateMailbox creates an empty mailbox with a new UIDVALIDITY.
func (s *Store) CreateMailbox(ctx context.Context, session *Session, path mailbox.Path) error {
	return s.run(ctx, "create-mailbox", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		uidValidity, err := s.uidValidity.Generate()
		if err != nil {
			return err
		}
		return s.exclusive(ctx, path, func(ctx context.Context) error {
			return s.mapper.Execute(ctx, func(ctx context.Context) error {
				return s.backend.CreateMailbox(ctx, path, uidValidity)
			})
		})
	})
}

// DeleteMailbox deletes a mailbox with all its messages.
func (s *Store) DeleteMailbox(ctx context.Context, session *Session, path mailbox.Path) error {
	return s.run(ctx, "delete-mailbox", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		return s.exclusive(ctx, path, func(ctx context.Context) error {
			err := s.mapper.Execute(ctx, func(ctx context.Context) error {
				return s.backend.DeleteMailbox(ctx, path)
			})
			if err != nil {
				return err
			}
			s.trackers.Delete(path.Canonical())
			s.allocator.forget(path)
			s.dispatch(ctx, events.Event{
				Kind:  events.MailboxDeleted,
				Path:  path.Canonical(),
				Actor: actorOf(session),
			})
			return nil
		})
	})
}

// RenameMailbox moves a mailbox with its messages, keeping its UIDVALIDITY.
func (s *Store) RenameMailbox(ctx context.Context, session *Session, from, to mailbox.Path) error {
	return s.run(ctx, "rename-mailbox", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		// always lock in the same order
		paths := []mailbox.Path{from, to}
		sort.Slice(paths, func(i, j int) bool { return paths[i].Key() < paths[j].Key() })
		return s.exclusive(ctx, paths[0], func(ctx context.Context) error {
			return s.exclusive(ctx, paths[1], func(ctx context.Context) error {
				err := s.mapper.Execute(ctx, func(ctx context.Context) error {
					return s.backend.RenameMailbox(ctx, from, to)
				})
				if err != nil {
					return err
				}
				s.trackers.Rename(from.Canonical(), to.Canonical())
				s.allocator.rename(from, to)
				s.dispatch(ctx, events.Event{
					Kind:    events.MailboxRenamed,
					Path:    from.Canonical(),
					NewPath: to.Canonical(),
					Actor:   actorOf(session),
				})
				return nil
			})
		})
	})
}

// ListMailboxes returns the mailboxes sorted by name.
func (s *Store) ListMailboxes(ctx context.Context) ([]mailbox.Info, error) {
	var list []mailbox.Info
	err := s.run(ctx, "list-mailboxes", func(ctx context.Context) error {
		var err error
		list, err = s.backend.ListMailboxes(ctx)
		if err != nil {
			return err
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Path.Key() < list[j].Path.Key() })
		return nil
	})
	return list, err
}
