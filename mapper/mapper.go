// Package mapper wraps units of work into the transactions of a storage backend.
package mapper

import (
	"context"
	"fmt"

	"github.com/creativeprojects/mailstore/lib"
)

// Capability is the level of transaction support of a backend.
type Capability int

const (
	// None: the backend writes immediately, there is nothing to begin, commit or roll back.
	None Capability = iota
	// BestEffort: changes are flushed on commit, but cannot be rolled back.
	// A failure in the middle of a unit of work can leave partial changes.
	BestEffort
	// Full: real transactions.
	Full
)

func (c Capability) String() string {
	switch c {
	case None:
		return "none"
	case BestEffort:
		return "best-effort"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Tx is a transaction started by a Primitive.
type Tx interface {
	Commit() error
	Rollback() error
}

// Primitive is the native transaction support of a backend.
type Primitive interface {
	Capability() Capability
	// Begin starts a transaction. The returned context carries it:
	// every backend call made with that context runs inside the transaction.
	Begin(ctx context.Context) (context.Context, Tx, error)
}

// TxError is returned when a unit of work failed and the rollback failed too.
// It unwraps to the error of the unit of work.
type TxError struct {
	Err         error
	RollbackErr error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s (rollback: %s)", e.Err, e.RollbackErr)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

type scopeKey struct{}

// Mapper runs units of work inside a transaction of one backend.
type Mapper struct {
	primitive  Primitive
	capability Capability
	logger     lib.Logger
}

func New(primitive Primitive) (*Mapper, error) {
	return NewWithLogger(primitive, nil)
}

func NewWithLogger(primitive Primitive, logger lib.Logger) (*Mapper, error) {
	if primitive == nil {
		return nil, fmt.Errorf("missing transaction primitive")
	}
	capability := primitive.Capability()
	if capability < None || capability > Full {
		return nil, fmt.Errorf("unknown transaction %s", capability)
	}
	return &Mapper{
		primitive:  primitive,
		capability: capability,
		logger:     lib.OrNoLog(logger),
	}, nil
}

func (m *Mapper) Capability() Capability {
	return m.capability
}

// InScope reports whether ctx is already inside a unit of work of this mapper.
func (m *Mapper) InScope(ctx context.Context) bool {
	scope, ok := ctx.Value(scopeKey{}).(*Mapper)
	return ok && scope == m
}

// Execute runs fn inside a transaction. When ctx is already inside a unit of work
// of the same mapper, fn joins it and the outer unit of work commits.
// On error or panic the transaction is rolled back and the original error (or panic) is propagated.
func (m *Mapper) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if m.InScope(ctx) {
		return fn(ctx)
	}
	if m.capability == None {
		return fn(context.WithValue(ctx, scopeKey{}, m))
	}

	txCtx, tx, err := m.primitive.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	txCtx = context.WithValue(txCtx, scopeKey{}, m)

	defer func() {
		if r := recover(); r != nil {
			if rbErr := m.rollback(tx); rbErr != nil {
				m.logger.Printf("rollback after panic: %s", rbErr)
			}
			panic(r)
		}
	}()

	if err = fn(txCtx); err != nil {
		if rbErr := m.rollback(tx); rbErr != nil {
			m.logger.Printf("rollback after %q: %s", err, rbErr)
			return &TxError{Err: err, RollbackErr: rbErr}
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (m *Mapper) rollback(tx Tx) error {
	err := tx.Rollback()
	if m.capability == BestEffort && err == nil {
		return lib.ErrRollbackUnsupported
	}
	return err
}

// Run is Execute for a unit of work returning a value.
func Run[T any](ctx context.Context, m *Mapper, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := m.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// NoTx is the transaction of a backend that only flushes on commit.
type NoTx struct {
	CommitFunc   func() error
	RollbackFunc func() error
}

func (t NoTx) Commit() error {
	if t.CommitFunc == nil {
		return nil
	}
	return t.CommitFunc()
}

func (t NoTx) Rollback() error {
	if t.RollbackFunc == nil {
		return nil
	}
	return t.RollbackFunc()
}
