package lib

import (
	"errors"
	"fmt"
)

var (
	ErrMailboxNotFound     = errors.New("mailbox not found")
	ErrMailboxExists       = errors.New("mailbox already exists")
	ErrMessageNotFound     = errors.New("message not found")
	ErrStatusNotFound      = errors.New("mailbox status not found")
	ErrLockTimeout         = errors.New("timeout waiting for mailbox lock")
	ErrLockUpgrade         = errors.New("cannot upgrade a shared mailbox lock to exclusive")
	ErrUnsupportedSearch   = errors.New("unsupported search criterion")
	ErrRollbackUnsupported = errors.New("rollback is not supported by this backend")
	ErrUidRegression       = errors.New("uid watermark did not advance")
	ErrSizeMismatch        = errors.New("message size mismatch")
	ErrMessageTooLarge     = errors.New("message too large")
	ErrSessionClosed       = errors.New("session is closed")
)

// Kind is the stable classification of a failure crossing the store boundary.
type Kind int

const (
	// KindStorage is an underlying read or write failure.
	KindStorage Kind = iota
	// KindTransient is a lock or contention failure: nothing was changed and the operation can be retried.
	KindTransient
	// KindNotFound means the mailbox or message vanished.
	KindNotFound
	// KindUnsupportedSearch means a search criterion cannot be evaluated.
	KindUnsupportedSearch
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not-found"
	case KindUnsupportedSearch:
		return "unsupported-search"
	default:
		return "storage"
	}
}

// Error is a classified failure returned by every store operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err and wraps it with the name of the operation.
// A nil error stays nil, and an error already classified keeps its kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		if classified.Op == op {
			return err
		}
		return &Error{Kind: classified.Kind, Op: op, Err: err}
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrLockTimeout), errors.Is(err, ErrLockUpgrade):
		return KindTransient
	case errors.Is(err, ErrMailboxNotFound), errors.Is(err, ErrMessageNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnsupportedSearch):
		return KindUnsupportedSearch
	default:
		return KindStorage
	}
}
