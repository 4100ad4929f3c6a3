package storage

import (
	"context"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/mapper"
)

// MailboxManager creates and removes mailboxes.
type MailboxManager interface {
	// CreateMailbox returns lib.ErrMailboxExists if the mailbox already exists.
	CreateMailbox(ctx context.Context, path mailbox.Path, uidValidity uint32) error
	// DeleteMailbox deletes the mailbox and all its messages.
	DeleteMailbox(ctx context.Context, path mailbox.Path) error
	// RenameMailbox keeps the UIDVALIDITY, the watermark and the messages.
	RenameMailbox(ctx context.Context, from, to mailbox.Path) error
	ListMailboxes(ctx context.Context) ([]mailbox.Info, error)
	// MailboxState returns lib.ErrMailboxNotFound if the mailbox doesn't exist.
	MailboxState(ctx context.Context, path mailbox.Path) (mailbox.State, error)
}

// UidWatermarkStore keeps the highest UID ever allocated in a mailbox.
type UidWatermarkStore interface {
	// IncrementLastUid reads, increments and stores the watermark in one step, and returns the new value.
	// The watermark must not change if the new value cannot be stored.
	IncrementLastUid(ctx context.Context, path mailbox.Path) (mailbox.UID, error)
}

// MessageEnumerator lists the messages of a mailbox.
type MessageEnumerator interface {
	// Messages returns the messages with a UID inside ranges (all of them when nil), sorted by UID.
	// The headers and the body are only loaded when asked in options.
	Messages(ctx context.Context, path mailbox.Path, ranges mailbox.RangeSet, options mailbox.FetchOptions) ([]*mailbox.Message, error)
}

// MessageWriter modifies the messages of a mailbox.
type MessageWriter interface {
	// PutMessage stores a message with an already allocated UID.
	PutMessage(ctx context.Context, path mailbox.Path, msg *mailbox.Message, body []byte) error
	// UpdateFlags replaces the flags of the messages. An unknown UID is lib.ErrMessageNotFound.
	UpdateFlags(ctx context.Context, path mailbox.Path, flags map[mailbox.UID]mailbox.Flags) error
	// DeleteMessages removes messages. Unknown UIDs are ignored.
	DeleteMessages(ctx context.Context, path mailbox.Path, uids []mailbox.UID) error
	// MessageBody returns the full content of a message.
	MessageBody(ctx context.Context, path mailbox.Path, uid mailbox.UID) ([]byte, error)
}

// Backend is a storage adapter.
type Backend interface {
	MailboxManager
	UidWatermarkStore
	MessageEnumerator
	MessageWriter
	mapper.Primitive
	// Close the backend
	Close() error
}

// LockProvider is implemented by a backend bringing its own lock shared with other processes.
type LockProvider interface {
	Locker(logger lib.Logger) lock.Locker
}

// Importer is implemented by a backend receiving messages from outside of the store.
// Import indexes them with the UIDs returned by reserve and returns them, with their header projection.
type Importer interface {
	Import(ctx context.Context, path mailbox.Path, reserve func(ctx context.Context) (mailbox.UID, error)) ([]*mailbox.Message, error)
}

// DebugLogger is implemented by a backend accepting a logger.
type DebugLogger interface {
	DebugLogger(logger lib.Logger)
}
