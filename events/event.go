// Package events computes the changes of a mailbox and notifies the sessions listening to it.
package events

import (
	"fmt"

	"github.com/creativeprojects/mailstore/mailbox"
)

type Kind int

const (
	Added Kind = iota + 1
	FlagsUpdated
	Expunged
	MailboxRenamed
	MailboxDeleted
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case FlagsUpdated:
		return "flags-updated"
	case Expunged:
		return "expunged"
	case MailboxRenamed:
		return "mailbox-renamed"
	case MailboxDeleted:
		return "mailbox-deleted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a change in a mailbox. Mailbox level events have no UID.
type Event struct {
	Kind Kind
	Path mailbox.Path
	UID  mailbox.UID
	// Flags of the message, for Added and FlagsUpdated
	Flags mailbox.Flags
	// New location of the mailbox, for MailboxRenamed
	NewPath mailbox.Path
	// Session which made the change
	Actor string
}

func (e Event) String() string {
	switch e.Kind {
	case MailboxRenamed:
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Path, e.NewPath)
	case MailboxDeleted:
		return fmt.Sprintf("%s %s", e.Kind, e.Path)
	default:
		return fmt.Sprintf("%s %s uid %d", e.Kind, e.Path, e.UID)
	}
}
