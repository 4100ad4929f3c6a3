package mem

import (
	"slices"

	"github.com/creativeprojects/mailstore/mailbox"
)

type memMessage struct {
	meta    mailbox.Message
	content []byte
}

type memMailbox struct {
	path     mailbox.Path
	state    mailbox.State
	messages map[mailbox.UID]*memMessage
}

func newMailbox(path mailbox.Path, uidValidity uint32) *memMailbox {
	return &memMailbox{
		path:     path.Canonical(),
		state:    mailbox.State{UidValidity: uidValidity},
		messages: make(map[mailbox.UID]*memMessage),
	}
}

func (m *memMailbox) sortedUids() []mailbox.UID {
	uids := make([]mailbox.UID, 0, len(m.messages))
	for uid := range m.messages {
		uids = append(uids, uid)
	}
	mailbox.SortUIDs(uids)
	return uids
}

// message returns a copy of the stored message, the caller can modify it
func (m *memMessage) message(options mailbox.FetchOptions) *mailbox.Message {
	msg := m.meta
	msg.Flags = slices.Clone(m.meta.Flags)
	if options.Headers {
		msg.Headers = slices.Clone(m.meta.Headers)
	} else {
		msg.Headers = nil
	}
	if options.Body {
		msg.Body = slices.Clone(m.content)
	}
	return &msg
}
