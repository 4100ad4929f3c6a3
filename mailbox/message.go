package mailbox

import (
	"strings"
	"time"
)

// Header is one header field of a message, in the order it appears.
type Header struct {
	Name  string
	Value string
	// Zero based position of the field in the header block.
	Position int
}

type Message struct {
	// The message unique identifier.
	UID UID
	// The message sequence number, zero when unknown.
	SeqNum uint32
	// The date the message was received by the server.
	InternalDate time.Time
	// The exact size of the full message, in octets.
	Size uint32
	// The message flags.
	Flags Flags
	// The header fields, only loaded when requested.
	Headers []Header
	// The "type/subtype" of the message content.
	MediaType string
	// The message body, only loaded when requested.
	Body []byte
}

// HeaderValues returns the values of all the header fields named name (case-insensitive).
func (m *Message) HeaderValues(name string) []string {
	values := make([]string, 0, 1)
	for _, header := range m.Headers {
		if strings.EqualFold(header.Name, name) {
			values = append(values, header.Value)
		}
	}
	return values
}

// FetchOptions tells an enumeration which parts of the messages to load.
type FetchOptions struct {
	Headers bool
	Body    bool
}
