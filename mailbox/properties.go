package mailbox

import "time"

// MessageProperties are the values given by a client when appending a message.
type MessageProperties struct {
	// The message flags.
	Flags []string
	// The date the message was received by the server, now when zero.
	InternalDate time.Time
	// The advertised message size. Zero when unknown.
	Size uint32
}
