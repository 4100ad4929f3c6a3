package mailbox

// State is the persisted state of a mailbox.
type State struct {
	// Together with a UID, it is a unique identifier for a message.
	// Fixed at creation. Must be greater than or equal to 1.
	UidValidity uint32
	// Highest UID ever assigned in the mailbox (the watermark).
	LastUid UID
}

// UidNext is the UID the next appended message will receive at the earliest.
func (s State) UidNext() UID {
	return s.LastUid + 1
}

// FetchGroup selects the optional part of a metadata snapshot.
type FetchGroup int

const (
	FetchNone FetchGroup = iota
	FetchUnseenCount
	FetchFirstUnseen
)

// Metadata is a snapshot of a mailbox.
type Metadata struct {
	UidValidity  uint32
	UidNext      UID
	MessageCount uint32
	// UIDs flagged \Recent at the time of the snapshot.
	Recent UIDSet
	// Only set with FetchUnseenCount.
	UnseenCount *uint32
	// Only set with FetchFirstUnseen, nil when every message is seen.
	FirstUnseen *UID
}
