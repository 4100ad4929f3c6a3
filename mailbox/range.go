package mailbox

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// UID is the unique identifier of a message inside a mailbox.
type UID uint32

// NoBound is the upper end of an open-ended range.
const NoBound UID = 0

// Range is an inclusive range of UIDs or sequence numbers.
type Range struct {
	Low  UID
	High UID
}

// Single returns a range containing only uid.
func Single(uid UID) Range {
	return Range{Low: uid, High: uid}
}

// From returns the open-ended range starting at low.
func From(low UID) Range {
	return Range{Low: low, High: NoBound}
}

// Normalize returns the range with a low bound of at least 1.
// A low bound greater than the high bound makes the range open-ended from low.
func (r Range) Normalize() Range {
	if r.Low == 0 {
		r.Low = 1
	}
	if r.High != NoBound && r.Low > r.High {
		r.High = NoBound
	}
	return r
}

func (r Range) Contains(value UID) bool {
	r = r.Normalize()
	if value < r.Low {
		return false
	}
	return r.High == NoBound || value <= r.High
}

// Bounded returns false for an open-ended range.
func (r Range) Bounded() bool {
	return r.Normalize().High != NoBound
}

func (r Range) String() string {
	r = r.Normalize()
	if r.High == NoBound {
		return fmt.Sprintf("%d:*", r.Low)
	}
	if r.Low == r.High {
		return fmt.Sprintf("%d", r.Low)
	}
	return fmt.Sprintf("%d:%d", r.Low, r.High)
}

// RangeSet is a union of ranges. A nil RangeSet stands for every message.
type RangeSet []Range

// Contains reports whether any of the ranges contains value.
// An empty (but non-nil) set contains nothing.
func (s RangeSet) Contains(value UID) bool {
	if s == nil {
		return true
	}
	for _, r := range s {
		if r.Contains(value) {
			return true
		}
	}
	return false
}

// Span returns the smallest range covering the set.
func (s RangeSet) Span() Range {
	if len(s) == 0 {
		return From(1)
	}
	span := s[0].Normalize()
	for _, r := range s[1:] {
		r = r.Normalize()
		if r.Low < span.Low {
			span.Low = r.Low
		}
		if span.High != NoBound && (r.High == NoBound || r.High > span.High) {
			span.High = r.High
		}
	}
	return span
}

func (s RangeSet) String() string {
	if s == nil {
		return "1:*"
	}
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// ParseRangeSet parses an IMAP sequence set like "1,3:5,10:*".
// A lone "*" is resolved to last.
func ParseRangeSet(set string, last UID) (RangeSet, error) {
	seqSet, err := imap.ParseSeqSet(set)
	if err != nil {
		return nil, err
	}
	return RangeSetFromSeqSet(seqSet, last), nil
}

// RangeSetFromSeqSet converts a go-imap sequence set. "*" as a low bound is resolved to last.
func RangeSetFromSeqSet(seqSet *imap.SeqSet, last UID) RangeSet {
	if seqSet == nil {
		return nil
	}
	set := make(RangeSet, 0, len(seqSet.Set))
	for _, seq := range seqSet.Set {
		low := UID(seq.Start)
		if low == 0 {
			low = last
		}
		high := UID(seq.Stop)
		if seq.Start == 0 && seq.Stop == 0 {
			high = last
		}
		if low == 0 {
			// "*" in an empty mailbox
			continue
		}
		set = append(set, Range{Low: low, High: high})
	}
	return set
}

// UIDSet is a set of UIDs. The zero value is not usable, use NewUIDSet.
type UIDSet map[UID]struct{}

func NewUIDSet(uids ...UID) UIDSet {
	set := make(UIDSet, len(uids))
	for _, uid := range uids {
		set[uid] = struct{}{}
	}
	return set
}

func (s UIDSet) Has(uid UID) bool {
	_, ok := s[uid]
	return ok
}

func (s UIDSet) Add(uid UID) {
	s[uid] = struct{}{}
}

func (s UIDSet) Remove(uid UID) {
	delete(s, uid)
}

// Sorted returns the UIDs in ascending order.
func (s UIDSet) Sorted() []UID {
	uids := maps.Keys(s)
	slices.Sort(uids)
	return uids
}

func (s UIDSet) Clone() UIDSet {
	return maps.Clone(s)
}

// SortUIDs sorts uids in place, in ascending order.
func SortUIDs(uids []UID) {
	slices.Sort(uids)
}
