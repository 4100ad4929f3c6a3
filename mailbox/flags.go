package mailbox

import (
	"strings"

	"github.com/bradenaw/juniper/xslices"
	"github.com/emersion/go-imap"
	"golang.org/x/exp/slices"
)

var systemFlags = []string{
	imap.AnsweredFlag,
	imap.DeletedFlag,
	imap.DraftFlag,
	imap.FlaggedFlag,
	imap.RecentFlag,
	imap.SeenFlag,
}

// CanonicalFlag returns the go-imap spelling of a system flag, or the keyword unchanged.
func CanonicalFlag(flag string) string {
	index := xslices.IndexFunc(systemFlags, func(f string) bool {
		return strings.EqualFold(f, flag)
	})
	if index >= 0 {
		return systemFlags[index]
	}
	return flag
}

// Flags is a sorted list of flags without duplicates. Flags are case-insensitive.
type Flags []string

// NewFlags normalizes a list of flags.
func NewFlags(flags ...string) Flags {
	output := make(Flags, 0, len(flags))
	for _, flag := range flags {
		if flag == "" {
			continue
		}
		output = output.Add(flag)
	}
	return output
}

func (f Flags) Has(flag string) bool {
	return xslices.IndexFunc(f, func(item string) bool {
		return strings.EqualFold(item, flag)
	}) >= 0
}

// Add returns a new list including flags.
func (f Flags) Add(flags ...string) Flags {
	output := slices.Clone(f)
	if output == nil {
		output = Flags{}
	}
	for _, flag := range flags {
		if flag == "" || output.Has(flag) {
			continue
		}
		output = append(output, CanonicalFlag(flag))
	}
	slices.SortFunc(output, func(a, b string) bool {
		return strings.ToLower(a) < strings.ToLower(b)
	})
	return output
}

// Remove returns a new list without flags.
func (f Flags) Remove(flags ...string) Flags {
	return xslices.Filter(slices.Clone(f), func(item string) bool {
		return !Flags(flags).Has(item)
	})
}

// Equal compares two lists of flags, case-insensitively.
func (f Flags) Equal(other Flags) bool {
	if len(f) != len(other) {
		return false
	}
	for _, flag := range f {
		if !other.Has(flag) {
			return false
		}
	}
	return true
}

// WithoutRecent returns the list without the \Recent flag, which is not client settable.
func (f Flags) WithoutRecent() Flags {
	return Flags(StripRecentFlag(f))
}

// StripRecentFlag removes \Recent from a raw list of flags.
func StripRecentFlag(source []string) []string {
	output := make([]string, 0, len(source))
	for _, flag := range source {
		if strings.EqualFold(flag, imap.RecentFlag) {
			continue
		}
		output = append(output, flag)
	}
	return output
}

// FlagMode is how SetFlags combines the given flags with the stored ones.
type FlagMode int

const (
	FlagsReplace FlagMode = iota
	FlagsAdd
	FlagsRemove
)

func (m FlagMode) String() string {
	switch m {
	case FlagsAdd:
		return "add"
	case FlagsRemove:
		return "remove"
	default:
		return "replace"
	}
}

// ApplyFlags computes the new flags of a message. \Recent cannot be set or removed by a client:
// it is ignored in flags and kept from current.
func ApplyFlags(current Flags, mode FlagMode, flags Flags) Flags {
	flags = flags.WithoutRecent()
	switch mode {
	case FlagsAdd:
		return current.Add(flags...)
	case FlagsRemove:
		return current.Remove(flags...)
	default:
		result := NewFlags(flags...)
		if current.Has(imap.RecentFlag) {
			result = result.Add(imap.RecentFlag)
		}
		return result
	}
}
