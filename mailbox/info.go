package mailbox

import (
	"strings"

	"github.com/creativeprojects/mailstore/lib"
)

// Path is the logical location of a mailbox.
type Path struct {
	Namespace string
	User      string
	// The mailbox name, hierarchy levels separated by Delimiter.
	Name string
	// The caller's path separator.
	Delimiter string
}

// NewPath returns the path of a mailbox in the default namespace.
func NewPath(user, name string) Path {
	return Path{User: user, Name: name, Delimiter: lib.CanonicalDelimiter}
}

// Canonical returns the path with its name converted to the canonical delimiter.
func (p Path) Canonical() Path {
	return Path{
		Namespace: p.Namespace,
		User:      p.User,
		Name:      lib.VerifyDelimiter(p.Name, p.Delimiter, lib.CanonicalDelimiter),
		Delimiter: lib.CanonicalDelimiter,
	}
}

// ChangeDelimiter returns the same path using a different hierarchy delimiter.
func (p Path) ChangeDelimiter(delimiter string) Path {
	return Path{
		Namespace: p.Namespace,
		User:      p.User,
		Name:      lib.VerifyDelimiter(p.Name, p.Delimiter, delimiter),
		Delimiter: delimiter,
	}
}

// Key is a storage key that does not depend on the delimiter used by the caller.
func (p Path) Key() string {
	c := p.Canonical()
	return strings.Join([]string{c.Namespace, c.User, c.Name}, "/")
}

func (p Path) String() string {
	if p.User == "" && p.Namespace == "" {
		return p.Name
	}
	return p.Key()
}

// Info describes a mailbox in a listing.
type Info struct {
	Path  Path
	State State
}
