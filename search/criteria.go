package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/creativeprojects/mailstore/mailbox"
)

// Criterion is a node of a search query. The evaluator only knows the types of this package:
// any other implementation is reported as an unsupported search.
type Criterion interface {
	String() string
}

// All matches every message.
type All struct{}

// And matches when every child matches. An empty And matches every message.
type And []Criterion

// Or matches when any child matches. An empty Or matches nothing.
type Or []Criterion

// Not inverts its child.
type Not struct {
	Criterion Criterion
}

// UID matches messages whose UID is inside the set.
type UID struct {
	Set mailbox.RangeSet
}

// Seq matches messages whose sequence number is inside the set.
type Seq struct {
	Set mailbox.RangeSet
}

// Flag matches messages that have (Set) or don't have the flag.
// \Recent is taken from the caller's recent set.
type Flag struct {
	Name string
	Set  bool
}

// HeaderContains matches when any header field named Name contains Value (case-insensitive).
type HeaderContains struct {
	Name  string
	Value string
}

// HeaderExists matches when the message has at least one header field named Name.
type HeaderExists struct {
	Name string
}

type DateOp int

const (
	DateBefore DateOp = iota
	DateOn
	DateSince
)

// Date compares a date to Day, at day granularity.
// Header is the name of a header field containing a date (like "Date"), or empty for the internal date.
type Date struct {
	Header string
	Op     DateOp
	Day    time.Time
}

type SizeOp int

const (
	SizeLess SizeOp = iota
	SizeGreater
	SizeEqual
)

// Size compares the full size of the message in octets.
type Size struct {
	Op    SizeOp
	Value uint32
}

// BodyContains matches when the body contains Value (case-insensitive).
type BodyContains struct {
	Value string
}

// TextContains matches when a header field or the body contains Value (case-insensitive).
type TextContains struct {
	Value string
}

func (All) String() string { return "ALL" }

func (c And) String() string {
	return "(" + join(c, " ") + ")"
}

func (c Or) String() string {
	return "OR(" + join(c, " ") + ")"
}

func (c Not) String() string {
	if c.Criterion == nil {
		return "NOT()"
	}
	return "NOT " + c.Criterion.String()
}

func (c UID) String() string { return "UID " + c.Set.String() }

func (c Seq) String() string { return c.Set.String() }

func (c Flag) String() string {
	if c.Set {
		return "KEYWORD " + c.Name
	}
	return "UNKEYWORD " + c.Name
}

func (c HeaderContains) String() string {
	return fmt.Sprintf("HEADER %s %q", c.Name, c.Value)
}

func (c HeaderExists) String() string {
	return fmt.Sprintf("HEADER %s", c.Name)
}

func (c Date) String() string {
	prefix := ""
	if c.Header != "" {
		prefix = "HEADER-" + strings.ToUpper(c.Header) + "-"
	}
	op := "BEFORE"
	switch c.Op {
	case DateOn:
		op = "ON"
	case DateSince:
		op = "SINCE"
	}
	return prefix + op + " " + c.Day.Format("2-Jan-2006")
}

func (c Size) String() string {
	switch c.Op {
	case SizeGreater:
		return fmt.Sprintf("LARGER %d", c.Value)
	case SizeEqual:
		return fmt.Sprintf("SIZE %d", c.Value)
	default:
		return fmt.Sprintf("SMALLER %d", c.Value)
	}
}

func (c BodyContains) String() string { return fmt.Sprintf("BODY %q", c.Value) }

func (c TextContains) String() string { return fmt.Sprintf("TEXT %q", c.Value) }

func join(criteria []Criterion, separator string) string {
	parts := make([]string, 0, len(criteria))
	for _, c := range criteria {
		if c == nil {
			parts = append(parts, "nil")
			continue
		}
		parts = append(parts, c.String())
	}
	return strings.Join(parts, separator)
}
