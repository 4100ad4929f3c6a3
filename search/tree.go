package search

import (
	"fmt"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
)

// walk calls fn on every node of the tree, stopping at the first error.
func walk(c Criterion, fn func(Criterion) error) error {
	if err := fn(c); err != nil {
		return err
	}
	var children []Criterion
	switch c := c.(type) {
	case And:
		children = c
	case Or:
		children = c
	case Not:
		children = []Criterion{c.Criterion}
	}
	for _, child := range children {
		if err := walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Validate returns an unsupported search error if the tree contains a criterion
// the evaluator doesn't know.
func Validate(c Criterion) error {
	return walk(c, func(node Criterion) error {
		switch node := node.(type) {
		case All, And, Or, Not, UID, Seq, Flag, HeaderContains, HeaderExists, BodyContains, TextContains:
			return nil
		case Date:
			if node.Op < DateBefore || node.Op > DateSince {
				return fmt.Errorf("date comparison %d: %w", node.Op, lib.ErrUnsupportedSearch)
			}
			return nil
		case Size:
			if node.Op < SizeLess || node.Op > SizeEqual {
				return fmt.Errorf("size comparison %d: %w", node.Op, lib.ErrUnsupportedSearch)
			}
			return nil
		case nil:
			return fmt.Errorf("nil criterion: %w", lib.ErrUnsupportedSearch)
		default:
			return fmt.Errorf("%T: %w", node, lib.ErrUnsupportedSearch)
		}
	})
}

// UIDOnly returns the UID ranges when the query is made of a single UID criterion.
// The storage can then restrict the enumeration to these ranges.
func UIDOnly(c Criterion) (mailbox.RangeSet, bool) {
	switch c := c.(type) {
	case UID:
		return c.Set, c.Set != nil
	case And:
		if len(c) == 1 {
			return UIDOnly(c[0])
		}
	}
	return nil, false
}

// NeedsHeaders reports whether the evaluation reads the header fields.
func NeedsHeaders(c Criterion) bool {
	found := false
	_ = walk(c, func(node Criterion) error {
		switch node := node.(type) {
		case HeaderContains, HeaderExists, TextContains:
			found = true
		case Date:
			if node.Header != "" {
				found = true
			}
		}
		return nil
	})
	return found
}

// NeedsBody reports whether the evaluation reads the message body.
func NeedsBody(c Criterion) bool {
	found := false
	_ = walk(c, func(node Criterion) error {
		switch node.(type) {
		case BodyContains, TextContains:
			found = true
		}
		return nil
	})
	return found
}

// Options returns the parts of the messages to load for evaluating c.
func Options(c Criterion) mailbox.FetchOptions {
	return mailbox.FetchOptions{
		Headers: NeedsHeaders(c),
		Body:    NeedsBody(c),
	}
}
