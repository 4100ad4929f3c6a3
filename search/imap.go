package search

import (
	"sort"

	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-imap"
)

// Limits are used to resolve "*" in the sequence sets of a query.
type Limits struct {
	LastUID mailbox.UID
	// Number of messages in the mailbox.
	LastSeq uint32
}

// FromCriteria converts the search criteria parsed by go-imap into a query.
func FromCriteria(c *imap.SearchCriteria, limits Limits) Criterion {
	if c == nil {
		return All{}
	}
	query := And{}
	if c.SeqNum != nil {
		query = append(query, Seq{Set: mailbox.RangeSetFromSeqSet(c.SeqNum, mailbox.UID(limits.LastSeq))})
	}
	if c.Uid != nil {
		query = append(query, UID{Set: mailbox.RangeSetFromSeqSet(c.Uid, limits.LastUID)})
	}
	if !c.Since.IsZero() {
		query = append(query, Date{Op: DateSince, Day: c.Since})
	}
	if !c.Before.IsZero() {
		query = append(query, Date{Op: DateBefore, Day: c.Before})
	}
	if !c.SentSince.IsZero() {
		query = append(query, Date{Header: "Date", Op: DateSince, Day: c.SentSince})
	}
	if !c.SentBefore.IsZero() {
		query = append(query, Date{Header: "Date", Op: DateBefore, Day: c.SentBefore})
	}

	names := make([]string, 0, len(c.Header))
	for name := range c.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range c.Header[name] {
			if value == "" {
				query = append(query, HeaderExists{Name: name})
				continue
			}
			query = append(query, HeaderContains{Name: name, Value: value})
		}
	}

	for _, value := range c.Body {
		query = append(query, BodyContains{Value: value})
	}
	for _, value := range c.Text {
		query = append(query, TextContains{Value: value})
	}
	for _, flag := range c.WithFlags {
		query = append(query, Flag{Name: flag, Set: true})
	}
	for _, flag := range c.WithoutFlags {
		query = append(query, Flag{Name: flag, Set: false})
	}
	if c.Larger > 0 {
		query = append(query, Size{Op: SizeGreater, Value: c.Larger})
	}
	if c.Smaller > 0 {
		query = append(query, Size{Op: SizeLess, Value: c.Smaller})
	}
	for _, not := range c.Not {
		query = append(query, Not{Criterion: FromCriteria(not, limits)})
	}
	for _, or := range c.Or {
		query = append(query, Or{FromCriteria(or[0], limits), FromCriteria(or[1], limits)})
	}

	if len(query) == 1 {
		return query[0]
	}
	return query
}
