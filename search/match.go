package search

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-imap"
)

// Matches evaluates the criterion against a message. The \Recent state of the message
// comes from recent only (nil meaning no recent message).
func Matches(c Criterion, msg *mailbox.Message, recent mailbox.UIDSet) (bool, error) {
	switch c := c.(type) {
	case All:
		return true, nil

	case And:
		for _, child := range c {
			ok, err := Matches(child, msg, recent)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case Or:
		for _, child := range c {
			ok, err := Matches(child, msg, recent)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case Not:
		ok, err := Matches(c.Criterion, msg, recent)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case UID:
		return c.Set.Contains(msg.UID), nil

	case Seq:
		if msg.SeqNum == 0 {
			return false, nil
		}
		return c.Set.Contains(mailbox.UID(msg.SeqNum)), nil

	case Flag:
		return matchFlag(c, msg, recent) == c.Set, nil

	case HeaderContains:
		for _, value := range msg.HeaderValues(c.Name) {
			if matchString(value, c.Value) {
				return true, nil
			}
		}
		return false, nil

	case HeaderExists:
		return len(msg.HeaderValues(c.Name)) > 0, nil

	case Date:
		if c.Op < DateBefore || c.Op > DateSince {
			return false, fmt.Errorf("date comparison %d: %w", c.Op, lib.ErrUnsupportedSearch)
		}
		return matchDate(c, msg), nil

	case Size:
		switch c.Op {
		case SizeLess:
			return msg.Size < c.Value, nil
		case SizeGreater:
			return msg.Size > c.Value, nil
		case SizeEqual:
			return msg.Size == c.Value, nil
		}
		return false, fmt.Errorf("size comparison %d: %w", c.Op, lib.ErrUnsupportedSearch)

	case BodyContains:
		return matchBytes(msg.Body, c.Value), nil

	case TextContains:
		for _, header := range msg.Headers {
			if matchString(header.Value, c.Value) {
				return true, nil
			}
		}
		return matchBytes(msg.Body, c.Value), nil

	case nil:
		return false, fmt.Errorf("nil criterion: %w", lib.ErrUnsupportedSearch)

	default:
		return false, fmt.Errorf("%T: %w", c, lib.ErrUnsupportedSearch)
	}
}

func matchFlag(c Flag, msg *mailbox.Message, recent mailbox.UIDSet) bool {
	if strings.EqualFold(c.Name, imap.RecentFlag) {
		return recent.Has(msg.UID)
	}
	return msg.Flags.Has(c.Name)
}

func matchDate(c Date, msg *mailbox.Message) bool {
	if c.Header == "" {
		return compareDay(c, msg.InternalDate)
	}
	// any instance of the header can match
	for _, value := range msg.HeaderValues(c.Header) {
		date, err := mail.ParseDate(value)
		if err != nil {
			continue
		}
		if compareDay(c, date) {
			return true
		}
	}
	return false
}

func compareDay(c Date, date time.Time) bool {
	if date.IsZero() {
		return false
	}
	day := toDay(date)
	target := toDay(c.Day)
	switch c.Op {
	case DateBefore:
		return day.Before(target)
	case DateOn:
		return day.Equal(target)
	case DateSince:
		return !day.Before(target)
	}
	return false
}

// toDay drops the time of day and the timezone
func toDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func matchString(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func matchBytes(b []byte, substr string) bool {
	return bytes.Contains(bytes.ToLower(b), []byte(strings.ToLower(substr)))
}
