package search

import (
	"errors"
	"testing"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage() *mailbox.Message {
	return &mailbox.Message{
		UID:          10,
		SeqNum:       3,
		InternalDate: time.Date(2021, 3, 14, 23, 30, 0, 0, time.UTC),
		Size:         1729,
		Flags:        mailbox.NewFlags(imap.SeenFlag, "$Important", imap.RecentFlag),
		Headers: []mailbox.Header{
			{Name: "From", Value: "Alice <alice@example.com>", Position: 0},
			{Name: "Subject", Value: "Hello World", Position: 1},
			{Name: "Date", Value: "Mon, 01 Mar 2021 08:15:00 +0100", Position: 2},
			{Name: "X-Tag", Value: "first", Position: 3},
			{Name: "x-tag", Value: "second", Position: 4},
			{Name: "X-Broken-Date", Value: "yesterday at noon", Position: 5},
		},
		MediaType: "text/plain",
		Body:      []byte("Lorem ipsum DOLOR sit amet"),
	}
}

type unknownCriterion struct{}

func (unknownCriterion) String() string { return "UNKNOWN" }

func TestMatches(t *testing.T) {
	msg := sampleMessage()
	day := func(year int, month time.Month, d int) time.Time {
		return time.Date(year, month, d, 12, 0, 0, 0, time.UTC)
	}

	fixtures := []struct {
		criterion Criterion
		expected  bool
	}{
		{All{}, true},
		{And{}, true},
		{Or{}, false},
		{Not{All{}}, false},
		// size is the exact octet count
		{Size{SizeLess, 1730}, true},
		{Size{SizeGreater, 1728}, true},
		{Size{SizeEqual, 1728}, false},
		{Size{SizeLess, 1729}, false},
		{Size{SizeEqual, 1729}, true},
		{Size{SizeGreater, 1729}, false},
		// header names and values are case-insensitive
		{HeaderContains{"Subject", "hello"}, true},
		{HeaderContains{"SUBJECT", "WORLD"}, true},
		{HeaderContains{"Subject", "goodbye"}, false},
		{HeaderContains{"Cc", ""}, false},
		{HeaderContains{"From", ""}, true},
		// any instance of a repeated header may match
		{HeaderContains{"X-Tag", "second"}, true},
		{HeaderContains{"X-TAG", "first"}, true},
		{HeaderExists{"x-tag"}, true},
		{HeaderExists{"Cc"}, false},
		// flags
		{Flag{imap.SeenFlag, true}, true},
		{Flag{"\\SEEN", true}, true},
		{Flag{imap.SeenFlag, false}, false},
		{Flag{imap.DeletedFlag, false}, true},
		{Flag{"$important", true}, true},
		{Flag{"$Other", true}, false},
		// the persisted \Recent flag is ignored: the recent set is empty
		{Flag{imap.RecentFlag, true}, false},
		{Flag{imap.RecentFlag, false}, true},
		// internal date at day granularity
		{Date{Op: DateOn, Day: day(2021, 3, 14)}, true},
		{Date{Op: DateOn, Day: day(2021, 3, 15)}, false},
		{Date{Op: DateSince, Day: day(2021, 3, 14)}, true},
		{Date{Op: DateSince, Day: day(2021, 3, 15)}, false},
		{Date{Op: DateBefore, Day: day(2021, 3, 14)}, false},
		{Date{Op: DateBefore, Day: day(2021, 3, 15)}, true},
		// header date
		{Date{Header: "Date", Op: DateOn, Day: day(2021, 3, 1)}, true},
		{Date{Header: "date", Op: DateBefore, Day: day(2021, 3, 2)}, true},
		{Date{Header: "Date", Op: DateSince, Day: day(2021, 3, 2)}, false},
		// absent or unparsable header dates never match
		{Date{Header: "Resent-Date", Op: DateSince, Day: day(1970, 1, 1)}, false},
		{Date{Header: "X-Broken-Date", Op: DateSince, Day: day(1970, 1, 1)}, false},
		{Not{Date{Header: "X-Broken-Date", Op: DateSince, Day: day(1970, 1, 1)}}, true},
		// uid & sequence numbers
		{UID{mailbox.RangeSet{mailbox.Single(10)}}, true},
		{UID{mailbox.RangeSet{mailbox.Single(1), mailbox.Range{Low: 5, High: 12}}}, true},
		{UID{mailbox.RangeSet{mailbox.Range{Low: 11, High: 3}}}, false},
		{UID{mailbox.RangeSet{mailbox.Range{Low: 9, High: 3}}}, true},
		{UID{mailbox.RangeSet{mailbox.From(11)}}, false},
		{Seq{mailbox.RangeSet{mailbox.Single(3)}}, true},
		{Seq{mailbox.RangeSet{mailbox.Single(10)}}, false},
		// body and text
		{BodyContains{"dolor"}, true},
		{BodyContains{"hello"}, false},
		{TextContains{"hello"}, true},
		{TextContains{"ipsum"}, true},
		{TextContains{"nowhere"}, false},
		// combinations
		{And{HeaderContains{"Subject", "hello"}, Size{SizeGreater, 1000}}, true},
		{And{HeaderContains{"Subject", "hello"}, Size{SizeGreater, 2000}}, false},
		{Or{Size{SizeGreater, 2000}, Flag{imap.SeenFlag, true}}, true},
		{Or{Size{SizeGreater, 2000}, Flag{imap.SeenFlag, false}}, false},
		{Not{Or{Size{SizeGreater, 2000}, Flag{imap.SeenFlag, false}}}, true},
	}

	for _, fixture := range fixtures {
		t.Run(fixture.criterion.String(), func(t *testing.T) {
			result, err := Matches(fixture.criterion, msg, nil)
			require.NoError(t, err)
			assert.Equal(t, fixture.expected, result)
		})
	}
}

func TestRecentComesFromTheRecentSet(t *testing.T) {
	msg := sampleMessage()
	msg.Flags = mailbox.NewFlags(imap.SeenFlag)

	result, err := Matches(Flag{imap.RecentFlag, true}, msg, mailbox.NewUIDSet(10))
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Matches(Flag{imap.RecentFlag, true}, msg, mailbox.NewUIDSet(11))
	require.NoError(t, err)
	assert.False(t, result)
}

func TestDateInOtherTimezone(t *testing.T) {
	msg := sampleMessage()
	// 2021-03-14 23:30 UTC is already the 15th in Paris: the day of the stored value is used
	paris := time.FixedZone("CET", 3600)
	msg.InternalDate = time.Date(2021, 3, 15, 0, 30, 0, 0, paris)

	result, err := Matches(Date{Op: DateOn, Day: time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)}, msg, nil)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestUnknownCriterion(t *testing.T) {
	msg := sampleMessage()
	fixtures := []Criterion{
		unknownCriterion{},
		And{All{}, unknownCriterion{}},
		Not{unknownCriterion{}},
		Not{},
		Size{Op: SizeOp(42)},
		Date{Op: DateOp(42)},
	}
	for _, fixture := range fixtures {
		t.Run(fixture.String(), func(t *testing.T) {
			_, err := Matches(fixture, msg, nil)
			assert.True(t, errors.Is(err, lib.ErrUnsupportedSearch))
			assert.Equal(t, lib.KindUnsupportedSearch, lib.KindOf(err))
			assert.ErrorIs(t, Validate(fixture), lib.ErrUnsupportedSearch)
		})
	}
}

func TestSearchIsIdempotent(t *testing.T) {
	messages := make([]*mailbox.Message, 0, 20)
	for i := 1; i <= 20; i++ {
		msg := sampleMessage()
		msg.UID = mailbox.UID(i)
		msg.Size = uint32(i * 100)
		if i%3 == 0 {
			msg.Flags = mailbox.NewFlags(imap.DeletedFlag)
		}
		messages = append(messages, msg)
	}
	query := Or{Size{SizeLess, 500}, And{Flag{imap.DeletedFlag, true}, Not{UID{mailbox.RangeSet{mailbox.Range{Low: 10, High: 15}}}}}}

	run := func() []mailbox.UID {
		uids := make([]mailbox.UID, 0)
		for _, msg := range messages {
			ok, err := Matches(query, msg, nil)
			require.NoError(t, err)
			if ok {
				uids = append(uids, msg.UID)
			}
		}
		return uids
	}
	first := run()
	assert.Equal(t, []mailbox.UID{1, 2, 3, 4, 6, 9, 18}, first)
	assert.Equal(t, first, run())
}

func TestDateFromAnyHeaderInstance(t *testing.T) {
	day := func(year int, month time.Month, d int) time.Time {
		return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
	}
	msg := sampleMessage()
	msg.Headers = append(msg.Headers,
		mailbox.Header{Name: "Resent-Date", Value: "not a date", Position: 6},
		mailbox.Header{Name: "Resent-Date", Value: "Tue, 09 Mar 2021 10:00:00 +0000", Position: 7},
		mailbox.Header{Name: "Resent-Date", Value: "Fri, 12 Mar 2021 10:00:00 +0000", Position: 8},
	)

	for _, c := range []Criterion{
		Date{Header: "Resent-Date", Op: DateOn, Day: day(2021, 3, 9)},
		Date{Header: "Resent-Date", Op: DateOn, Day: day(2021, 3, 12)},
		Date{Header: "Resent-Date", Op: DateSince, Day: day(2021, 3, 10)},
	} {
		result, err := Matches(c, msg, nil)
		require.NoError(t, err)
		assert.True(t, result, c.String())
	}

	result, err := Matches(Date{Header: "Resent-Date", Op: DateOn, Day: day(2021, 3, 10)}, msg, nil)
	require.NoError(t, err)
	assert.False(t, result)
}
