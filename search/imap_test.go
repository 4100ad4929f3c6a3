package search

import (
	"net/textproto"
	"testing"
	"time"

	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNilCriteria(t *testing.T) {
	assert.Equal(t, All{}, FromCriteria(nil, Limits{}))
	assert.Equal(t, And{}, FromCriteria(&imap.SearchCriteria{}, Limits{}))
}

func TestFromCriteria(t *testing.T) {
	uids, err := imap.ParseSeqSet("2:4,7")
	require.NoError(t, err)
	since := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)

	criteria := &imap.SearchCriteria{
		Uid:          uids,
		Since:        since,
		SentBefore:   since,
		Header:       textproto.MIMEHeader{"Subject": {"hello"}, "Cc": {""}},
		Body:         []string{"ipsum"},
		WithFlags:    []string{imap.SeenFlag},
		WithoutFlags: []string{imap.DeletedFlag},
		Larger:       1000,
		Not:          []*imap.SearchCriteria{{Smaller: 10}},
		Or: [][2]*imap.SearchCriteria{
			{{WithFlags: []string{imap.FlaggedFlag}}, {Text: []string{"world"}}},
		},
	}

	query := FromCriteria(criteria, Limits{LastUID: 10})
	expected := And{
		UID{mailbox.RangeSet{{Low: 2, High: 4}, {Low: 7, High: 7}}},
		Date{Op: DateSince, Day: since},
		Date{Header: "Date", Op: DateBefore, Day: since},
		HeaderExists{"Cc"},
		HeaderContains{"Subject", "hello"},
		BodyContains{"ipsum"},
		Flag{imap.SeenFlag, true},
		Flag{imap.DeletedFlag, false},
		Size{SizeGreater, 1000},
		Not{Size{SizeLess, 10}},
		Or{Flag{imap.FlaggedFlag, true}, TextContains{"world"}},
	}
	assert.Equal(t, expected, query)

	msg := sampleMessage()
	msg.UID = 3
	ok, err := Matches(query, msg, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFromCriteriaSingleKey(t *testing.T) {
	query := FromCriteria(&imap.SearchCriteria{Larger: 10}, Limits{})
	assert.Equal(t, Size{SizeGreater, 10}, query)
}
