package search

import (
	"testing"

	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
)

func TestUIDOnly(t *testing.T) {
	set := mailbox.RangeSet{mailbox.Range{Low: 4, High: 8}}

	ranges, ok := UIDOnly(UID{set})
	assert.True(t, ok)
	assert.Equal(t, set, ranges)

	ranges, ok = UIDOnly(And{UID{set}})
	assert.True(t, ok)
	assert.Equal(t, set, ranges)

	_, ok = UIDOnly(And{UID{set}, Flag{imap.SeenFlag, true}})
	assert.False(t, ok)

	_, ok = UIDOnly(Not{UID{set}})
	assert.False(t, ok)

	_, ok = UIDOnly(All{})
	assert.False(t, ok)
}

func TestFetchOptions(t *testing.T) {
	fixtures := []struct {
		criterion Criterion
		options   mailbox.FetchOptions
	}{
		{All{}, mailbox.FetchOptions{}},
		{Flag{imap.SeenFlag, true}, mailbox.FetchOptions{}},
		{Date{Op: DateSince}, mailbox.FetchOptions{}},
		{Date{Header: "Date", Op: DateSince}, mailbox.FetchOptions{Headers: true}},
		{Not{HeaderExists{"Cc"}}, mailbox.FetchOptions{Headers: true}},
		{Or{Size{}, BodyContains{"a"}}, mailbox.FetchOptions{Body: true}},
		{And{Size{}, TextContains{"a"}}, mailbox.FetchOptions{Headers: true, Body: true}},
	}
	for _, fixture := range fixtures {
		t.Run(fixture.criterion.String(), func(t *testing.T) {
			assert.Equal(t, fixture.options, Options(fixture.criterion))
		})
	}
}
