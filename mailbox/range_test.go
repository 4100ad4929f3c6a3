package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeContains(t *testing.T) {
	fixtures := []struct {
		r        Range
		value    UID
		expected bool
	}{
		{Single(5), 5, true},
		{Single(5), 4, false},
		{Single(5), 6, false},
		{Range{2, 4}, 2, true},
		{Range{2, 4}, 4, true},
		{Range{2, 4}, 5, false},
		{From(10), 9, false},
		{From(10), 10, true},
		{From(10), 4000000000, true},
		// low > high is open-ended from low
		{Range{10, 3}, 3, false},
		{Range{10, 3}, 5, false},
		{Range{10, 3}, 10, true},
		{Range{10, 3}, 100, true},
		{Range{0, 3}, 1, true},
	}
	for _, fixture := range fixtures {
		t.Run(fixture.r.String(), func(t *testing.T) {
			assert.Equal(t, fixture.expected, fixture.r.Contains(fixture.value), "value %d", fixture.value)
		})
	}
}

func TestRangeSetContainsEveryRange(t *testing.T) {
	// each range is evaluated on its own: a match on a later range is still found
	set := RangeSet{Single(1), Range{5, 7}, From(20)}
	for _, uid := range []UID{1, 5, 6, 7, 20, 21} {
		assert.True(t, set.Contains(uid), "uid %d", uid)
	}
	for _, uid := range []UID{2, 4, 8, 19} {
		assert.False(t, set.Contains(uid), "uid %d", uid)
	}

	assert.True(t, RangeSet(nil).Contains(42))
	assert.False(t, RangeSet{}.Contains(42))
}

func TestRangeSetSpan(t *testing.T) {
	assert.Equal(t, Range{2, 9}, RangeSet{Range{5, 9}, Single(2)}.Span())
	assert.Equal(t, From(2), RangeSet{From(5), Single(2)}.Span())
	assert.Equal(t, From(1), RangeSet(nil).Span())
}

func TestParseRangeSet(t *testing.T) {
	set, err := ParseRangeSet("1,3:5,10:*", 12)
	require.NoError(t, err)
	assert.Equal(t, RangeSet{Single(1), Range{3, 5}, From(10)}, set)
	assert.Equal(t, "1,3:5,10:*", set.String())

	set, err = ParseRangeSet("*", 12)
	require.NoError(t, err)
	assert.Equal(t, RangeSet{Single(12)}, set)

	set, err = ParseRangeSet("*", 0)
	require.NoError(t, err)
	assert.Empty(t, set)

	_, err = ParseRangeSet("a:b", 12)
	assert.Error(t, err)
}

func TestUIDSet(t *testing.T) {
	set := NewUIDSet(3, 1, 2)
	assert.True(t, set.Has(2))
	set.Remove(2)
	set.Add(7)
	assert.Equal(t, []UID{1, 3, 7}, set.Sorted())

	clone := set.Clone()
	clone.Add(9)
	assert.False(t, set.Has(9))
}
