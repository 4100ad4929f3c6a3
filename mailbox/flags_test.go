package mailbox

import (
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
)

func TestNewFlags(t *testing.T) {
	flags := NewFlags("\\seen", "$Junk", "\\SEEN", "", "$junk", imap.FlaggedFlag)
	assert.Equal(t, Flags{"$Junk", imap.FlaggedFlag, imap.SeenFlag}, flags)
	assert.True(t, flags.Has("\\Seen"))
	assert.True(t, flags.Has("$JUNK"))
	assert.False(t, flags.Has(imap.DeletedFlag))
}

func TestFlagsEqual(t *testing.T) {
	assert.True(t, NewFlags(imap.SeenFlag, "a").Equal(NewFlags("A", "\\seen")))
	assert.False(t, NewFlags(imap.SeenFlag).Equal(NewFlags(imap.SeenFlag, "a")))
	assert.True(t, Flags(nil).Equal(Flags{}))
}

func TestAddRemoveDoesNotModifySource(t *testing.T) {
	source := NewFlags(imap.SeenFlag, imap.DraftFlag)
	added := source.Add(imap.FlaggedFlag)
	removed := source.Remove(imap.SeenFlag)

	assert.Equal(t, Flags{imap.DraftFlag, imap.SeenFlag}, source)
	assert.Equal(t, Flags{imap.DraftFlag, imap.FlaggedFlag, imap.SeenFlag}, added)
	assert.Equal(t, Flags{imap.DraftFlag}, removed)
}

func TestStripRecentFlag(t *testing.T) {
	assert.Equal(t, []string{imap.SeenFlag}, StripRecentFlag([]string{"\\recent", imap.SeenFlag, imap.RecentFlag}))
	assert.Equal(t, []string{}, StripRecentFlag(nil))
}

func TestApplyFlags(t *testing.T) {
	current := NewFlags(imap.RecentFlag, imap.SeenFlag)
	fixtures := []struct {
		mode     FlagMode
		flags    Flags
		expected Flags
	}{
		{FlagsAdd, NewFlags(imap.FlaggedFlag), NewFlags(imap.RecentFlag, imap.SeenFlag, imap.FlaggedFlag)},
		{FlagsAdd, NewFlags(imap.SeenFlag), current},
		{FlagsRemove, NewFlags(imap.SeenFlag), NewFlags(imap.RecentFlag)},
		{FlagsRemove, NewFlags(imap.RecentFlag), current},
		{FlagsReplace, NewFlags(imap.DraftFlag), NewFlags(imap.RecentFlag, imap.DraftFlag)},
		{FlagsReplace, Flags{}, NewFlags(imap.RecentFlag)},
	}
	for _, fixture := range fixtures {
		t.Run(fixture.mode.String(), func(t *testing.T) {
			result := ApplyFlags(current, fixture.mode, fixture.flags)
			assert.True(t, fixture.expected.Equal(result), "expected %v but got %v", fixture.expected, result)
		})
	}

	// \Recent cannot be given by a client
	assert.Equal(t, Flags{imap.SeenFlag}, ApplyFlags(NewFlags(imap.SeenFlag), FlagsReplace, NewFlags(imap.RecentFlag, imap.SeenFlag)))
}

func TestFlagRoundTrip(t *testing.T) {
	original := NewFlags(imap.SeenFlag, "$Label1")
	for _, flag := range []string{imap.FlaggedFlag, imap.AnsweredFlag, "$Label2"} {
		added := ApplyFlags(original, FlagsAdd, NewFlags(flag))
		restored := ApplyFlags(added, FlagsRemove, NewFlags(flag))
		assert.Equal(t, original, restored)
	}
}
