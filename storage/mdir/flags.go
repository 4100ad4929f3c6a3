package mdir

import (
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-maildir"
)

var maildirFlags = map[string]maildir.Flag{
	imap.SeenFlag:     maildir.FlagSeen,
	imap.AnsweredFlag: maildir.FlagReplied,
	imap.FlaggedFlag:  maildir.FlagFlagged,
	imap.DraftFlag:    maildir.FlagDraft,
	imap.DeletedFlag:  maildir.FlagTrashed,
	"$Forwarded":      maildir.FlagPassed,
}

// toFlags returns the flags that can be written in a maildir file name.
// The keywords and \Recent are only kept in the index.
func toFlags(flags mailbox.Flags) []maildir.Flag {
	output := make([]maildir.Flag, 0, len(flags))
	for _, flag := range flags {
		if value, ok := maildirFlags[mailbox.CanonicalFlag(flag)]; ok {
			output = append(output, value)
		}
	}
	return output
}

// flagsToStrings converts the flags of a file name, for messages delivered by another program
func flagsToStrings(flags []maildir.Flag) mailbox.Flags {
	output := make([]string, 0, len(flags))
	for _, flag := range flags {
		for name, value := range maildirFlags {
			if value == flag {
				output = append(output, name)
			}
		}
	}
	return mailbox.NewFlags(output...)
}
