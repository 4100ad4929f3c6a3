package cmd

import (
	"context"
	"strconv"
	"strings"

	"github.com/creativeprojects/mailstore/term"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <account>",
	Short: "Display list of mailboxes",
	RunE:  runOnAccount(runList),
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context, store *accountStore, args []string) error {
	mailboxes, err := store.ListMailboxes(ctx)
	if err != nil {
		return err
	}
	if len(mailboxes) == 0 {
		term.Warn("No mailbox found on this account")
		return nil
	}
	table := term.NewTable("Mailbox", "User", "UidValidity", "UidNext")
	for _, info := range mailboxes {
		table.Append(
			info.Path.Name,
			info.Path.User,
			strconv.FormatUint(uint64(info.State.UidValidity), 10),
			strconv.FormatUint(uint64(info.State.UidNext()), 10),
		)
	}
	return table.Render()
}

func displayFlags(source []string) string {
	flags := make([]string, len(source))
	for i, flag := range source {
		flags[i] = strings.TrimPrefix(flag, "\\")
	}
	return strings.Join(flags, ", ")
}
