package cmd

import (
	"context"
	"errors"
	"strconv"

	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/term"
	"github.com/spf13/cobra"
)

var (
	createCmd = &cobra.Command{
		Use:   "create <account> <mailbox>",
		Short: "Create an empty mailbox",
		Args:  cobra.ExactArgs(2),
		RunE:  runOnAccount(runCreate),
	}
	deleteCmd = &cobra.Command{
		Use:   "delete <account> <mailbox>",
		Short: "Delete a mailbox and its messages",
		Args:  cobra.ExactArgs(2),
		RunE:  runOnAccount(runDelete),
	}
	renameCmd = &cobra.Command{
		Use:   "rename <account> <from> <to>",
		Short: "Rename a mailbox, keeping its messages and UIDs",
		Args:  cobra.ExactArgs(3),
		RunE:  runOnAccount(runRename),
	}
	statusCmd = &cobra.Command{
		Use:   "status <account> <mailbox>",
		Short: "Display the status of a mailbox",
		Args:  cobra.ExactArgs(2),
		RunE:  runOnAccount(runStatus),
	}
)

func init() {
	rootCmd.AddCommand(createCmd, deleteCmd, renameCmd, statusCmd)
}

func runCreate(ctx context.Context, store *accountStore, args []string) error {
	err := store.CreateMailbox(ctx, nil, store.path(args[0]))
	if err != nil {
		return err
	}
	term.Infof("Mailbox %q created", args[0])
	return nil
}

func runDelete(ctx context.Context, store *accountStore, args []string) error {
	err := store.DeleteMailbox(ctx, nil, store.path(args[0]))
	if err != nil {
		return err
	}
	term.Infof("Mailbox %q deleted", args[0])
	return nil
}

func runRename(ctx context.Context, store *accountStore, args []string) error {
	err := store.RenameMailbox(ctx, nil, store.path(args[0]), store.path(args[1]))
	if err != nil {
		return err
	}
	term.Infof("Mailbox %q renamed to %q", args[0], args[1])
	return nil
}

func runStatus(ctx context.Context, store *accountStore, args []string) error {
	metadata, err := store.Metadata(ctx, nil, store.path(args[0]), false, mailbox.FetchUnseenCount)
	if err != nil {
		return err
	}
	unseen := ""
	if metadata.UnseenCount != nil {
		unseen = strconv.FormatUint(uint64(*metadata.UnseenCount), 10)
	}
	return term.NewTable("Mailbox", "Messages", "Recent", "Unseen", "UidValidity", "UidNext").Append(
		args[0],
		strconv.FormatUint(uint64(metadata.MessageCount), 10),
		strconv.Itoa(len(metadata.Recent)),
		unseen,
		strconv.FormatUint(uint64(metadata.UidValidity), 10),
		strconv.FormatUint(uint64(metadata.UidNext), 10),
	).Render()
}

// lastUid resolves "*" in the sets given on the command line
func lastUid(ctx context.Context, store *accountStore, path mailbox.Path) (mailbox.UID, error) {
	metadata, err := store.Metadata(ctx, nil, path, false, mailbox.FetchNone)
	if err != nil {
		return 0, err
	}
	if metadata.UidNext == 0 {
		return 0, errors.New("invalid uid watermark")
	}
	return metadata.UidNext - 1, nil
}
