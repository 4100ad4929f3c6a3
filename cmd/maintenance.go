package cmd

import (
	"context"
	"fmt"

	"github.com/creativeprojects/mailstore/storage"
	"github.com/creativeprojects/mailstore/storage/local"
	"github.com/creativeprojects/mailstore/term"
	"github.com/spf13/cobra"
)

var (
	backupCmd = &cobra.Command{
		Use:   "backup <account> <file>",
		Short: "Copy the database of a local account into a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runOnAccount(runBackup),
	}
	importCmd = &cobra.Command{
		Use:   "import <account> <mailbox>",
		Short: "Index the messages delivered directly into a maildir folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runOnAccount(runImport),
	}
)

func init() {
	rootCmd.AddCommand(backupCmd, importCmd)
}

func runBackup(ctx context.Context, store *accountStore, args []string) error {
	backend, ok := store.backend.(*local.BoltStore)
	if !ok {
		return fmt.Errorf("backup is not available on a %s account", store.account.Type)
	}
	err := backend.Backup(args[0])
	if err != nil {
		return err
	}
	term.Infof("Database saved into %s", args[0])
	return nil
}

func runImport(ctx context.Context, store *accountStore, args []string) error {
	if _, ok := store.backend.(storage.Importer); !ok {
		return fmt.Errorf("import is not available on a %s account", store.account.Type)
	}
	imported, err := store.Import(ctx, nil, store.path(args[0]))
	if len(imported) > 0 {
		term.Infof("%d message(s) imported: %s", len(imported), joinUids(imported))
	}
	if err != nil {
		return err
	}
	if len(imported) == 0 {
		term.Info("No message to import")
	}
	return nil
}
