package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/storage/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewBoltStoreWithLogger(filepath.Join(dir, "store.db"), lib.NewTestLogger(t, "bolt"))
	require.NoError(t, err)

	defer backend.Close()

	err = test.PrepareBackend(backend)
	require.NoError(t, err)

	test.RunTestsOnBackend(t, backend)
}

func TestWatermarkSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "store.db")
	path := mailbox.NewPath("user", "INBOX")

	backend, err := NewBoltStore(filename)
	require.NoError(t, err)
	require.NoError(t, backend.CreateMailbox(ctx, path, 42))
	for i := 0; i < 3; i++ {
		_, err = backend.IncrementLastUid(ctx, path)
		require.NoError(t, err)
	}
	require.NoError(t, backend.Close())

	backend, err = NewBoltStore(filename)
	require.NoError(t, err)
	defer backend.Close()
	state, err := backend.MailboxState(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, mailbox.State{UidValidity: 42, LastUid: 3}, state)
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	backend, err := NewBoltStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer backend.Close()
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, backend.CreateMailbox(ctx, path, 1))

	txCtx, tx, err := backend.Begin(ctx)
	require.NoError(t, err)
	_, err = backend.IncrementLastUid(txCtx, path)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	state, err := backend.MailboxState(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, mailbox.UID(0), state.LastUid)
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewBoltStore(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	defer backend.Close()
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, backend.CreateMailbox(ctx, path, 1))

	require.NoError(t, backend.Backup(filepath.Join(dir, "backup.db")))
	copied, err := NewBoltStore(filepath.Join(dir, "backup.db"))
	require.NoError(t, err)
	defer copied.Close()
	list, err := copied.ListMailboxes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "INBOX", list[0].Path.Name)
}
