package mdir

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creativeprojects/mailstore/events"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/storage"
	"github.com/creativeprojects/mailstore/storage/test"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-maildir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	deliveredMessage = "Subject: delivered\r\n\r\nbody"
	appendedMessage  = "Subject: appended\r\n\r\nbody"
)

func newBackend(t *testing.T) *Maildir {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("maildir is not supported on Windows")
	}
	backend, err := NewWithLogger(t.TempDir(), lib.NewTestLogger(t, "maildir"))
	require.NoError(t, err)
	t.Cleanup(func() {
		backend.Close()
	})
	return backend
}

// deliver drops a message into new/ the way a delivery agent does
func deliver(t *testing.T, backend *Maildir, path mailbox.Path, raw string) {
	t.Helper()
	dir := maildir.Dir(backend.dir(path))
	_, writer, err := dir.Create(nil)
	require.NoError(t, err)
	_, err = writer.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
}

func TestMaildirBackend(t *testing.T) {
	backend := newBackend(t)

	err := test.PrepareBackend(backend)
	require.NoError(t, err)

	test.RunTestsOnBackend(t, backend)
}

func TestFlagsInFileName(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, backend.CreateMailbox(ctx, path, 1))
	uid, err := backend.IncrementLastUid(ctx, path)
	require.NoError(t, err)

	flags := mailbox.NewFlags(imap.SeenFlag, imap.RecentFlag, "$Work")
	err = backend.PutMessage(ctx, path, &mailbox.Message{UID: uid, Flags: flags, Size: 5}, []byte("hello"))
	require.NoError(t, err)

	files, err := maildir.Dir(backend.dir(path)).Messages()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []maildir.Flag{maildir.FlagSeen}, files[0].Flags())

	// the index keeps all of them
	messages, err := backend.Messages(ctx, path, nil, mailbox.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, flags, messages[0].Flags)

	err = backend.UpdateFlags(ctx, path, map[mailbox.UID]mailbox.Flags{uid: mailbox.NewFlags(imap.FlaggedFlag, imap.DeletedFlag)})
	require.NoError(t, err)
	files, err = maildir.Dir(backend.dir(path)).Messages()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.ElementsMatch(t, []maildir.Flag{maildir.FlagFlagged, maildir.FlagTrashed}, files[0].Flags())
}

func TestImportDeliveredMessages(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, backend.CreateMailbox(ctx, path, 1))

	// delivered by another program
	dir := maildir.Dir(backend.dir(path))
	for _, flags := range [][]maildir.Flag{{maildir.FlagSeen}, nil} {
		_, writer, err := dir.Create(flags)
		require.NoError(t, err)
		_, err = writer.Write([]byte(deliveredMessage))
		require.NoError(t, err)
		require.NoError(t, writer.Close())
	}

	imported, err := backend.Import(ctx, path, nil)
	require.NoError(t, err)
	require.Len(t, imported, 2)
	for _, msg := range imported {
		assert.Equal(t, []string{"delivered"}, msg.HeaderValues("Subject"))
		assert.Equal(t, "text/plain", msg.MediaType)
		assert.Equal(t, uint32(len(deliveredMessage)), msg.Size)
	}

	imported, err = backend.Import(ctx, path, nil)
	require.NoError(t, err)
	assert.Empty(t, imported)

	state, err := backend.MailboxState(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, mailbox.UID(2), state.LastUid)
	messages, err := backend.Messages(ctx, path, nil, mailbox.FetchOptions{Body: true, Headers: true})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	for _, msg := range messages {
		assert.True(t, msg.Flags.Has(imap.RecentFlag))
		assert.Equal(t, deliveredMessage, string(msg.Body))
		assert.Equal(t, []string{"delivered"}, msg.HeaderValues("Subject"))
	}
}

func TestImportThroughStore(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	store, err := storage.NewStore(backend, storage.WithLogger(lib.NewTestLogger(t, "store")))
	require.NoError(t, err)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, store.CreateMailbox(ctx, nil, path))

	session := store.OpenSession(nil)
	defer session.Close()
	_, err = store.Select(ctx, session, path)
	require.NoError(t, err)

	deliver(t, backend, path, deliveredMessage)
	uids, err := store.Import(ctx, nil, path)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.UID{1}, uids)

	received := session.Events()
	require.Len(t, received, 1)
	assert.Equal(t, events.Added, received[0].Kind)
	assert.Equal(t, mailbox.UID(1), received[0].UID)

	// allocated through the store: never given again
	uid, err := store.Append(ctx, nil, path, mailbox.MessageProperties{}, strings.NewReader(appendedMessage))
	require.NoError(t, err)
	assert.Equal(t, mailbox.UID(2), uid)
}

func TestImportWhileAppending(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Skip("maildir is not supported on Windows")
	}
	first, err := NewWithLogger(root, lib.NewTestLogger(t, "first"))
	require.NoError(t, err)
	defer first.Close()
	second, err := NewWithLogger(root, lib.NewTestLogger(t, "second"))
	require.NoError(t, err)
	defer second.Close()

	store, err := storage.NewStore(first, storage.WithLogger(lib.NewTestLogger(t, "store")))
	require.NoError(t, err)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, store.CreateMailbox(ctx, nil, path))

	const rounds, perRound = 5, 3
	var mu sync.Mutex
	appended := make(map[mailbox.UID]bool)
	delivered := 0
	for round := 0; round < rounds; round++ {
		for i := 0; i < perRound; i++ {
			deliver(t, second, path, deliveredMessage)
		}
		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			for i := 0; i < perRound; i++ {
				uid, err := store.Append(groupCtx, nil, path, mailbox.MessageProperties{}, strings.NewReader(appendedMessage))
				if err != nil {
					return err
				}
				mu.Lock()
				appended[uid] = true
				mu.Unlock()
			}
			return nil
		})
		group.Go(func() error {
			imported, err := second.Import(groupCtx, path, nil)
			mu.Lock()
			delivered += len(imported)
			mu.Unlock()
			return err
		})
		require.NoError(t, group.Wait())
	}
	// files left behind by a round where the import went first
	imported, err := second.Import(ctx, path, nil)
	require.NoError(t, err)
	delivered += len(imported)

	assert.Len(t, appended, rounds*perRound)
	assert.Equal(t, rounds*perRound, delivered)

	messages, err := first.Messages(ctx, path, nil, mailbox.FetchOptions{Headers: true})
	require.NoError(t, err)
	assert.Len(t, messages, len(appended)+delivered)
	for _, msg := range messages {
		subject := "delivered"
		if appended[msg.UID] {
			subject = "appended"
		}
		assert.Equal(t, []string{subject}, msg.HeaderValues("Subject"), "uid %d", msg.UID)
	}
	state, err := first.MailboxState(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, mailbox.UID(len(messages)), state.LastUid)
}

func TestLockerIsSharedBetweenInstances(t *testing.T) {
	root := t.TempDir()
	first, err := New(root)
	require.NoError(t, err)
	second, err := New(root)
	require.NoError(t, err)

	ctx := context.Background()
	release, err := first.Locker(nil).Acquire(ctx, "INBOX", lock.Exclusive)
	require.NoError(t, err)
	defer release()

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = second.Locker(nil).Acquire(waitCtx, "INBOX", lock.Exclusive)
	assert.ErrorIs(t, err, lib.ErrLockTimeout)

	entries, err := os.ReadDir(filepath.Join(root, locksDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
