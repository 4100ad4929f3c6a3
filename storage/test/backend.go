// Package test is the conformance suite run by every storage backend.
package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/creativeprojects/mailstore/content"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/storage"
	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "user@example.com"

var (
	sampleMessage = "From: contact@example.org\r\n" +
		"To: contact@example.org\r\n" +
		"Subject: A little message, just for you\r\n" +
		"Date: Wed, 11 May 2016 14:31:59 +0000\r\n" +
		"Message-ID: <0000000@localhost/>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Hi there :)"
	sampleMessageDate  = time.Date(2020, 10, 20, 12, 11, 0, 0, time.UTC)
	sampleMessageFlags = []string{imap.SeenFlag}
)

// RunTestsOnBackend is the unit tests runner called by the concrete implementations of storage.Backend
func RunTestsOnBackend(t *testing.T, backend storage.Backend) {
	require.NotNil(t, backend)

	t.Run("Backend", func(t *testing.T) {
		runBackendTests(t, backend)
	})
	t.Run("Store", func(t *testing.T) {
		runStoreTests(t, backend)
	})
}

func runBackendTests(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	work := mailbox.NewPath(testUser, "Work")

	t.Run("MailboxStateDoesNotExist", func(t *testing.T) {
		_, err := backend.MailboxState(ctx, mailbox.NewPath(testUser, "No mailbox at that name"))
		assert.ErrorIs(t, err, lib.ErrMailboxNotFound)
	})

	t.Run("CreateSimpleMailbox", func(t *testing.T) {
		createMailbox(t, backend, work, 100)

		state, err := backend.MailboxState(ctx, work)
		require.NoError(t, err)
		assert.Equal(t, uint32(100), state.UidValidity)
		assert.Equal(t, mailbox.UID(0), state.LastUid)
	})

	t.Run("CreateExistingMailbox", func(t *testing.T) {
		err := backend.CreateMailbox(ctx, work, 101)
		assert.ErrorIs(t, err, lib.ErrMailboxExists)
	})

	t.Run("CreateDeleteMailboxDifferentDelimiter", func(t *testing.T) {
		path := mailbox.Path{User: testUser, Name: "Path#Mailbox", Delimiter: "#"}
		createMailbox(t, backend, path, 1)

		// same mailbox with the canonical delimiter
		state, err := backend.MailboxState(ctx, mailbox.NewPath(testUser, "Path.Mailbox"))
		require.NoError(t, err)
		assert.Equal(t, uint32(1), state.UidValidity)

		deleteMailbox(t, backend, path)
	})

	t.Run("IncrementLastUid", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			uid, err := backend.IncrementLastUid(ctx, work)
			require.NoError(t, err)
			assert.Equal(t, mailbox.UID(i), uid)
		}
		state, err := backend.MailboxState(ctx, work)
		require.NoError(t, err)
		assert.Equal(t, mailbox.UID(3), state.LastUid)

		_, err = backend.IncrementLastUid(ctx, mailbox.NewPath(testUser, "Nowhere"))
		assert.ErrorIs(t, err, lib.ErrMailboxNotFound)
	})

	t.Run("PutMessages", func(t *testing.T) {
		for uid := mailbox.UID(1); uid <= 3; uid++ {
			putMessage(t, backend, work, uid, sampleMessage, sampleMessageFlags...)
		}
	})

	t.Run("EnumerateAllMessages", func(t *testing.T) {
		messages, err := backend.Messages(ctx, work, nil, mailbox.FetchOptions{})
		require.NoError(t, err)
		require.Len(t, messages, 3)
		for i, msg := range messages {
			assert.Equal(t, mailbox.UID(i+1), msg.UID)
			assert.Equal(t, uint32(len(sampleMessage)), msg.Size)
			assert.True(t, sampleMessageDate.Equal(msg.InternalDate), "internal date %s", msg.InternalDate)
			assert.ElementsMatch(t, sampleMessageFlags, msg.Flags)
			assert.Empty(t, msg.Headers)
			assert.Empty(t, msg.Body)
		}
	})

	t.Run("EnumerateRanges", func(t *testing.T) {
		messages, err := backend.Messages(ctx, work, mailbox.RangeSet{mailbox.Single(1), mailbox.From(3)}, mailbox.FetchOptions{Headers: true})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, mailbox.UID(1), messages[0].UID)
		assert.Equal(t, mailbox.UID(3), messages[1].UID)
		assert.Equal(t, []string{"A little message, just for you"}, messages[0].HeaderValues("subject"))
		assert.Equal(t, "text/plain", messages[0].MediaType)

		messages, err = backend.Messages(ctx, work, mailbox.RangeSet{}, mailbox.FetchOptions{})
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("EnumerateWithBody", func(t *testing.T) {
		messages, err := backend.Messages(ctx, work, mailbox.RangeSet{mailbox.Single(2)}, mailbox.FetchOptions{Body: true})
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, sampleMessage, string(messages[0].Body))
	})

	t.Run("MessageBody", func(t *testing.T) {
		body, err := backend.MessageBody(ctx, work, 2)
		require.NoError(t, err)
		assert.Equal(t, sampleMessage, string(body))

		_, err = backend.MessageBody(ctx, work, 20)
		assert.ErrorIs(t, err, lib.ErrMessageNotFound)
	})

	t.Run("UpdateFlags", func(t *testing.T) {
		err := backend.UpdateFlags(ctx, work, map[mailbox.UID]mailbox.Flags{
			1: {imap.FlaggedFlag},
			3: {imap.SeenFlag, imap.DeletedFlag},
		})
		require.NoError(t, err)

		messages, err := backend.Messages(ctx, work, nil, mailbox.FetchOptions{})
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.ElementsMatch(t, []string{imap.FlaggedFlag}, messages[0].Flags)
		assert.ElementsMatch(t, sampleMessageFlags, messages[1].Flags)
		assert.ElementsMatch(t, []string{imap.SeenFlag, imap.DeletedFlag}, messages[2].Flags)
	})

	t.Run("UpdateFlagsOfUnknownMessage", func(t *testing.T) {
		err := backend.UpdateFlags(ctx, work, map[mailbox.UID]mailbox.Flags{10: {imap.SeenFlag}})
		assert.ErrorIs(t, err, lib.ErrMessageNotFound)
	})

	t.Run("DeleteMessages", func(t *testing.T) {
		err := backend.DeleteMessages(ctx, work, []mailbox.UID{3, 30})
		require.NoError(t, err)

		messages, err := backend.Messages(ctx, work, nil, mailbox.FetchOptions{})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, mailbox.UID(1), messages[0].UID)
		assert.Equal(t, mailbox.UID(2), messages[1].UID)

		// the watermark never goes down
		state, err := backend.MailboxState(ctx, work)
		require.NoError(t, err)
		assert.Equal(t, mailbox.UID(3), state.LastUid)
	})

	t.Run("RenameMailbox", func(t *testing.T) {
		archive := mailbox.NewPath(testUser, "Archive.Work")
		err := backend.RenameMailbox(ctx, work, archive)
		require.NoError(t, err)

		_, err = backend.MailboxState(ctx, work)
		assert.ErrorIs(t, err, lib.ErrMailboxNotFound)

		state, err := backend.MailboxState(ctx, archive)
		require.NoError(t, err)
		assert.Equal(t, uint32(100), state.UidValidity)
		assert.Equal(t, mailbox.UID(3), state.LastUid)

		messages, err := backend.Messages(ctx, archive, nil, mailbox.FetchOptions{})
		require.NoError(t, err)
		assert.Len(t, messages, 2)

		require.NoError(t, backend.RenameMailbox(ctx, archive, work))
	})

	t.Run("RenameOntoExistingMailbox", func(t *testing.T) {
		other := mailbox.NewPath(testUser, "Other")
		createMailbox(t, backend, other, 7)
		err := backend.RenameMailbox(ctx, work, other)
		assert.ErrorIs(t, err, lib.ErrMailboxExists)
		deleteMailbox(t, backend, other)
	})

	t.Run("DeleteSimpleMailbox", func(t *testing.T) {
		deleteMailbox(t, backend, work)

		_, err := backend.Messages(ctx, work, nil, mailbox.FetchOptions{})
		assert.ErrorIs(t, err, lib.ErrMailboxNotFound)

		err = backend.DeleteMailbox(ctx, work)
		assert.ErrorIs(t, err, lib.ErrMailboxNotFound)
	})

	t.Run("RecreatedMailboxStartsAgain", func(t *testing.T) {
		createMailbox(t, backend, work, 200)
		state, err := backend.MailboxState(ctx, work)
		require.NoError(t, err)
		assert.Equal(t, mailbox.UID(0), state.LastUid)
		messages, err := backend.Messages(ctx, work, nil, mailbox.FetchOptions{})
		require.NoError(t, err)
		assert.Empty(t, messages)
		deleteMailbox(t, backend, work)
	})
}

// PrepareBackend makes sure the backend has an INBOX with one message.
func PrepareBackend(backend storage.Backend) error {
	ctx := context.Background()
	inbox := mailbox.NewPath(testUser, "INBOX")
	if _, err := backend.MailboxState(ctx, inbox); err == nil {
		// no need to create the mailbox and add a message to it
		return nil
	}
	if err := backend.CreateMailbox(ctx, inbox, 1); err != nil {
		return err
	}
	uid, err := backend.IncrementLastUid(ctx, inbox)
	if err != nil {
		return err
	}
	msg, err := newMessage(uid, sampleMessage, imap.SeenFlag)
	if err != nil {
		return err
	}
	return backend.PutMessage(ctx, inbox, msg, []byte(sampleMessage))
}

func newMessage(uid mailbox.UID, raw string, flags ...string) (*mailbox.Message, error) {
	projection, err := content.ParseBytes([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("cannot parse message: %w", err)
	}
	return &mailbox.Message{
		UID:          uid,
		InternalDate: sampleMessageDate,
		Size:         projection.Size,
		Flags:        mailbox.NewFlags(flags...),
		Headers:      projection.Headers,
		MediaType:    projection.MediaType,
	}, nil
}

func putMessage(t *testing.T, backend storage.Backend, path mailbox.Path, uid mailbox.UID, raw string, flags ...string) {
	t.Helper()

	msg, err := newMessage(uid, raw, flags...)
	require.NoError(t, err)
	err = backend.PutMessage(context.Background(), path, msg, []byte(raw))
	require.NoError(t, err)
}

func createMailbox(t *testing.T, backend storage.Backend, path mailbox.Path, uidValidity uint32) {
	t.Helper()

	err := backend.CreateMailbox(context.Background(), path, uidValidity)
	require.NoError(t, err)

	list, err := backend.ListMailboxes(context.Background())
	require.NoError(t, err)
	assert.True(t, mailboxExists(path, list))
}

func deleteMailbox(t *testing.T, backend storage.Backend, path mailbox.Path) {
	t.Helper()

	err := backend.DeleteMailbox(context.Background(), path)
	require.NoError(t, err)

	list, err := backend.ListMailboxes(context.Background())
	require.NoError(t, err)
	assert.False(t, mailboxExists(path, list))
}

func mailboxExists(path mailbox.Path, in []mailbox.Info) bool {
	for _, info := range in {
		if info.Path.Key() == path.Key() {
			return true
		}
	}
	return false
}
