package test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creativeprojects/mailstore/events"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/mapper"
	"github.com/creativeprojects/mailstore/search"
	"github.com/creativeprojects/mailstore/storage"
	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const helloWorldMessage = "From: sender@example.org\r\n" +
	"To: user@example.com\r\n" +
	"Subject: Greetings\r\n" +
	"Date: Mon, 02 Jan 2023 10:00:00 +0000\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Hello World\r\n"

var errInjected = errors.New("injected failure")

// faultyBackend fails the nth message written into a mailbox
type faultyBackend struct {
	storage.Backend
	mu     sync.Mutex
	target string
	failAt int
	count  int
}

func (b *faultyBackend) PutMessage(ctx context.Context, path mailbox.Path, msg *mailbox.Message, body []byte) error {
	b.mu.Lock()
	if path.Key() == b.target {
		b.count++
		if b.count == b.failAt {
			b.mu.Unlock()
			return errInjected
		}
	}
	b.mu.Unlock()
	return b.Backend.PutMessage(ctx, path, msg, body)
}

func newStore(t *testing.T, backend storage.Backend, opts ...storage.Option) *storage.Store {
	t.Helper()

	opts = append([]storage.Option{
		storage.WithLogger(lib.NewTestLogger(t, "store")),
		storage.WithUidValidity(&lib.IncrementalUidValidity{}),
	}, opts...)
	store, err := storage.NewStore(backend, opts...)
	require.NoError(t, err)
	return store
}

// newMailbox creates a mailbox with a unique name, deleted at the end of the test
func newMailbox(t *testing.T, store *storage.Store, name string) mailbox.Path {
	t.Helper()

	path := mailbox.NewPath(testUser, fmt.Sprintf("%s-%d", name, time.Now().UnixNano()))
	require.NoError(t, store.CreateMailbox(context.Background(), nil, path))
	t.Cleanup(func() {
		_ = store.DeleteMailbox(context.Background(), nil, path)
	})
	return path
}

func appendMessage(t *testing.T, store *storage.Store, session *storage.Session, path mailbox.Path, raw string, flags ...string) mailbox.UID {
	t.Helper()

	uid, err := store.Append(context.Background(), session, path, mailbox.MessageProperties{
		Flags:        flags,
		InternalDate: sampleMessageDate,
		Size:         uint32(len(raw)),
	}, strings.NewReader(raw))
	require.NoError(t, err)
	return uid
}

// messageOfSize returns a message of exactly size bytes
func messageOfSize(size int) string {
	header := "From: sender@example.org\r\nSubject: sized\r\n\r\n"
	return header + strings.Repeat("x", size-len(header))
}

func kindsOf(list []events.Event) map[events.Kind][]mailbox.UID {
	kinds := make(map[events.Kind][]mailbox.UID)
	for _, event := range list {
		kinds[event.Kind] = append(kinds[event.Kind], event.UID)
	}
	return kinds
}

func runStoreTests(t *testing.T, backend storage.Backend) {
	ctx := context.Background()
	store := newStore(t, backend)

	t.Run("UidsAreUniqueAndIncreasingUnderConcurrency", func(t *testing.T) {
		path := newMailbox(t, store, "Concurrent")
		const writers, perWriter = 8, 5

		var mu sync.Mutex
		seen := make(map[mailbox.UID]bool)
		group, groupCtx := errgroup.WithContext(ctx)
		for w := 0; w < writers; w++ {
			group.Go(func() error {
				var last mailbox.UID
				for i := 0; i < perWriter; i++ {
					uid, err := store.Append(groupCtx, nil, path, mailbox.MessageProperties{}, strings.NewReader(sampleMessage))
					if err != nil {
						return err
					}
					if uid <= last {
						return fmt.Errorf("uid %d after %d", uid, last)
					}
					last = uid
					mu.Lock()
					if seen[uid] {
						mu.Unlock()
						return fmt.Errorf("uid %d given twice", uid)
					}
					seen[uid] = true
					mu.Unlock()
				}
				return nil
			})
		}
		require.NoError(t, group.Wait())
		assert.Len(t, seen, writers*perWriter)

		metadata, err := store.Metadata(ctx, nil, path, false, mailbox.FetchNone)
		require.NoError(t, err)
		assert.Equal(t, uint32(writers*perWriter), metadata.MessageCount)
		assert.Equal(t, mailbox.UID(writers*perWriter+1), metadata.UidNext)
	})

	t.Run("AppendAndSearchHelloWorld", func(t *testing.T) {
		path := newMailbox(t, store, "Hello")
		appendMessage(t, store, nil, path, sampleMessage)
		uid := appendMessage(t, store, nil, path, helloWorldMessage)

		for _, query := range []search.Criterion{
			search.BodyContains{Value: "hello world"},
			search.TextContains{Value: "Hello World"},
			search.HeaderContains{Name: "Subject", Value: "greetings"},
			search.And{search.Not{Criterion: search.Flag{Name: imap.SeenFlag, Set: true}}, search.BodyContains{Value: "World"}},
		} {
			found, err := store.Search(ctx, nil, path, query)
			require.NoError(t, err)
			assert.Equal(t, []mailbox.UID{uid}, found, query.String())
		}
	})

	t.Run("SearchIsIdempotent", func(t *testing.T) {
		path := newMailbox(t, store, "Idempotent")
		for i := 0; i < 4; i++ {
			appendMessage(t, store, nil, path, sampleMessage, imap.SeenFlag)
		}
		appendMessage(t, store, nil, path, helloWorldMessage)
		query := search.Or{search.Seq{Set: mailbox.RangeSet{{Low: 2, High: 3}}}, search.BodyContains{Value: "hello"}}

		first, err := store.Search(ctx, nil, path, query)
		require.NoError(t, err)
		second, err := store.Search(ctx, nil, path, query)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Len(t, first, 3)
	})

	t.Run("SizeBoundary", func(t *testing.T) {
		path := newMailbox(t, store, "Size")
		raw := messageOfSize(1729)
		require.Len(t, raw, 1729)
		uid := appendMessage(t, store, nil, path, raw)

		fixtures := []struct {
			query search.Criterion
			found bool
		}{
			{search.Size{Op: search.SizeGreater, Value: 1728}, true},
			{search.Size{Op: search.SizeGreater, Value: 1729}, false},
			{search.Size{Op: search.SizeLess, Value: 1730}, true},
			{search.Size{Op: search.SizeLess, Value: 1729}, false},
			{search.Size{Op: search.SizeEqual, Value: 1729}, true},
		}
		for _, fixture := range fixtures {
			found, err := store.Search(ctx, nil, path, fixture.query)
			require.NoError(t, err)
			if fixture.found {
				assert.Equal(t, []mailbox.UID{uid}, found, fixture.query.String())
			} else {
				assert.Empty(t, found, fixture.query.String())
			}
		}
	})

	t.Run("UnsupportedSearch", func(t *testing.T) {
		path := newMailbox(t, store, "Unsupported")
		_, err := store.Search(ctx, nil, path, search.Not{})
		require.Error(t, err)
		assert.Equal(t, lib.KindUnsupportedSearch, lib.KindOf(err))
	})

	t.Run("FlagRoundTrip", func(t *testing.T) {
		path := newMailbox(t, store, "Flags")
		uid := appendMessage(t, store, nil, path, sampleMessage, imap.SeenFlag)
		ranges := mailbox.RangeSet{mailbox.Single(uid)}

		result, err := store.SetFlags(ctx, nil, path, ranges, []string{imap.FlaggedFlag, "$Work"}, mailbox.FlagsAdd)
		require.NoError(t, err)
		assert.True(t, result[uid].Has(imap.FlaggedFlag))
		assert.True(t, result[uid].Has("$work"))

		found, err := store.Search(ctx, nil, path, search.Flag{Name: "$Work", Set: true})
		require.NoError(t, err)
		assert.Equal(t, []mailbox.UID{uid}, found)

		result, err = store.SetFlags(ctx, nil, path, ranges, []string{"$Work"}, mailbox.FlagsRemove)
		require.NoError(t, err)
		assert.False(t, result[uid].Has("$Work"))

		// \Recent can't be given or taken by a client
		result, err = store.SetFlags(ctx, nil, path, ranges, []string{imap.AnsweredFlag}, mailbox.FlagsReplace)
		require.NoError(t, err)
		assert.Equal(t, mailbox.NewFlags(imap.AnsweredFlag, imap.RecentFlag), result[uid])

		found, err = store.Search(ctx, nil, path, search.Flag{Name: imap.SeenFlag, Set: false})
		require.NoError(t, err)
		assert.Equal(t, []mailbox.UID{uid}, found)
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		path := newMailbox(t, store, "Mismatch")
		_, err := store.Append(ctx, nil, path, mailbox.MessageProperties{Size: uint32(len(sampleMessage)) - 1}, strings.NewReader(sampleMessage))
		require.ErrorIs(t, err, lib.ErrSizeMismatch)

		metadata, err := store.Metadata(ctx, nil, path, false, mailbox.FetchNone)
		require.NoError(t, err)
		assert.Zero(t, metadata.MessageCount)
		assert.Equal(t, mailbox.UID(1), metadata.UidNext)
	})

	t.Run("ChangeTracking", func(t *testing.T) {
		path := newMailbox(t, store, "Tracking")
		writer := store.OpenSession(nil)
		defer writer.Close()
		reader := store.OpenSession(nil)
		defer reader.Close()

		for i := 0; i < 3; i++ {
			appendMessage(t, store, writer, path, sampleMessage)
		}
		_, err := store.Select(ctx, reader, path)
		require.NoError(t, err)

		// {1,2,3} becomes {2,3,4}
		_, err = store.SetFlags(ctx, writer, path, mailbox.RangeSet{mailbox.Single(1)}, []string{imap.DeletedFlag}, mailbox.FlagsAdd)
		require.NoError(t, err)
		expunged, err := store.Expunge(ctx, writer, path, nil)
		require.NoError(t, err)
		assert.Equal(t, []mailbox.UID{1}, expunged)
		added := appendMessage(t, store, writer, path, sampleMessage)
		assert.Equal(t, mailbox.UID(4), added)

		kinds := kindsOf(reader.Events())
		assert.Equal(t, []mailbox.UID{1}, kinds[events.Expunged])
		assert.Equal(t, []mailbox.UID{4}, kinds[events.Added])
		assert.Equal(t, []mailbox.UID{1}, kinds[events.FlagsUpdated])

		found, err := store.Search(ctx, reader, path, search.All{})
		require.NoError(t, err)
		assert.Equal(t, []mailbox.UID{2, 3, 4}, found)
	})

	t.Run("SilentEcho", func(t *testing.T) {
		path := newMailbox(t, store, "Silent")
		uid := appendMessage(t, store, nil, path, sampleMessage)

		s1 := store.OpenSession(nil)
		defer s1.Close()
		s2 := store.OpenSession(nil)
		defer s2.Close()
		s1.SetSilent(true)
		_, err := store.Select(ctx, s1, path)
		require.NoError(t, err)
		_, err = store.Select(ctx, s2, path)
		require.NoError(t, err)

		_, err = store.SetFlags(ctx, s1, path, nil, []string{imap.SeenFlag}, mailbox.FlagsAdd)
		require.NoError(t, err)

		assert.Empty(t, s1.Events())
		received := s2.Events()
		require.Len(t, received, 1)
		assert.Equal(t, events.FlagsUpdated, received[0].Kind)
		assert.Equal(t, uid, received[0].UID)
		assert.Equal(t, s1.ID(), received[0].Actor)

		// without silent, the session also sees its own change
		s1.SetSilent(false)
		_, err = store.SetFlags(ctx, s1, path, nil, []string{imap.FlaggedFlag}, mailbox.FlagsAdd)
		require.NoError(t, err)
		assert.Len(t, s1.Events(), 1)
		assert.Len(t, s2.Events(), 1)
	})

	t.Run("RecentIsGivenOnce", func(t *testing.T) {
		path := newMailbox(t, store, "Recent")
		first := appendMessage(t, store, nil, path, sampleMessage)
		second := appendMessage(t, store, nil, path, sampleMessage)

		s1 := store.OpenSession(nil)
		defer s1.Close()
		metadata, err := store.Select(ctx, s1, path)
		require.NoError(t, err)
		assert.Equal(t, []mailbox.UID{first, second}, metadata.Recent.Sorted())
		assert.Equal(t, []mailbox.UID{first, second}, s1.Recent().Sorted())

		found, err := store.Search(ctx, s1, path, search.Flag{Name: imap.RecentFlag, Set: true})
		require.NoError(t, err)
		assert.Equal(t, []mailbox.UID{first, second}, found)

		s2 := store.OpenSession(nil)
		defer s2.Close()
		metadata, err = store.Select(ctx, s2, path)
		require.NoError(t, err)
		assert.Empty(t, metadata.Recent)

		found, err = store.Search(ctx, s2, path, search.Flag{Name: imap.RecentFlag, Set: true})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("MetadataWithoutResetKeepsRecent", func(t *testing.T) {
		path := newMailbox(t, store, "Peek")
		uid := appendMessage(t, store, nil, path, sampleMessage)
		for i := 0; i < 2; i++ {
			metadata, err := store.Metadata(ctx, nil, path, false, mailbox.FetchNone)
			require.NoError(t, err)
			assert.True(t, metadata.Recent.Has(uid))
		}
	})

	t.Run("UnseenOrFirstUnseen", func(t *testing.T) {
		path := newMailbox(t, store, "Unseen")
		appendMessage(t, store, nil, path, sampleMessage, imap.SeenFlag)
		unseen := appendMessage(t, store, nil, path, sampleMessage)
		appendMessage(t, store, nil, path, sampleMessage)

		metadata, err := store.Metadata(ctx, nil, path, false, mailbox.FetchUnseenCount)
		require.NoError(t, err)
		require.NotNil(t, metadata.UnseenCount)
		assert.Equal(t, uint32(2), *metadata.UnseenCount)
		assert.Nil(t, metadata.FirstUnseen)

		metadata, err = store.Metadata(ctx, nil, path, false, mailbox.FetchFirstUnseen)
		require.NoError(t, err)
		require.NotNil(t, metadata.FirstUnseen)
		assert.Equal(t, unseen, *metadata.FirstUnseen)
		assert.Nil(t, metadata.UnseenCount)
		assert.Equal(t, uint32(3), metadata.MessageCount)

		metadata, err = store.Metadata(ctx, nil, path, false, mailbox.FetchNone)
		require.NoError(t, err)
		assert.Nil(t, metadata.FirstUnseen)
		assert.Nil(t, metadata.UnseenCount)
	})

	t.Run("Copy", func(t *testing.T) {
		source := newMailbox(t, store, "CopyFrom")
		destination := newMailbox(t, store, "CopyTo")
		appendMessage(t, store, nil, destination, sampleMessage)
		uid := appendMessage(t, store, nil, source, helloWorldMessage, imap.FlaggedFlag)

		results, err := store.Copy(ctx, nil, source, destination, mailbox.RangeSet{mailbox.Single(uid)})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uid, results[0].Source)
		assert.Equal(t, mailbox.UID(2), results[0].Destination)

		found, err := store.Search(ctx, nil, destination, search.And{
			search.Flag{Name: imap.FlaggedFlag, Set: true},
			search.BodyContains{Value: "Hello World"},
		})
		require.NoError(t, err)
		assert.Equal(t, []mailbox.UID{2}, found)
	})

	t.Run("RollbackOnFailedCopy", func(t *testing.T) {
		source := newMailbox(t, store, "RollbackFrom")
		destination := newMailbox(t, store, "RollbackTo")
		for i := 0; i < 3; i++ {
			appendMessage(t, store, nil, source, sampleMessage)
		}

		faulty := &faultyBackend{Backend: backend, target: destination.Key(), failAt: 2}
		faultyStore := newStore(t, faulty)
		_, err := faultyStore.Copy(ctx, nil, source, destination, nil)
		require.ErrorIs(t, err, errInjected)

		messages, err := backend.Messages(ctx, destination, nil, mailbox.FetchOptions{})
		require.NoError(t, err)
		switch backend.Capability() {
		case mapper.Full:
			assert.Empty(t, messages)
		case mapper.BestEffort:
			var txErr *mapper.TxError
			require.ErrorAs(t, err, &txErr)
			assert.ErrorIs(t, txErr.RollbackErr, lib.ErrRollbackUnsupported)
		default:
			assert.Len(t, messages, 1)
		}

		// uids allocated to the failed copy are never given again
		uid := appendMessage(t, store, nil, destination, sampleMessage)
		assert.Greater(t, uid, mailbox.UID(3))
	})

	t.Run("LockTimeoutLeavesWatermark", func(t *testing.T) {
		blocker := lock.NewLocal()
		blocked := newStore(t, backend, storage.WithLocker(blocker), storage.WithLockTimeout(50*time.Millisecond))
		path := newMailbox(t, blocked, "Blocked")
		appendMessage(t, blocked, nil, path, sampleMessage)

		release, err := blocker.Acquire(ctx, path.Key(), lock.Exclusive)
		require.NoError(t, err)
		_, err = blocked.Append(ctx, nil, path, mailbox.MessageProperties{}, strings.NewReader(sampleMessage))
		release()
		require.ErrorIs(t, err, lib.ErrLockTimeout)
		assert.Equal(t, lib.KindTransient, lib.KindOf(err))

		state, err := backend.MailboxState(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, mailbox.UID(1), state.LastUid)
	})

	t.Run("RenameAndDelete", func(t *testing.T) {
		path := newMailbox(t, store, "Before")
		renamed := mailbox.NewPath(testUser, "Renamed"+path.Name)
		appendMessage(t, store, nil, path, sampleMessage)
		before, err := store.Metadata(ctx, nil, path, false, mailbox.FetchNone)
		require.NoError(t, err)

		session := store.OpenSession(nil)
		defer session.Close()
		_, err = store.Select(ctx, session, path)
		require.NoError(t, err)

		require.NoError(t, store.RenameMailbox(ctx, nil, path, renamed))
		after, err := store.Metadata(ctx, nil, renamed, false, mailbox.FetchNone)
		require.NoError(t, err)
		assert.Equal(t, before.UidValidity, after.UidValidity)
		assert.Equal(t, before.UidNext, after.UidNext)

		_, err = store.Metadata(ctx, nil, path, false, mailbox.FetchNone)
		assert.Equal(t, lib.KindNotFound, lib.KindOf(err))

		// the session follows the mailbox
		uid := appendMessage(t, store, nil, renamed, sampleMessage)
		assert.Equal(t, mailbox.UID(2), uid)
		kinds := kindsOf(session.Events())
		assert.Contains(t, kinds, events.MailboxRenamed)
		assert.Equal(t, []mailbox.UID{2}, kinds[events.Added])

		require.NoError(t, store.DeleteMailbox(ctx, nil, renamed))
		kinds = kindsOf(session.Events())
		assert.Contains(t, kinds, events.MailboxDeleted)
		_, err = store.Search(ctx, nil, renamed, search.All{})
		assert.ErrorIs(t, err, lib.ErrMailboxNotFound)
	})

	t.Run("SelectWhileAppending", func(t *testing.T) {
		for round := 0; round < 10; round++ {
			path := newMailbox(t, store, "Racing")
			appendMessage(t, store, nil, path, sampleMessage)
			session := store.OpenSession(nil)

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				for i := 0; i < 3; i++ {
					_, err := store.Append(groupCtx, nil, path, mailbox.MessageProperties{}, strings.NewReader(sampleMessage))
					if err != nil {
						return err
					}
				}
				return nil
			})
			metadata, err := store.Select(ctx, session, path)
			require.NoError(t, err)
			require.NoError(t, group.Wait())

			// every message missing from the snapshot is announced
			expected := []mailbox.UID{}
			for uid := metadata.UidNext; uid <= 4; uid++ {
				expected = append(expected, uid)
			}
			added := kindsOf(session.Events())[events.Added]
			if added == nil {
				added = []mailbox.UID{}
			}
			assert.Equal(t, expected, added, "round %d", round)
			session.Close()
		}
	})

	t.Run("SearchOnDayInOwnTimezone", func(t *testing.T) {
		path := newMailbox(t, store, "Timezone")
		tokyo := time.FixedZone("", 9*3600)
		uid, err := store.Append(ctx, nil, path, mailbox.MessageProperties{
			InternalDate: time.Date(2023, 1, 2, 1, 0, 0, 0, tokyo),
		}, strings.NewReader(sampleMessage))
		require.NoError(t, err)

		found, err := store.Search(ctx, nil, path, search.Date{Op: search.DateOn, Day: time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)})
		require.NoError(t, err)
		assert.Equal(t, []mailbox.UID{uid}, found)

		found, err = store.Search(ctx, nil, path, search.Date{Op: search.DateOn, Day: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("RecentForAppendingSession", func(t *testing.T) {
		path := newMailbox(t, store, "OwnRecent")
		other := newMailbox(t, store, "OwnRecentSource")
		source := appendMessage(t, store, nil, other, helloWorldMessage)

		s1 := store.OpenSession(nil)
		defer s1.Close()
		_, err := store.Select(ctx, s1, path)
		require.NoError(t, err)

		appended := appendMessage(t, store, s1, path, sampleMessage)
		results, err := store.Copy(ctx, s1, other, path, mailbox.RangeSet{mailbox.Single(source)})
		require.NoError(t, err)
		require.Len(t, results, 1)
		copied := results[0].Destination

		assert.Equal(t, []mailbox.UID{appended, copied}, s1.Recent().Sorted())
		found, err := store.Search(ctx, s1, path, search.Flag{Name: imap.RecentFlag, Set: true})
		require.NoError(t, err)
		assert.Equal(t, []mailbox.UID{appended, copied}, found)

		// already claimed by the session that selected the mailbox
		s2 := store.OpenSession(nil)
		defer s2.Close()
		metadata, err := store.Select(ctx, s2, path)
		require.NoError(t, err)
		assert.Empty(t, metadata.Recent)
	})

	t.Run("ClosedSession", func(t *testing.T) {
		path := newMailbox(t, store, "Closed")
		session := store.OpenSession(nil)
		session.Close()
		session.Close()
		_, err := store.Append(ctx, session, path, mailbox.MessageProperties{}, bytes.NewBufferString(sampleMessage))
		assert.ErrorIs(t, err, lib.ErrSessionClosed)
	})
}
