package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/creativeprojects/mailstore/events"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/storage/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testMessage = "From: contact@example.org\r\n" +
	"To: contact@example.org\r\n" +
	"Subject: Hello\r\n" +
	"\r\n" +
	"Hello World"

func newTestStore(t *testing.T, opts ...Option) (*Store, *mem.Backend) {
	t.Helper()

	backend := mem.New()
	opts = append([]Option{
		WithLogger(lib.NewTestLogger(t, "store")),
		WithUidValidity(&lib.IncrementalUidValidity{}),
	}, opts...)
	store, err := NewStore(backend, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, backend
}

func TestNewStoreWithoutBackend(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)
}

func TestCreateMailboxTwice(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	path := mailbox.NewPath("user", "INBOX")

	require.NoError(t, store.CreateMailbox(ctx, nil, path))
	err := store.CreateMailbox(ctx, nil, path)
	assert.ErrorIs(t, err, lib.ErrMailboxExists)
	var classified *lib.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, "create-mailbox", classified.Op)
}

func TestUidValidityIsNewForEachMailbox(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	path := mailbox.NewPath("user", "INBOX")

	require.NoError(t, store.CreateMailbox(ctx, nil, path))
	first, err := store.Metadata(ctx, nil, path, false, mailbox.FetchNone)
	require.NoError(t, err)

	require.NoError(t, store.DeleteMailbox(ctx, nil, path))
	require.NoError(t, store.CreateMailbox(ctx, nil, path))
	second, err := store.Metadata(ctx, nil, path, false, mailbox.FetchNone)
	require.NoError(t, err)

	assert.NotEqual(t, first.UidValidity, second.UidValidity)
	assert.Equal(t, mailbox.UID(1), second.UidNext)
}

func TestListMailboxesIsSorted(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	for _, name := range []string{"Work", "INBOX", "Archive", "Archive.2024"} {
		require.NoError(t, store.CreateMailbox(ctx, nil, mailbox.NewPath("user", name)))
	}

	list, err := store.ListMailboxes(ctx)
	require.NoError(t, err)
	names := make([]string, len(list))
	for i, info := range list {
		names[i] = info.Path.Name
	}
	assert.Equal(t, []string{"Archive", "Archive.2024", "INBOX", "Work"}, names)
}

func TestDelimiterDoesNotChangeMailbox(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.CreateMailbox(ctx, nil, mailbox.Path{User: "user", Name: "Archive/2024", Delimiter: "/"}))

	uid, err := store.Append(ctx, nil, mailbox.NewPath("user", "Archive.2024"), mailbox.MessageProperties{}, strings.NewReader(testMessage))
	require.NoError(t, err)
	assert.Equal(t, mailbox.UID(1), uid)
}

func TestAllocatorRefusesTransaction(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, store.CreateMailbox(ctx, nil, path))

	err := store.mapper.Execute(ctx, func(ctx context.Context) error {
		_, err := store.Allocator().ReserveNextUid(ctx, path)
		return err
	})
	assert.ErrorIs(t, err, errAllocationInTransaction)
}

// rewinding wraps a backend to return a watermark going backwards after 2
type rewinding struct {
	*mem.Backend
}

func (r *rewinding) IncrementLastUid(ctx context.Context, path mailbox.Path) (mailbox.UID, error) {
	uid, err := r.Backend.IncrementLastUid(ctx, path)
	if err != nil {
		return 0, err
	}
	if uid > 2 {
		return uid - 2, nil
	}
	return uid, nil
}

func TestAllocatorDetectsRegression(t *testing.T) {
	ctx := context.Background()
	backend := &rewinding{Backend: mem.New()}
	store, err := NewStore(backend, WithLogger(lib.NewTestLogger(t, "store")))
	require.NoError(t, err)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, store.CreateMailbox(ctx, nil, path))

	for i := 1; i <= 2; i++ {
		uid, err := store.Allocator().ReserveNextUid(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, mailbox.UID(i), uid)
	}
	_, err = store.Allocator().ReserveNextUid(ctx, path)
	assert.ErrorIs(t, err, lib.ErrUidRegression)
}

func TestConcurrentAllocations(t *testing.T) {
	ctx := context.Background()
	store, backend := newTestStore(t)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, store.CreateMailbox(ctx, nil, path))

	const count = 100
	uids := make([]mailbox.UID, count)
	group := errgroup.Group{}
	for i := 0; i < count; i++ {
		i := i
		group.Go(func() error {
			uid, err := store.Allocator().ReserveNextUid(ctx, path)
			uids[i] = uid
			return err
		})
	}
	require.NoError(t, group.Wait())

	mailbox.SortUIDs(uids)
	for i, uid := range uids {
		assert.Equal(t, mailbox.UID(i+1), uid)
	}
	state, err := backend.MailboxState(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, mailbox.UID(count), state.LastUid)
}

func TestSessionHandler(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, store.CreateMailbox(ctx, nil, path))

	received := make([]events.Event, 0)
	session := store.OpenSession(func(event events.Event) error {
		received = append(received, event)
		return nil
	})
	defer session.Close()
	_, err := store.Select(ctx, session, path)
	require.NoError(t, err)
	selected, ok := session.Selected()
	require.True(t, ok)
	assert.Equal(t, path.Key(), selected.Key())

	_, err = store.Append(ctx, nil, path, mailbox.MessageProperties{}, strings.NewReader(testMessage))
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, events.Added, received[0].Kind)
	assert.Empty(t, session.Events())

	session.Close()
	assert.Equal(t, 0, store.Dispatcher().Count(path))
	_, ok = session.Selected()
	assert.False(t, ok)
}

func TestSelectAnotherMailboxUnregisters(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	inbox := mailbox.NewPath("user", "INBOX")
	work := mailbox.NewPath("user", "Work")
	require.NoError(t, store.CreateMailbox(ctx, nil, inbox))
	require.NoError(t, store.CreateMailbox(ctx, nil, work))

	session := store.OpenSession(nil)
	defer session.Close()
	_, err := store.Select(ctx, session, inbox)
	require.NoError(t, err)
	_, err = store.Select(ctx, session, work)
	require.NoError(t, err)

	assert.Equal(t, 0, store.Dispatcher().Count(inbox))
	assert.Equal(t, 1, store.Dispatcher().Count(work))
}

func TestWithSession(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	path := mailbox.NewPath("user", "INBOX")

	var kept *Session
	err := WithSession(ctx, store, func(ctx context.Context, session *Session) error {
		kept = session
		assert.NotEmpty(t, session.ID())
		return store.CreateMailbox(ctx, session, path)
	})
	require.NoError(t, err)
	err = store.DeleteMailbox(ctx, kept, path)
	assert.ErrorIs(t, err, lib.ErrSessionClosed)
}

func TestExpungeOnlyInRange(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, store.CreateMailbox(ctx, nil, path))
	for i := 0; i < 4; i++ {
		_, err := store.Append(ctx, nil, path, mailbox.MessageProperties{Flags: []string{"\\Deleted"}}, strings.NewReader(testMessage))
		require.NoError(t, err)
	}

	expunged, err := store.Expunge(ctx, nil, path, mailbox.RangeSet{{Low: 2, High: 3}})
	require.NoError(t, err)
	assert.Equal(t, []mailbox.UID{2, 3}, expunged)

	expunged, err = store.Expunge(ctx, nil, path, mailbox.RangeSet{{Low: 2, High: 3}})
	require.NoError(t, err)
	assert.Empty(t, expunged)
}

func TestCancelledContext(t *testing.T) {
	store, _ := newTestStore(t, WithLockTimeout(time.Second))
	path := mailbox.NewPath("user", "INBOX")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.CreateMailbox(ctx, nil, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImportNeedsImporter(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	path := mailbox.NewPath("user", "INBOX")
	require.NoError(t, store.CreateMailbox(ctx, nil, path))

	uids, err := store.Import(ctx, nil, path)
	assert.Error(t, err)
	assert.Empty(t, uids)
}
