// Package mdir is a storage backend using one maildir folder per mailbox.
//
// The maildir file names only carry the system flags: the UIDs, the keywords and the header projection
// are kept in a JSON index next to each folder. Writes are not transactional: a failed operation can
// leave a partial change behind.
package mdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/creativeprojects/mailstore/content"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/mapper"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-maildir"
)

const (
	locksDir          = ".locks"
	importLockTimeout = 30 * time.Second
)

type Maildir struct {
	root    string
	lockTTL time.Duration
	log     lib.Logger
	mu      sync.RWMutex
}

func New(root string) (*Maildir, error) {
	return NewWithLogger(root, nil)
}

func NewWithLogger(root string, logger lib.Logger) (*Maildir, error) {
	if runtime.GOOS == "windows" {
		return nil, errors.New("maildir is not supported on Windows")
	}
	err := os.MkdirAll(root, 0700)
	if err != nil {
		return nil, err
	}

	return &Maildir{
		root:    root,
		lockTTL: lock.DefaultFileTTL,
		log:     lib.OrNoLog(logger),
	}, nil
}

func (m *Maildir) DebugLogger(logger lib.Logger) {
	m.log = lib.OrNoLog(logger)
}

func (m *Maildir) Close() error {
	return nil
}

func (m *Maildir) Root() string {
	return m.root
}

// SetLockTTL changes the time after which a lock token left by a dead process is removed.
func (m *Maildir) SetLockTTL(ttl time.Duration) {
	m.lockTTL = ttl
}

// Locker returns a lock shared with the other processes using the same root directory.
func (m *Maildir) Locker(logger lib.Logger) lock.Locker {
	return lock.NewFileWithLogger(filepath.Join(m.root, locksDir), m.lockTTL, logger)
}

func (m *Maildir) Capability() mapper.Capability {
	return mapper.BestEffort
}

// Begin has nothing to start: every change is written straight away.
func (m *Maildir) Begin(ctx context.Context) (context.Context, mapper.Tx, error) {
	return ctx, mapper.NoTx{}, nil
}

func (m *Maildir) CreateMailbox(ctx context.Context, path mailbox.Path, uidValidity uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.indexFile(path)); err == nil {
		return fmt.Errorf("%q: %w", path, lib.ErrMailboxExists)
	}
	err := maildir.Dir(m.dir(path)).Init()
	if err != nil {
		return err
	}
	canonical := path.Canonical()
	return saveIndex(m.indexFile(path), &index{
		Namespace:   canonical.Namespace,
		User:        canonical.User,
		Name:        canonical.Name,
		UidValidity: uidValidity,
		Messages:    make(map[mailbox.UID]*indexEntry),
	})
}

func (m *Maildir) DeleteMailbox(ctx context.Context, path mailbox.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.load(path); err != nil {
		return err
	}
	// the index goes first: a folder without index is not a mailbox
	if err := os.Remove(m.indexFile(path)); err != nil {
		return err
	}
	return os.RemoveAll(m.dir(path))
}

func (m *Maildir) RenameMailbox(ctx context.Context, from, to mailbox.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.load(from)
	if err != nil {
		return err
	}
	if _, err := os.Stat(m.indexFile(to)); err == nil {
		return fmt.Errorf("%q: %w", to, lib.ErrMailboxExists)
	}
	if err = os.Rename(m.dir(from), m.dir(to)); err != nil {
		return err
	}
	canonical := to.Canonical()
	idx.Namespace, idx.User, idx.Name = canonical.Namespace, canonical.User, canonical.Name
	if err = saveIndex(m.indexFile(to), idx); err != nil {
		return err
	}
	return os.Remove(m.indexFile(from))
}

func (m *Maildir) ListMailboxes(ctx context.Context) ([]mailbox.Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}
	list := make([]mailbox.Info, 0)
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), indexSuffix) {
			continue
		}
		idx, err := loadIndex(filepath.Join(m.root, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("cannot load index %q: %w", file.Name(), err)
		}
		list = append(list, mailbox.Info{
			Path:  idx.path(),
			State: idx.state(),
		})
	}
	return list, nil
}

func (m *Maildir) MailboxState(ctx context.Context, path mailbox.Path) (mailbox.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, err := m.load(path)
	if err != nil {
		return mailbox.State{}, err
	}
	return idx.state(), nil
}

func (m *Maildir) IncrementLastUid(ctx context.Context, path mailbox.Path) (mailbox.UID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.load(path)
	if err != nil {
		return 0, err
	}
	idx.LastUid++
	if err = saveIndex(m.indexFile(path), idx); err != nil {
		return 0, err
	}
	return idx.LastUid, nil
}

func (m *Maildir) Messages(ctx context.Context, path mailbox.Path, ranges mailbox.RangeSet, options mailbox.FetchOptions) ([]*mailbox.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, err := m.load(path)
	if err != nil {
		return nil, err
	}
	dir := maildir.Dir(m.dir(path))
	messages := make([]*mailbox.Message, 0, len(idx.Messages))
	for _, uid := range idx.sortedUids() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !ranges.Contains(uid) {
			continue
		}
		entry := idx.Messages[uid]
		msg := entry.message(uid, options)
		if options.Body {
			msg.Body, err = readMessage(dir, entry.Key)
			if err != nil {
				return nil, fmt.Errorf("uid %d: %w", uid, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (m *Maildir) PutMessage(ctx context.Context, path mailbox.Path, msg *mailbox.Message, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.load(path)
	if err != nil {
		return err
	}
	if msg.UID == 0 || msg.UID > idx.LastUid {
		return fmt.Errorf("uid %d was not allocated in mailbox %q", msg.UID, path)
	}
	created, err := m.create(maildir.Dir(m.dir(path)), msg.Flags, body)
	if err != nil {
		return err
	}
	if !msg.InternalDate.IsZero() {
		_ = os.Chtimes(created.Filename(), time.Now(), msg.InternalDate)
	}
	idx.Messages[msg.UID] = &indexEntry{
		Key:       created.Key(),
		Flags:     msg.Flags,
		Date:      msg.InternalDate,
		Size:      msg.Size,
		Headers:   msg.Headers,
		MediaType: msg.MediaType,
	}
	if err = saveIndex(m.indexFile(path), idx); err != nil {
		_ = created.Remove()
		return err
	}
	m.log.Printf("Message saved: mailbox=%q uid=%d key=%q size=%d flags=%v", path, msg.UID, created.Key(), msg.Size, msg.Flags)
	return nil
}

func (m *Maildir) create(dir maildir.Dir, flags mailbox.Flags, body []byte) (*maildir.Message, error) {
	msg, writer, err := dir.Create(toFlags(flags))
	if err != nil {
		return nil, err
	}
	if _, err = writer.Write(body); err != nil {
		writer.Close()
		return nil, err
	}
	if err = writer.Close(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *Maildir) UpdateFlags(ctx context.Context, path mailbox.Path, flags map[mailbox.UID]mailbox.Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.load(path)
	if err != nil {
		return err
	}
	dir := maildir.Dir(m.dir(path))
	for uid, value := range flags {
		entry, ok := idx.Messages[uid]
		if !ok {
			return fmt.Errorf("uid %d: %w", uid, lib.ErrMessageNotFound)
		}
		msg, err := dir.MessageByKey(entry.Key)
		if err != nil {
			return fmt.Errorf("uid %d: %w", uid, err)
		}
		if err = msg.SetFlags(toFlags(value)); err != nil {
			return fmt.Errorf("uid %d: %w", uid, err)
		}
		entry.Flags = value
	}
	return saveIndex(m.indexFile(path), idx)
}

func (m *Maildir) DeleteMessages(ctx context.Context, path mailbox.Path, uids []mailbox.UID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.load(path)
	if err != nil {
		return err
	}
	dir := maildir.Dir(m.dir(path))
	for _, uid := range uids {
		entry, ok := idx.Messages[uid]
		if !ok {
			continue
		}
		delete(idx.Messages, uid)
		msg, err := dir.MessageByKey(entry.Key)
		if err != nil {
			m.log.Printf("message file of uid %d in %q is already gone: %s", uid, path, err)
			continue
		}
		if err = msg.Remove(); err != nil {
			return fmt.Errorf("uid %d: %w", uid, err)
		}
	}
	return saveIndex(m.indexFile(path), idx)
}

func (m *Maildir) MessageBody(ctx context.Context, path mailbox.Path, uid mailbox.UID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, err := m.load(path)
	if err != nil {
		return nil, err
	}
	entry, ok := idx.Messages[uid]
	if !ok {
		return nil, fmt.Errorf("uid %d: %w", uid, lib.ErrMessageNotFound)
	}
	return readMessage(maildir.Dir(m.dir(path)), entry.Key)
}

// Import indexes the messages delivered into the maildir folder by another program.
// They receive \Recent, the flags found in their file name and a UID from reserve,
// or from the mailbox watermark when reserve is nil. The mailbox is locked against the other
// processes for the whole import; a lock already held by ctx is joined.
func (m *Maildir) Import(ctx context.Context, path mailbox.Path, reserve func(ctx context.Context) (mailbox.UID, error)) ([]*mailbox.Message, error) {
	if reserve == nil {
		reserve = func(ctx context.Context) (mailbox.UID, error) {
			return m.IncrementLastUid(ctx, path)
		}
	}
	imported := make([]*mailbox.Message, 0)
	err := lock.Do(ctx, m.Locker(m.log), path.Key(), lock.Exclusive, importLockTimeout, func(ctx context.Context) error {
		delivered, err := m.delivered(path)
		if err != nil {
			return err
		}
		for _, entry := range delivered {
			uid, err := reserve(ctx)
			if err != nil {
				return err
			}
			if err = m.addEntry(path, uid, entry); err != nil {
				return err
			}
			imported = append(imported, entry.message(uid, mailbox.FetchOptions{Headers: true}))
		}
		return nil
	})
	return imported, err
}

// delivered returns the entries of the messages missing from the index
func (m *Maildir) delivered(path mailbox.Path) ([]*indexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.load(path)
	if err != nil {
		return nil, err
	}
	dir := maildir.Dir(m.dir(path))
	// moves the messages from new to cur
	if _, err = dir.Unseen(); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(idx.Messages))
	for _, entry := range idx.Messages {
		known[entry.Key] = true
	}
	files, err := dir.Messages()
	if err != nil {
		return nil, err
	}
	entries := make([]*indexEntry, 0)
	for _, file := range files {
		if known[file.Key()] {
			continue
		}
		info, err := os.Stat(file.Filename())
		if err != nil {
			return nil, fmt.Errorf("cannot stat %q: %w", file.Filename(), err)
		}
		raw, err := os.ReadFile(file.Filename())
		if err != nil {
			return nil, fmt.Errorf("cannot read %q: %w", file.Filename(), err)
		}
		projection, err := content.ParseBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("message %q: %w", file.Key(), err)
		}
		entries = append(entries, &indexEntry{
			Key:       file.Key(),
			Flags:     flagsToStrings(file.Flags()).Add(imap.RecentFlag),
			Date:      info.ModTime(),
			Size:      projection.Size,
			Headers:   projection.Headers,
			MediaType: projection.MediaType,
		})
	}
	return entries, nil
}

func (m *Maildir) addEntry(path mailbox.Path, uid mailbox.UID, entry *indexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.load(path)
	if err != nil {
		return err
	}
	if uid == 0 || uid > idx.LastUid {
		return fmt.Errorf("uid %d was not allocated in mailbox %q", uid, path)
	}
	if _, exists := idx.Messages[uid]; exists {
		return fmt.Errorf("uid %d is already used in mailbox %q", uid, path)
	}
	idx.Messages[uid] = entry
	if err = saveIndex(m.indexFile(path), idx); err != nil {
		return err
	}
	m.log.Printf("Message imported: mailbox=%q uid=%d key=%q size=%d", path, uid, entry.Key, entry.Size)
	return nil
}

func readMessage(dir maildir.Dir, key string) ([]byte, error) {
	msg, err := dir.MessageByKey(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, lib.ErrMessageNotFound
		}
		return nil, err
	}
	file, err := msg.Open()
	if err != nil {
		return nil, fmt.Errorf("cannot open key %q: %w", key, err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (m *Maildir) load(path mailbox.Path) (*index, error) {
	idx, err := loadIndex(m.indexFile(path))
	if errors.Is(err, lib.ErrMailboxNotFound) {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	return idx, err
}

func (m *Maildir) dir(path mailbox.Path) string {
	return filepath.Join(m.root, url.PathEscape(path.Key()))
}

func (m *Maildir) indexFile(path mailbox.Path) string {
	return m.dir(path) + indexSuffix
}
