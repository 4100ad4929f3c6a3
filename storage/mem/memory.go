// Package mem is a storage backend keeping everything in memory.
// It writes immediately and has no transaction: a failure in the middle of an operation is not rolled back.
package mem

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/creativeprojects/mailstore/content"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/mapper"
)

type Backend struct {
	mu   sync.RWMutex
	data map[string]*memMailbox
	log  lib.Logger
}

func New() *Backend {
	return NewWithLogger(nil)
}

func NewWithLogger(logger lib.Logger) *Backend {
	return &Backend{
		data: make(map[string]*memMailbox),
		log:  lib.OrNoLog(logger),
	}
}

func (m *Backend) DebugLogger(logger lib.Logger) {
	m.log = lib.OrNoLog(logger)
}

func (m *Backend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*memMailbox)
	return nil
}

func (m *Backend) Capability() mapper.Capability {
	return mapper.None
}

func (m *Backend) Begin(ctx context.Context) (context.Context, mapper.Tx, error) {
	return ctx, mapper.NoTx{}, nil
}

func (m *Backend) CreateMailbox(ctx context.Context, path mailbox.Path, uidValidity uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[path.Key()]; ok {
		return fmt.Errorf("%q: %w", path, lib.ErrMailboxExists)
	}
	m.data[path.Key()] = newMailbox(path, uidValidity)
	m.log.Printf("mailbox %q created", path)
	return nil
}

func (m *Backend) DeleteMailbox(ctx context.Context, path mailbox.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[path.Key()]; !ok {
		return fmt.Errorf("%q: %w", path, lib.ErrMailboxNotFound)
	}
	delete(m.data, path.Key())
	return nil
}

func (m *Backend) RenameMailbox(ctx context.Context, from, to mailbox.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mbox, ok := m.data[from.Key()]
	if !ok {
		return fmt.Errorf("%q: %w", from, lib.ErrMailboxNotFound)
	}
	if _, ok := m.data[to.Key()]; ok {
		return fmt.Errorf("%q: %w", to, lib.ErrMailboxExists)
	}
	delete(m.data, from.Key())
	mbox.path = to.Canonical()
	m.data[to.Key()] = mbox
	return nil
}

func (m *Backend) ListMailboxes(ctx context.Context) ([]mailbox.Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]mailbox.Info, 0, len(m.data))
	for _, mbox := range m.data {
		list = append(list, mailbox.Info{
			Path:  mbox.path,
			State: mbox.state,
		})
	}
	return list, nil
}

func (m *Backend) MailboxState(ctx context.Context, path mailbox.Path) (mailbox.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mbox, err := m.get(path)
	if err != nil {
		return mailbox.State{}, err
	}
	return mbox.state, nil
}

func (m *Backend) IncrementLastUid(ctx context.Context, path mailbox.Path) (mailbox.UID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mbox, err := m.get(path)
	if err != nil {
		return 0, err
	}
	mbox.state.LastUid++
	return mbox.state.LastUid, nil
}

func (m *Backend) Messages(ctx context.Context, path mailbox.Path, ranges mailbox.RangeSet, options mailbox.FetchOptions) ([]*mailbox.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mbox, err := m.get(path)
	if err != nil {
		return nil, err
	}
	messages := make([]*mailbox.Message, 0, len(mbox.messages))
	for _, uid := range mbox.sortedUids() {
		if !ranges.Contains(uid) {
			continue
		}
		messages = append(messages, mbox.messages[uid].message(options))
	}
	return messages, nil
}

func (m *Backend) PutMessage(ctx context.Context, path mailbox.Path, msg *mailbox.Message, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mbox, err := m.get(path)
	if err != nil {
		return err
	}
	if msg.UID == 0 || msg.UID > mbox.state.LastUid {
		return fmt.Errorf("uid %d was not allocated in mailbox %q", msg.UID, path)
	}
	stored := *msg
	stored.Flags = slices.Clone(msg.Flags)
	stored.Headers = slices.Clone(msg.Headers)
	stored.Body = nil
	stored.SeqNum = 0
	mbox.messages[msg.UID] = &memMessage{
		meta:    stored,
		content: slices.Clone(body),
	}
	return nil
}

func (m *Backend) UpdateFlags(ctx context.Context, path mailbox.Path, flags map[mailbox.UID]mailbox.Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mbox, err := m.get(path)
	if err != nil {
		return err
	}
	for uid := range flags {
		if _, ok := mbox.messages[uid]; !ok {
			return fmt.Errorf("uid %d: %w", uid, lib.ErrMessageNotFound)
		}
	}
	for uid, value := range flags {
		mbox.messages[uid].meta.Flags = slices.Clone(value)
	}
	return nil
}

func (m *Backend) DeleteMessages(ctx context.Context, path mailbox.Path, uids []mailbox.UID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mbox, err := m.get(path)
	if err != nil {
		return err
	}
	for _, uid := range uids {
		delete(mbox.messages, uid)
	}
	return nil
}

func (m *Backend) MessageBody(ctx context.Context, path mailbox.Path, uid mailbox.UID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mbox, err := m.get(path)
	if err != nil {
		return nil, err
	}
	msg, ok := mbox.messages[uid]
	if !ok {
		return nil, fmt.Errorf("uid %d: %w", uid, lib.ErrMessageNotFound)
	}
	return slices.Clone(msg.content), nil
}

// GenerateFakeEmails fills a mailbox with random messages, creating it if needed.
func (m *Backend) GenerateFakeEmails(ctx context.Context, path mailbox.Path, count uint32, minSize, maxSize int) error {
	if _, err := m.MailboxState(ctx, path); err != nil {
		uidValidity, err := lib.DefaultUidValidity().Generate()
		if err != nil {
			return err
		}
		if err := m.CreateMailbox(ctx, path, uidValidity); err != nil {
			return err
		}
	}
	var i uint32
	for i = 1; i <= count; i++ {
		raw := lib.GenerateEmail("user1@example.com", "user2@example.com", i, minSize, maxSize)
		projection, err := content.ParseBytes(raw)
		if err != nil {
			return err
		}
		uid, err := m.IncrementLastUid(ctx, path)
		if err != nil {
			return err
		}
		msg := &mailbox.Message{
			UID:          uid,
			InternalDate: lib.GenerateDateFrom(time.Date(2010, 1, 1, 12, 0, 0, 0, time.Local)),
			Size:         projection.Size,
			Flags:        mailbox.NewFlags(lib.GenerateFlags(5)...),
			Headers:      projection.Headers,
			MediaType:    projection.MediaType,
		}
		if err := m.PutMessage(ctx, path, msg, raw); err != nil {
			return err
		}
	}
	return nil
}

func (m *Backend) get(path mailbox.Path) (*memMailbox, error) {
	mbox, ok := m.data[path.Key()]
	if !ok {
		return nil, fmt.Errorf("%q: %w", path, lib.ErrMailboxNotFound)
	}
	return mbox, nil
}
