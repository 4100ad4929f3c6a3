package storage

import (
	"context"

	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/search"
	"github.com/emersion/go-imap"
)

// Search returns the UIDs of the messages matching the query, in ascending order.
// \Recent is evaluated against the recent set of the session.
func (s *Store) Search(ctx context.Context, session *Session, path mailbox.Path, query search.Criterion) ([]mailbox.UID, error) {
	var found []mailbox.UID
	err := s.run(ctx, "search", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		if err := search.Validate(query); err != nil {
			return err
		}
		return s.shared(ctx, path, func(ctx context.Context) error {
			tracker, err := s.tracker(ctx, path)
			if err != nil {
				return err
			}
			// sequence numbers need the whole mailbox: only a query on UIDs can restrict the enumeration
			ranges, _ := search.UIDOnly(query)
			messages, err := s.backend.Messages(ctx, path, ranges, search.Options(query))
			if err != nil {
				return err
			}
			if ranges == nil {
				for i, msg := range messages {
					msg.SeqNum = uint32(i + 1)
				}
			}

			recent := session.recentFor(path)
			found = make([]mailbox.UID, 0)
			for _, msg := range messages {
				ok, err := search.Matches(query, msg, recent)
				if err != nil {
					return err
				}
				if ok {
					found = append(found, msg.UID)
				}
			}
			s.reconcile(ctx, tracker, ranges, messages, "")
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Metadata returns a snapshot of the mailbox. With resetRecent, the \Recent flag is removed from
// all the messages in the same operation: the recent set is only returned once.
// Depending on group, either the number of unseen messages or the first unseen message is computed.
func (s *Store) Metadata(ctx context.Context, session *Session, path mailbox.Path, resetRecent bool, group mailbox.FetchGroup) (*mailbox.Metadata, error) {
	var metadata *mailbox.Metadata
	err := s.run(ctx, "metadata", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		var err error
		metadata, err = s.metadata(ctx, session, path, resetRecent, group)
		return err
	})
	if err != nil {
		return nil, err
	}
	return metadata, nil
}

func (s *Store) metadata(ctx context.Context, session *Session, path mailbox.Path, resetRecent bool, group mailbox.FetchGroup) (*mailbox.Metadata, error) {
	mode := lock.Shared
	if resetRecent {
		mode = lock.Exclusive
	}
	return lock.WithLock(ctx, s.locker, path.Key(), mode, s.lockTimeout, func(ctx context.Context) (*mailbox.Metadata, error) {
		tracker, err := s.tracker(ctx, path)
		if err != nil {
			return nil, err
		}
		// the watermark is read again, never taken from a cache
		state, err := s.backend.MailboxState(ctx, path)
		if err != nil {
			return nil, err
		}
		messages, err := s.backend.Messages(ctx, path, nil, mailbox.FetchOptions{})
		if err != nil {
			return nil, err
		}

		metadata := &mailbox.Metadata{
			UidValidity:  state.UidValidity,
			UidNext:      state.UidNext(),
			MessageCount: uint32(len(messages)),
			Recent:       mailbox.NewUIDSet(),
		}
		var unseen uint32
		var firstUnseen *mailbox.UID
		reset := make(map[mailbox.UID]mailbox.Flags)
		for _, msg := range messages {
			if msg.Flags.Has(imap.RecentFlag) {
				metadata.Recent.Add(msg.UID)
				if resetRecent {
					msg.Flags = msg.Flags.WithoutRecent()
					reset[msg.UID] = msg.Flags
				}
			}
			if !msg.Flags.Has(imap.SeenFlag) {
				unseen++
				if firstUnseen == nil {
					uid := msg.UID
					firstUnseen = &uid
				}
			}
		}
		switch group {
		case mailbox.FetchUnseenCount:
			metadata.UnseenCount = &unseen
		case mailbox.FetchFirstUnseen:
			metadata.FirstUnseen = firstUnseen
		}

		if len(reset) > 0 {
			err = s.mapper.Execute(ctx, func(ctx context.Context) error {
				return s.backend.UpdateFlags(ctx, path, reset)
			})
			if err != nil {
				return nil, err
			}
		}
		s.reconcile(ctx, tracker, nil, messages, actorOf(session))
		return metadata, nil
	})
}

// Select opens a mailbox in the session: the recent messages are given to the session
// (and no other session will see them as recent), and the session starts receiving the events of the mailbox.
func (s *Store) Select(ctx context.Context, session *Session, path mailbox.Path) (*mailbox.Metadata, error) {
	var metadata *mailbox.Metadata
	err := s.run(ctx, "select", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		// the listener is registered before the lock is released: a message appended
		// after the snapshot is always announced to the session
		return s.exclusive(ctx, path, func(ctx context.Context) error {
			var err error
			metadata, err = s.metadata(ctx, session, path, true, mailbox.FetchFirstUnseen)
			if err != nil {
				return err
			}
			return session.selectMailbox(path, metadata.Recent)
		})
	})
	if err != nil {
		return nil, err
	}
	return metadata, nil
}
