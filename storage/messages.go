package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/creativeprojects/mailstore/content"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/emersion/go-imap"
)

// CopyResult maps a copied message to its UID in the destination mailbox.
type CopyResult struct {
	Source      mailbox.UID
	Destination mailbox.UID
}

// Append stores a new message with a UID greater than any other in the mailbox. It is recent for the session
// when the session has the mailbox selected, or for the next session selecting it otherwise.
func (s *Store) Append(ctx context.Context, session *Session, path mailbox.Path, props mailbox.MessageProperties, body io.Reader) (mailbox.UID, error) {
	var uid mailbox.UID
	err := s.run(ctx, "append", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		raw, err := io.ReadAll(io.LimitReader(body, content.MaxSize+1))
		if err != nil {
			return fmt.Errorf("cannot read message: %w", err)
		}
		projection, err := content.ParseBytes(raw)
		if err != nil {
			return err
		}
		if props.Size != 0 && props.Size != projection.Size {
			return fmt.Errorf("advertised %d bytes but received %d: %w", props.Size, projection.Size, lib.ErrSizeMismatch)
		}
		internalDate := props.InternalDate
		if internalDate.IsZero() {
			internalDate = time.Now()
		}
		msg := &mailbox.Message{
			InternalDate: internalDate,
			Size:         projection.Size,
			Flags:        mailbox.NewFlags(props.Flags...).Add(imap.RecentFlag),
			Headers:      projection.Headers,
			MediaType:    projection.MediaType,
		}

		return s.exclusive(ctx, path, func(ctx context.Context) error {
			tracker, err := s.tracker(ctx, path)
			if err != nil {
				return err
			}
			claim := session.isSelected(path)
			if claim {
				msg.Flags = msg.Flags.WithoutRecent()
			}
			msg.UID, err = s.allocator.ReserveNextUid(ctx, path)
			if err != nil {
				return err
			}
			err = s.mapper.Execute(ctx, func(ctx context.Context) error {
				return s.backend.PutMessage(ctx, path, msg, raw)
			})
			if err != nil {
				return err
			}
			uid = msg.UID
			if claim {
				session.claimRecent(path, uid)
			}
			s.reconcileFlags(ctx, tracker, mailbox.RangeSet{mailbox.Single(uid)}, map[mailbox.UID]mailbox.Flags{uid: msg.Flags}, actorOf(session))
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return uid, nil
}

// Copy copies messages into another mailbox. Each copy gets a new UID and the \Recent flag, the other flags are kept.
func (s *Store) Copy(ctx context.Context, session *Session, from, to mailbox.Path, ranges mailbox.RangeSet) ([]CopyResult, error) {
	var results []CopyResult
	err := s.run(ctx, "copy", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		var sources []*mailbox.Message
		bodies := make(map[mailbox.UID][]byte)
		err := s.shared(ctx, from, func(ctx context.Context) error {
			tracker, err := s.tracker(ctx, from)
			if err != nil {
				return err
			}
			sources, err = s.backend.Messages(ctx, from, ranges, mailbox.FetchOptions{Headers: true})
			if err != nil {
				return err
			}
			for _, msg := range sources {
				bodies[msg.UID], err = s.backend.MessageBody(ctx, from, msg.UID)
				if err != nil {
					return fmt.Errorf("uid %d: %w", msg.UID, err)
				}
			}
			s.reconcile(ctx, tracker, ranges, sources, "")
			return nil
		})
		if err != nil || len(sources) == 0 {
			return err
		}

		return s.exclusive(ctx, to, func(ctx context.Context) error {
			tracker, err := s.tracker(ctx, to)
			if err != nil {
				return err
			}
			claim := session.isSelected(to)
			copies := make([]*mailbox.Message, len(sources))
			for i, source := range sources {
				uid, err := s.allocator.ReserveNextUid(ctx, to)
				if err != nil {
					return err
				}
				copies[i] = &mailbox.Message{
					UID:          uid,
					InternalDate: source.InternalDate,
					Size:         source.Size,
					Flags:        source.Flags.Add(imap.RecentFlag),
					Headers:      source.Headers,
					MediaType:    source.MediaType,
				}
				if claim {
					copies[i].Flags = copies[i].Flags.WithoutRecent()
				}
			}
			err = s.mapper.Execute(ctx, func(ctx context.Context) error {
				for i, msg := range copies {
					if err := s.backend.PutMessage(ctx, to, msg, bodies[sources[i].UID]); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			results = make([]CopyResult, len(copies))
			uids := make([]mailbox.UID, len(copies))
			for i, msg := range copies {
				results[i] = CopyResult{Source: sources[i].UID, Destination: msg.UID}
				uids[i] = msg.UID
			}
			if claim {
				session.claimRecent(to, uids...)
			}
			s.reconcile(ctx, tracker, singles(uids), copies, actorOf(session))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Expunge removes the messages flagged \Deleted, in ranges or in the whole mailbox when nil.
// It returns the UIDs removed.
func (s *Store) Expunge(ctx context.Context, session *Session, path mailbox.Path, ranges mailbox.RangeSet) ([]mailbox.UID, error) {
	var expunged []mailbox.UID
	err := s.run(ctx, "expunge", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		return s.exclusive(ctx, path, func(ctx context.Context) error {
			tracker, err := s.tracker(ctx, path)
			if err != nil {
				return err
			}
			messages, err := s.backend.Messages(ctx, path, ranges, mailbox.FetchOptions{})
			if err != nil {
				return err
			}
			s.reconcile(ctx, tracker, ranges, messages, "")

			remaining := make([]*mailbox.Message, 0, len(messages))
			deleted := make([]mailbox.UID, 0)
			for _, msg := range messages {
				if msg.Flags.Has(imap.DeletedFlag) {
					deleted = append(deleted, msg.UID)
					continue
				}
				remaining = append(remaining, msg)
			}
			if len(deleted) == 0 {
				return nil
			}
			err = s.mapper.Execute(ctx, func(ctx context.Context) error {
				return s.backend.DeleteMessages(ctx, path, deleted)
			})
			if err != nil {
				return err
			}
			expunged = deleted
			s.reconcile(ctx, tracker, ranges, remaining, actorOf(session))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expunged, nil
}

// SetFlags changes the flags of the messages in ranges (all of them when nil), and returns the resulting flags.
// \Recent cannot be changed.
func (s *Store) SetFlags(ctx context.Context, session *Session, path mailbox.Path, ranges mailbox.RangeSet, flags []string, mode mailbox.FlagMode) (map[mailbox.UID]mailbox.Flags, error) {
	var results map[mailbox.UID]mailbox.Flags
	err := s.run(ctx, "set-flags", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		requested := mailbox.NewFlags(flags...)
		return s.exclusive(ctx, path, func(ctx context.Context) error {
			tracker, err := s.tracker(ctx, path)
			if err != nil {
				return err
			}
			messages, err := s.backend.Messages(ctx, path, ranges, mailbox.FetchOptions{})
			if err != nil {
				return err
			}
			s.reconcile(ctx, tracker, ranges, messages, "")

			computed := make(map[mailbox.UID]mailbox.Flags, len(messages))
			changed := make(map[mailbox.UID]mailbox.Flags)
			for _, msg := range messages {
				result := mailbox.ApplyFlags(msg.Flags, mode, requested)
				computed[msg.UID] = result
				if !result.Equal(msg.Flags) {
					changed[msg.UID] = result
				}
			}
			if len(changed) > 0 {
				err = s.mapper.Execute(ctx, func(ctx context.Context) error {
					return s.backend.UpdateFlags(ctx, path, changed)
				})
				if err != nil {
					return err
				}
			}
			results = computed
			s.reconcileFlags(ctx, tracker, ranges, computed, actorOf(session))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Import indexes the messages delivered into the mailbox by another program, when the backend supports it.
// They get new UIDs from the allocator and are announced like appended messages. It returns the UIDs imported.
func (s *Store) Import(ctx context.Context, session *Session, path mailbox.Path) ([]mailbox.UID, error) {
	var imported []mailbox.UID
	err := s.run(ctx, "import", func(ctx context.Context) error {
		if err := session.check(); err != nil {
			return err
		}
		importer, ok := s.backend.(Importer)
		if !ok {
			return fmt.Errorf("%T cannot import messages", s.backend)
		}
		return s.exclusive(ctx, path, func(ctx context.Context) error {
			tracker, err := s.tracker(ctx, path)
			if err != nil {
				return err
			}
			messages, err := importer.Import(ctx, path, func(ctx context.Context) (mailbox.UID, error) {
				return s.allocator.ReserveNextUid(ctx, path)
			})
			// the messages indexed before a failure are announced too
			if len(messages) > 0 {
				imported = make([]mailbox.UID, len(messages))
				for i, msg := range messages {
					imported[i] = msg.UID
				}
				s.reconcile(ctx, tracker, singles(imported), messages, actorOf(session))
			}
			return err
		})
	})
	return imported, err
}
