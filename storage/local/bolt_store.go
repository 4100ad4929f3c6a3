// Package local is a storage backend keeping all the mailboxes of an account in a single bbolt file.
package local

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/mapper"
	bolt "go.etcd.io/bbolt"
)

const (
	metadataBucket  = "metadata"
	mailboxBucket   = "mailbox"
	messagesBucket  = "messages"
	bodiesBucket    = "bodies"
	infoKey         = "info"
	versionKey      = "version"
	boltFileVersion = 2
)

type mailboxRecord struct {
	Namespace   string
	User        string
	Name        string
	UidValidity uint32
	LastUid     uint32
}

type messageRecord struct {
	Flags     []string
	Date      time.Time
	Size      uint32
	Headers   []mailbox.Header
	MediaType string
}

type txKey struct{}

type BoltStore struct {
	dbFile string
	db     *bolt.DB
	log    lib.Logger
}

func NewBoltStore(filename string) (*BoltStore, error) {
	return NewBoltStoreWithLogger(filename, nil)
}

func NewBoltStoreWithLogger(filename string, logger lib.Logger) (*BoltStore, error) {
	options := *bolt.DefaultOptions
	options.Timeout = 10 * time.Second

	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %w", filename, err)
	}

	db, err := bolt.Open(filename, 0600, &options)
	if err != nil {
		return nil, err
	}

	store := &BoltStore{
		dbFile: filename,
		db:     db,
		log:    lib.OrNoLog(logger),
	}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *BoltStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(mailboxBucket)); err != nil {
			return err
		}
		bucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if data := bucket.Get([]byte(versionKey)); data != nil {
			version, err := DeserializeInt(data)
			if err != nil {
				return err
			}
			if version != boltFileVersion {
				return fmt.Errorf("unsupported file version %d in %q", version, s.dbFile)
			}
			return nil
		}
		version, err := SerializeInt(boltFileVersion)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(versionKey), version)
	})
}

func (s *BoltStore) DebugLogger(logger lib.Logger) {
	s.log = lib.OrNoLog(logger)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Capability() mapper.Capability {
	return mapper.Full
}

// Begin starts a bbolt write transaction. Only one can run at a time.
func (s *BoltStore) Begin(ctx context.Context) (context.Context, mapper.Tx, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// update runs fn in the transaction of ctx, or in a new one
func (s *BoltStore) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*bolt.Tx); ok {
		return fn(tx)
	}
	return s.db.Update(fn)
}

func (s *BoltStore) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*bolt.Tx); ok {
		return fn(tx)
	}
	return s.db.View(fn)
}

func (s *BoltStore) CreateMailbox(ctx context.Context, path mailbox.Path, uidValidity uint32) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket([]byte(mailboxBucket)).CreateBucket([]byte(path.Key()))
		if err != nil {
			if errors.Is(err, bolt.ErrBucketExists) {
				return fmt.Errorf("%q: %w", path, lib.ErrMailboxExists)
			}
			return err
		}
		if _, err = bucket.CreateBucket([]byte(messagesBucket)); err != nil {
			return err
		}
		if _, err = bucket.CreateBucket([]byte(bodiesBucket)); err != nil {
			return err
		}
		canonical := path.Canonical()
		return setMailboxRecord(bucket, &mailboxRecord{
			Namespace:   canonical.Namespace,
			User:        canonical.User,
			Name:        canonical.Name,
			UidValidity: uidValidity,
		})
	})
}

func (s *BoltStore) DeleteMailbox(ctx context.Context, path mailbox.Path) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		err := tx.Bucket([]byte(mailboxBucket)).DeleteBucket([]byte(path.Key()))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("%q: %w", path, lib.ErrMailboxNotFound)
		}
		return err
	})
}

func (s *BoltStore) RenameMailbox(ctx context.Context, from, to mailbox.Path) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(mailboxBucket))
		source := root.Bucket([]byte(from.Key()))
		if source == nil {
			return fmt.Errorf("%q: %w", from, lib.ErrMailboxNotFound)
		}
		destination, err := root.CreateBucket([]byte(to.Key()))
		if err != nil {
			if errors.Is(err, bolt.ErrBucketExists) {
				return fmt.Errorf("%q: %w", to, lib.ErrMailboxExists)
			}
			return err
		}
		if err = copyBucket(source, destination); err != nil {
			return fmt.Errorf("cannot copy mailbox %q: %w", from, err)
		}
		record, err := getMailboxRecord(destination)
		if err != nil {
			return err
		}
		canonical := to.Canonical()
		record.Namespace, record.User, record.Name = canonical.Namespace, canonical.User, canonical.Name
		if err = setMailboxRecord(destination, record); err != nil {
			return err
		}
		return root.DeleteBucket([]byte(from.Key()))
	})
}

func (s *BoltStore) ListMailboxes(ctx context.Context) ([]mailbox.Info, error) {
	list := make([]mailbox.Info, 0)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(mailboxBucket))
		return bucket.ForEach(func(k, v []byte) error {
			// if there's a value it's not a bucket
			if v != nil {
				return nil
			}
			record, err := getMailboxRecord(bucket.Bucket(k))
			if err != nil {
				return err
			}
			list = append(list, mailbox.Info{
				Path: mailbox.Path{
					Namespace: record.Namespace,
					User:      record.User,
					Name:      record.Name,
					Delimiter: lib.CanonicalDelimiter,
				},
				State: record.state(),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *BoltStore) MailboxState(ctx context.Context, path mailbox.Path) (mailbox.State, error) {
	var state mailbox.State
	err := s.view(ctx, func(tx *bolt.Tx) error {
		bucket, err := getMailbox(tx, path)
		if err != nil {
			return err
		}
		record, err := getMailboxRecord(bucket)
		if err != nil {
			return err
		}
		state = record.state()
		return nil
	})
	return state, err
}

func (s *BoltStore) IncrementLastUid(ctx context.Context, path mailbox.Path) (mailbox.UID, error) {
	var uid mailbox.UID
	err := s.update(ctx, func(tx *bolt.Tx) error {
		bucket, err := getMailbox(tx, path)
		if err != nil {
			return err
		}
		record, err := getMailboxRecord(bucket)
		if err != nil {
			return err
		}
		record.LastUid++
		uid = mailbox.UID(record.LastUid)
		return setMailboxRecord(bucket, record)
	})
	return uid, err
}

func (s *BoltStore) Messages(ctx context.Context, path mailbox.Path, ranges mailbox.RangeSet, options mailbox.FetchOptions) ([]*mailbox.Message, error) {
	messages := make([]*mailbox.Message, 0)
	if ranges != nil && len(ranges) == 0 {
		return messages, nil
	}
	err := s.view(ctx, func(tx *bolt.Tx) error {
		bucket, err := getMailbox(tx, path)
		if err != nil {
			return err
		}
		bodies := bucket.Bucket([]byte(bodiesBucket))
		span := ranges.Span()
		cursor := bucket.Bucket([]byte(messagesBucket)).Cursor()
		for key, value := cursor.Seek(SerializeUID(span.Low)); key != nil; key, value = cursor.Next() {
			uid, err := DeserializeUID(key)
			if err != nil {
				return err
			}
			if span.High != mailbox.NoBound && uid > span.High {
				break
			}
			if !ranges.Contains(uid) {
				continue
			}
			record, err := DeserializeObject[messageRecord](value)
			if err != nil {
				return fmt.Errorf("uid %d: %w", uid, err)
			}
			msg := record.message(uid, options)
			if options.Body {
				msg.Body, err = uncompress(bodies.Get(key))
				if err != nil {
					return fmt.Errorf("uid %d: %w", uid, err)
				}
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *BoltStore) PutMessage(ctx context.Context, path mailbox.Path, msg *mailbox.Message, body []byte) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		bucket, err := getMailbox(tx, path)
		if err != nil {
			return err
		}
		record, err := getMailboxRecord(bucket)
		if err != nil {
			return err
		}
		if msg.UID == 0 || uint32(msg.UID) > record.LastUid {
			return fmt.Errorf("uid %d was not allocated in mailbox %q", msg.UID, path)
		}
		compressed, err := compress(body)
		if err != nil {
			return err
		}
		key := SerializeUID(msg.UID)
		if err = bucket.Bucket([]byte(bodiesBucket)).Put(key, compressed); err != nil {
			return fmt.Errorf("cannot save message body: %w", err)
		}
		data, err := SerializeObject(&messageRecord{
			Flags:     msg.Flags,
			Date:      msg.InternalDate,
			Size:      msg.Size,
			Headers:   msg.Headers,
			MediaType: msg.MediaType,
		})
		if err != nil {
			return err
		}
		if err = bucket.Bucket([]byte(messagesBucket)).Put(key, data); err != nil {
			return err
		}
		s.log.Printf("Message saved: mailbox=%q uid=%d size=%d flags=%+v", path, msg.UID, msg.Size, msg.Flags)
		return nil
	})
}

func (s *BoltStore) UpdateFlags(ctx context.Context, path mailbox.Path, flags map[mailbox.UID]mailbox.Flags) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		bucket, err := getMailbox(tx, path)
		if err != nil {
			return err
		}
		messages := bucket.Bucket([]byte(messagesBucket))
		for uid, value := range flags {
			key := SerializeUID(uid)
			data := messages.Get(key)
			if data == nil {
				return fmt.Errorf("uid %d: %w", uid, lib.ErrMessageNotFound)
			}
			record, err := DeserializeObject[messageRecord](data)
			if err != nil {
				return err
			}
			record.Flags = value
			if data, err = SerializeObject(record); err != nil {
				return err
			}
			if err = messages.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteMessages(ctx context.Context, path mailbox.Path, uids []mailbox.UID) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		bucket, err := getMailbox(tx, path)
		if err != nil {
			return err
		}
		for _, uid := range uids {
			key := SerializeUID(uid)
			if err = bucket.Bucket([]byte(messagesBucket)).Delete(key); err != nil {
				return err
			}
			if err = bucket.Bucket([]byte(bodiesBucket)).Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) MessageBody(ctx context.Context, path mailbox.Path, uid mailbox.UID) ([]byte, error) {
	var body []byte
	err := s.view(ctx, func(tx *bolt.Tx) error {
		bucket, err := getMailbox(tx, path)
		if err != nil {
			return err
		}
		data := bucket.Bucket([]byte(bodiesBucket)).Get(SerializeUID(uid))
		if data == nil {
			return fmt.Errorf("uid %d: %w", uid, lib.ErrMessageNotFound)
		}
		body, err = uncompress(data)
		return err
	})
	return body, err
}

// Backup writes a consistent copy of the database file.
func (s *BoltStore) Backup(filename string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(filename, 0600)
	})
}

func (r *mailboxRecord) state() mailbox.State {
	return mailbox.State{
		UidValidity: r.UidValidity,
		LastUid:     mailbox.UID(r.LastUid),
	}
}

func (r *messageRecord) message(uid mailbox.UID, options mailbox.FetchOptions) *mailbox.Message {
	msg := &mailbox.Message{
		UID:          uid,
		InternalDate: r.Date,
		Size:         r.Size,
		Flags:        mailbox.Flags(r.Flags),
		MediaType:    r.MediaType,
	}
	if options.Headers {
		msg.Headers = r.Headers
	}
	return msg
}

func getMailbox(tx *bolt.Tx, path mailbox.Path) (*bolt.Bucket, error) {
	bucket := tx.Bucket([]byte(mailboxBucket)).Bucket([]byte(path.Key()))
	if bucket == nil {
		return nil, fmt.Errorf("%q: %w", path, lib.ErrMailboxNotFound)
	}
	return bucket, nil
}

func setMailboxRecord(bucket *bolt.Bucket, record *mailboxRecord) error {
	data, err := SerializeObject(record)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(infoKey), data)
}

func getMailboxRecord(bucket *bolt.Bucket) (*mailboxRecord, error) {
	data := bucket.Get([]byte(infoKey))
	if data == nil {
		return nil, lib.ErrStatusNotFound
	}
	return DeserializeObject[mailboxRecord](data)
}

func copyBucket(source, destination *bolt.Bucket) error {
	return source.ForEach(func(k, v []byte) error {
		if v != nil {
			return destination.Put(k, v)
		}
		child, err := destination.CreateBucket(k)
		if err != nil {
			return err
		}
		return copyBucket(source.Bucket(k), child)
	})
}

func compress(data []byte) ([]byte, error) {
	buffer := &bytes.Buffer{}
	writer := zlib.NewWriter(buffer)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("cannot compress message body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("error closing zlib writer: %w", err)
	}
	return buffer.Bytes(), nil
}

func uncompress(data []byte) ([]byte, error) {
	if data == nil {
		return nil, lib.ErrMessageNotFound
	}
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
