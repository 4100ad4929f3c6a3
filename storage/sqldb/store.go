// Package sqldb is a storage backend on a relational database: SQLite or PostgreSQL.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/mapper"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type txKey struct{}

type Store struct {
	db  *sqlx.DB
	log lib.Logger
}

type mailboxRow struct {
	Key         string `db:"mailbox_key"`
	Namespace   string `db:"namespace"`
	User        string `db:"username"`
	Name        string `db:"name"`
	UidValidity int64  `db:"uid_validity"`
	LastUid     int64  `db:"last_uid"`
}

type messageRow struct {
	UID          int64  `db:"uid"`
	InternalDate int64  `db:"internal_date"`
	ZoneOffset   int64  `db:"zone_offset"` // seconds east of UTC
	Size         int64  `db:"size"`
	Flags        string `db:"flags"`
	Headers      string `db:"headers"`
	MediaType    string `db:"media_type"`
	Body         []byte `db:"body"`
}

// Open connects to the database and creates the tables.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	return OpenWithLogger(ctx, driver, dsn, nil)
}

func OpenWithLogger(ctx context.Context, driver, dsn string, logger lib.Logger) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer at a time, and a memory database lives in its connection
		db.SetMaxOpenConns(1)
	}
	store, err := NewWithLogger(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New uses an existing connection, and creates the tables if needed.
func New(ctx context.Context, db *sqlx.DB) (*Store, error) {
	return NewWithLogger(ctx, db, nil)
}

func NewWithLogger(ctx context.Context, db *sqlx.DB, logger lib.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("missing database connection")
	}
	statements, err := schema(db.DriverName())
	if err != nil {
		return nil, err
	}
	if err = db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%s ping: %w", db.DriverName(), err)
	}
	for _, statement := range statements {
		if _, err = db.ExecContext(ctx, statement); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return &Store{
		db:  db,
		log: lib.OrNoLog(logger),
	}, nil
}

func (s *Store) DebugLogger(logger lib.Logger) {
	s.log = lib.OrNoLog(logger)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Capability() mapper.Capability {
	return mapper.Full
}

func (s *Store) Begin(ctx context.Context) (context.Context, mapper.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// ext returns the transaction of ctx, or the database
func (s *Store) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

// inTx runs the statements of fn atomically: in the transaction of ctx, or in a new one
func (s *Store) inTx(ctx context.Context, fn func(q sqlx.ExtContext) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Printf("rollback after %q: %s", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateMailbox(ctx context.Context, path mailbox.Path, uidValidity uint32) error {
	return s.inTx(ctx, func(q sqlx.ExtContext) error {
		exists, err := mailboxExists(ctx, q, path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%q: %w", path, lib.ErrMailboxExists)
		}
		canonical := path.Canonical()
		_, err = q.ExecContext(ctx, q.Rebind(
			`INSERT INTO mailboxes (mailbox_key, namespace, username, name, uid_validity, last_uid) VALUES (?, ?, ?, ?, ?, 0)`),
			path.Key(), canonical.Namespace, canonical.User, canonical.Name, int64(uidValidity))
		return err
	})
}

func (s *Store) DeleteMailbox(ctx context.Context, path mailbox.Path) error {
	return s.inTx(ctx, func(q sqlx.ExtContext) error {
		if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM messages WHERE mailbox_key = ?`), path.Key()); err != nil {
			return err
		}
		result, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM mailboxes WHERE mailbox_key = ?`), path.Key())
		if err != nil {
			return err
		}
		return expectRow(result, fmt.Errorf("%q: %w", path, lib.ErrMailboxNotFound))
	})
}

func (s *Store) RenameMailbox(ctx context.Context, from, to mailbox.Path) error {
	return s.inTx(ctx, func(q sqlx.ExtContext) error {
		row, err := getMailbox(ctx, q, from)
		if err != nil {
			return err
		}
		exists, err := mailboxExists(ctx, q, to)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%q: %w", to, lib.ErrMailboxExists)
		}
		canonical := to.Canonical()
		_, err = q.ExecContext(ctx, q.Rebind(
			`INSERT INTO mailboxes (mailbox_key, namespace, username, name, uid_validity, last_uid) VALUES (?, ?, ?, ?, ?, ?)`),
			to.Key(), canonical.Namespace, canonical.User, canonical.Name, row.UidValidity, row.LastUid)
		if err != nil {
			return err
		}
		if _, err = q.ExecContext(ctx, q.Rebind(`UPDATE messages SET mailbox_key = ? WHERE mailbox_key = ?`), to.Key(), from.Key()); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, q.Rebind(`DELETE FROM mailboxes WHERE mailbox_key = ?`), from.Key())
		return err
	})
}

func (s *Store) ListMailboxes(ctx context.Context) ([]mailbox.Info, error) {
	rows := make([]mailboxRow, 0)
	err := sqlx.SelectContext(ctx, s.ext(ctx), &rows, `SELECT * FROM mailboxes`)
	if err != nil {
		return nil, err
	}
	list := make([]mailbox.Info, len(rows))
	for i, row := range rows {
		list[i] = mailbox.Info{
			Path: mailbox.Path{
				Namespace: row.Namespace,
				User:      row.User,
				Name:      row.Name,
				Delimiter: lib.CanonicalDelimiter,
			},
			State: row.state(),
		}
	}
	return list, nil
}

func (s *Store) MailboxState(ctx context.Context, path mailbox.Path) (mailbox.State, error) {
	row, err := getMailbox(ctx, s.ext(ctx), path)
	if err != nil {
		return mailbox.State{}, err
	}
	return row.state(), nil
}

func (s *Store) IncrementLastUid(ctx context.Context, path mailbox.Path) (mailbox.UID, error) {
	q := s.ext(ctx)
	var uid int64
	err := sqlx.GetContext(ctx, q, &uid, q.Rebind(
		`UPDATE mailboxes SET last_uid = last_uid + 1 WHERE mailbox_key = ? RETURNING last_uid`), path.Key())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%q: %w", path, lib.ErrMailboxNotFound)
	}
	if err != nil {
		return 0, err
	}
	return mailbox.UID(uid), nil
}

func (s *Store) Messages(ctx context.Context, path mailbox.Path, ranges mailbox.RangeSet, options mailbox.FetchOptions) ([]*mailbox.Message, error) {
	q := s.ext(ctx)
	if _, err := getMailbox(ctx, q, path); err != nil {
		return nil, err
	}
	messages := make([]*mailbox.Message, 0)
	if ranges != nil && len(ranges) == 0 {
		return messages, nil
	}

	body := emptyBlob(s.db.DriverName())
	if options.Body {
		body = "body"
	}
	span := ranges.Span()
	query := `SELECT uid, internal_date, zone_offset, size, flags, headers, media_type, ` + body + ` AS body FROM messages WHERE mailbox_key = ? AND uid >= ?`
	args := []any{path.Key(), int64(span.Low)}
	if span.High != mailbox.NoBound {
		query += ` AND uid <= ?`
		args = append(args, int64(span.High))
	}
	query += ` ORDER BY uid`

	rows := make([]messageRow, 0)
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		uid := mailbox.UID(row.UID)
		if !ranges.Contains(uid) {
			continue
		}
		msg, err := row.message(options)
		if err != nil {
			return nil, fmt.Errorf("uid %d: %w", uid, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *Store) PutMessage(ctx context.Context, path mailbox.Path, msg *mailbox.Message, body []byte) error {
	return s.inTx(ctx, func(q sqlx.ExtContext) error {
		row, err := getMailbox(ctx, q, path)
		if err != nil {
			return err
		}
		if msg.UID == 0 || int64(msg.UID) > row.LastUid {
			return fmt.Errorf("uid %d was not allocated in mailbox %q", msg.UID, path)
		}
		flags, err := json.Marshal(flagsOrEmpty(msg.Flags))
		if err != nil {
			return err
		}
		headers := msg.Headers
		if headers == nil {
			headers = []mailbox.Header{}
		}
		encodedHeaders, err := json.Marshal(headers)
		if err != nil {
			return err
		}
		if body == nil {
			body = []byte{}
		}
		_, err = q.ExecContext(ctx, q.Rebind(
			`INSERT INTO messages (mailbox_key, uid, internal_date, zone_offset, size, flags, headers, media_type, body) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			path.Key(), int64(msg.UID), msg.InternalDate.UnixNano(), zoneOffset(msg.InternalDate), int64(msg.Size), string(flags), string(encodedHeaders), msg.MediaType, body)
		if err != nil {
			return fmt.Errorf("cannot save message: %w", err)
		}
		s.log.Printf("Message saved: mailbox=%q uid=%d size=%d flags=%+v", path, msg.UID, msg.Size, msg.Flags)
		return nil
	})
}

func (s *Store) UpdateFlags(ctx context.Context, path mailbox.Path, flags map[mailbox.UID]mailbox.Flags) error {
	return s.inTx(ctx, func(q sqlx.ExtContext) error {
		if _, err := getMailbox(ctx, q, path); err != nil {
			return err
		}
		for uid, value := range flags {
			encoded, err := json.Marshal(flagsOrEmpty(value))
			if err != nil {
				return err
			}
			result, err := q.ExecContext(ctx, q.Rebind(`UPDATE messages SET flags = ? WHERE mailbox_key = ? AND uid = ?`),
				string(encoded), path.Key(), int64(uid))
			if err != nil {
				return err
			}
			if err = expectRow(result, fmt.Errorf("uid %d: %w", uid, lib.ErrMessageNotFound)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteMessages(ctx context.Context, path mailbox.Path, uids []mailbox.UID) error {
	values := xslices.Map(uids, func(uid mailbox.UID) int64 { return int64(uid) })
	return s.inTx(ctx, func(q sqlx.ExtContext) error {
		if _, err := getMailbox(ctx, q, path); err != nil {
			return err
		}
		for _, chunk := range xslices.Chunk(values, ChunkLimit) {
			if err := s.deleteChunk(ctx, q, path, chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) deleteChunk(ctx context.Context, q sqlx.ExtContext, path mailbox.Path, uids []int64) error {
	if q.DriverName() == DriverPostgres {
		_, err := q.ExecContext(ctx, `DELETE FROM messages WHERE mailbox_key = $1 AND uid = ANY($2)`, path.Key(), pq.Array(uids))
		return err
	}
	query, args, err := sqlx.In(`DELETE FROM messages WHERE mailbox_key = ? AND uid IN (?)`, path.Key(), uids)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, q.Rebind(query), args...)
	return err
}

func (s *Store) MessageBody(ctx context.Context, path mailbox.Path, uid mailbox.UID) ([]byte, error) {
	q := s.ext(ctx)
	if _, err := getMailbox(ctx, q, path); err != nil {
		return nil, err
	}
	var body []byte
	err := sqlx.GetContext(ctx, q, &body, q.Rebind(`SELECT body FROM messages WHERE mailbox_key = ? AND uid = ?`), path.Key(), int64(uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("uid %d: %w", uid, lib.ErrMessageNotFound)
	}
	return body, err
}

func (s *Store) reset(ctx context.Context) error {
	for _, statement := range dropSchema {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	statements, err := schema(s.db.DriverName())
	if err != nil {
		return err
	}
	for _, statement := range statements {
		if _, err = s.db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

func (r mailboxRow) state() mailbox.State {
	return mailbox.State{
		UidValidity: uint32(r.UidValidity),
		LastUid:     mailbox.UID(r.LastUid),
	}
}

func (r messageRow) message(options mailbox.FetchOptions) (*mailbox.Message, error) {
	msg := &mailbox.Message{
		UID:          mailbox.UID(r.UID),
		InternalDate: time.Unix(0, r.InternalDate).In(time.FixedZone("", int(r.ZoneOffset))),
		Size:         uint32(r.Size),
		MediaType:    r.MediaType,
	}
	var flags []string
	if err := json.Unmarshal([]byte(r.Flags), &flags); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	msg.Flags = mailbox.Flags(flags)
	if options.Headers {
		if err := json.Unmarshal([]byte(r.Headers), &msg.Headers); err != nil {
			return nil, fmt.Errorf("invalid headers: %w", err)
		}
	}
	if options.Body {
		msg.Body = r.Body
	}
	return msg, nil
}

func getMailbox(ctx context.Context, q sqlx.ExtContext, path mailbox.Path) (*mailboxRow, error) {
	row := &mailboxRow{}
	err := sqlx.GetContext(ctx, q, row, q.Rebind(`SELECT * FROM mailboxes WHERE mailbox_key = ?`), path.Key())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", path, lib.ErrMailboxNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func mailboxExists(ctx context.Context, q sqlx.ExtContext, path mailbox.Path) (bool, error) {
	_, err := getMailbox(ctx, q, path)
	if errors.Is(err, lib.ErrMailboxNotFound) {
		return false, nil
	}
	return err == nil, err
}

func expectRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func zoneOffset(date time.Time) int64 {
	_, offset := date.Zone()
	return int64(offset)
}

func flagsOrEmpty(flags mailbox.Flags) []string {
	if flags == nil {
		return []string{}
	}
	return flags
}
