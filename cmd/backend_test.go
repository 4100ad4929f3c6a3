package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/creativeprojects/mailstore/cfg"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/search"
	"github.com/creativeprojects/mailstore/storage/local"
	"github.com/creativeprojects/mailstore/storage/mdir"
	"github.com/creativeprojects/mailstore/storage/mem"
	"github.com/creativeprojects/mailstore/storage/sqldb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sampleMessage = "From: contact@example.org\r\n" +
		"To: contact@example.org\r\n" +
		"Subject: A little message, just for you\r\n" +
		"Date: Wed, 11 May 2016 14:31:59 +0000\r\n" +
		"Message-ID: <0000000@localhost/>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Hi there :)"
)

func testLogger(t *testing.T) *logrus.Logger {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	return log
}

func TestBackendFromAccount(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fixtures := []struct {
		account  cfg.Account
		expected any
	}{
		{cfg.Account{Type: cfg.MEMORY}, &mem.Backend{}},
		{cfg.Account{Type: cfg.LOCAL, File: filepath.Join(dir, "store.db")}, &local.BoltStore{}},
		{cfg.Account{Type: cfg.MAILDIR, Root: filepath.Join(dir, "maildir")}, &mdir.Maildir{}},
		{cfg.Account{Type: cfg.SQL, Driver: sqldb.DriverSQLite, DSN: filepath.Join(dir, "mail.db")}, &sqldb.Store{}},
	}

	for _, fixture := range fixtures {
		t.Run(string(fixture.account.Type), func(t *testing.T) {
			backend, err := NewBackend(ctx, fixture.account, nil)
			require.NoError(t, err)
			assert.IsType(t, fixture.expected, backend)
			assert.NoError(t, backend.Close())
		})
	}

	_, err := NewBackend(ctx, cfg.Account{Type: "imap"}, nil)
	assert.Error(t, err)
}

func TestOpenStoreWithRedisLock(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	config := &cfg.Config{
		Accounts: map[string]cfg.Account{
			"mem": {Type: cfg.MEMORY, User: "john"},
		},
		Lock: cfg.LockConfig{
			Timeout: time.Second,
			Redis:   cfg.RedisConfig{Addr: server.Addr(), TTL: 10 * time.Second},
		},
	}
	reader := newMetricsReader()
	store, err := openStore(ctx, config, "mem", testLogger(t), reader.meterProvider())
	require.NoError(t, err)

	path := store.path("INBOX")
	assert.Equal(t, "john", path.User)
	require.NoError(t, store.CreateMailbox(ctx, nil, path))
	uid, err := store.Append(ctx, nil, path, mailbox.MessageProperties{}, strings.NewReader(sampleMessage))
	require.NoError(t, err)
	assert.Equal(t, mailbox.UID(1), uid)

	// every lock was given back
	assert.Empty(t, server.Keys())
	require.NoError(t, store.Close())

	totals, err := reader.totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals["mailstore.operation.count"])

	_, err = openStore(ctx, config, "unknown", testLogger(t), nil)
	assert.Error(t, err)
}

func TestSearchQueryFromFlags(t *testing.T) {
	query, err := searchFlags{}.query(10)
	require.NoError(t, err)
	assert.Equal(t, search.All{}, query)

	query, err = searchFlags{
		uid:     "2:*",
		headers: []string{"Subject: little"},
		larger:  10,
		since:   "2016-05-11",
		flags:   []string{"\\seen"},
		unflags: []string{"$Junk"},
	}.query(10)
	require.NoError(t, err)
	assert.Equal(t, search.And{
		search.UID{Set: mailbox.RangeSet{mailbox.From(2)}},
		search.HeaderContains{Name: "Subject", Value: "little"},
		search.Size{Op: search.SizeGreater, Value: 10},
		search.Date{Op: search.DateSince, Day: time.Date(2016, 5, 11, 0, 0, 0, 0, time.UTC)},
		search.Flag{Name: "\\Seen", Set: true},
		search.Flag{Name: "$Junk", Set: false},
	}, query)

	_, err = searchFlags{headers: []string{"no colon"}}.query(10)
	assert.Error(t, err)
	_, err = searchFlags{before: "11/05/2016"}.query(10)
	assert.Error(t, err)
}

func TestFlagMode(t *testing.T) {
	mode, err := storeFlags{add: true}.mode()
	require.NoError(t, err)
	assert.Equal(t, mailbox.FlagsAdd, mode)

	mode, err = storeFlags{remove: true}.mode()
	require.NoError(t, err)
	assert.Equal(t, mailbox.FlagsRemove, mode)

	mode, err = storeFlags{replace: true}.mode()
	require.NoError(t, err)
	assert.Equal(t, mailbox.FlagsReplace, mode)

	_, err = storeFlags{}.mode()
	assert.Error(t, err)
}

func TestCommandsOnLocalAccount(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "mailstore.yaml")
	database := filepath.Join(dir, "store.db")
	err := os.WriteFile(configFile, []byte("accounts:\n  local:\n    type: local\n    file: "+database+"\n"), 0o600)
	require.NoError(t, err)
	messageFile := filepath.Join(dir, "message.eml")
	err = os.WriteFile(messageFile, []byte(sampleMessage), 0o600)
	require.NoError(t, err)

	run := func(args ...string) error {
		rootCmd.SetArgs(append([]string{"--config", configFile, "--quiet"}, args...))
		return rootCmd.Execute()
	}

	require.NoError(t, run("create", "local", "INBOX"))
	require.NoError(t, run("append", "local", "INBOX", messageFile))
	require.NoError(t, run("append", "local", "INBOX", messageFile))
	require.NoError(t, run("store", "local", "INBOX", "1", "--add", "\\Deleted"))
	require.NoError(t, run("search", "local", "INBOX"))
	require.NoError(t, run("status", "local", "INBOX"))
	require.NoError(t, run("expunge", "local", "INBOX"))
	require.NoError(t, run("list", "local"))
	require.NoError(t, run("backup", "local", filepath.Join(dir, "backup.db")))
	assert.Error(t, run("import", "local", "INBOX"))
	assert.Error(t, run("create", "unknown", "INBOX"))

	// the watermark and the remaining message survived the commands
	ctx := context.Background()
	store, err := openStore(ctx, config, "local", testLogger(t), nil)
	require.NoError(t, err)
	defer store.Close()

	uids, err := store.Search(ctx, nil, store.path("INBOX"), search.All{})
	require.NoError(t, err)
	assert.Equal(t, []mailbox.UID{2}, uids)

	metadata, err := store.Metadata(ctx, nil, store.path("INBOX"), false, mailbox.FetchNone)
	require.NoError(t, err)
	assert.Equal(t, mailbox.UID(3), metadata.UidNext)
	assert.FileExists(t, filepath.Join(dir, "backup.db"))
}
