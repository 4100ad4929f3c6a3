package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/creativeprojects/mailstore/cfg"
	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/lock"
	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/storage"
	"github.com/creativeprojects/mailstore/storage/local"
	"github.com/creativeprojects/mailstore/storage/mdir"
	"github.com/creativeprojects/mailstore/storage/mem"
	"github.com/creativeprojects/mailstore/storage/sqldb"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
)

// verify interface
var (
	_ storage.Backend      = &mem.Backend{}
	_ storage.Backend      = &local.BoltStore{}
	_ storage.Backend      = &mdir.Maildir{}
	_ storage.Backend      = &sqldb.Store{}
	_ storage.LockProvider = &mdir.Maildir{}
	_ storage.Importer     = &mdir.Maildir{}
	_ lib.Logger           = &logrus.Entry{}
)

// NewBackend opens the storage of an account.
func NewBackend(ctx context.Context, account cfg.Account, logger lib.Logger) (storage.Backend, error) {
	switch account.Type {
	case cfg.MEMORY:
		return mem.NewWithLogger(logger), nil
	case cfg.LOCAL:
		return local.NewBoltStoreWithLogger(account.File, logger)
	case cfg.MAILDIR:
		return mdir.NewWithLogger(account.Root, logger)
	case cfg.SQL:
		return sqldb.OpenWithLogger(ctx, account.Driver, account.DSN, logger)
	default:
		return nil, fmt.Errorf("unexpected account type %q", account.Type)
	}
}

// accountStore is a store opened on an account, with the resources to close with it.
type accountStore struct {
	*storage.Store
	account cfg.Account
	backend storage.Backend
	closers []func() error
}

func (s *accountStore) path(name string) mailbox.Path {
	return mailbox.NewPath(s.account.User, name)
}

func (s *accountStore) Close() error {
	err := s.Store.Close()
	for _, closer := range s.closers {
		err = errors.Join(err, closer())
	}
	return err
}

// openStore builds the store of an account from the configuration.
func openStore(ctx context.Context, config *cfg.Config, accountName string, log *logrus.Logger, provider metric.MeterProvider) (*accountStore, error) {
	account, ok := config.Accounts[accountName]
	if !ok {
		return nil, fmt.Errorf("account not found: %s", accountName)
	}
	entry := log.WithField("account", accountName)
	backend, err := NewBackend(ctx, account, entry.WithField("component", string(account.Type)))
	if err != nil {
		return nil, fmt.Errorf("cannot open backend: %w", err)
	}

	opts := []storage.Option{
		storage.WithLogger(entry.WithField("component", "store")),
		storage.WithLockTimeout(config.Lock.Timeout),
	}
	if provider != nil {
		opts = append(opts, storage.WithMeterProvider(provider))
	}
	result := &accountStore{account: account, backend: backend}
	if config.Lock.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     config.Lock.Redis.Addr,
			Password: config.Lock.Redis.Password,
			DB:       config.Lock.Redis.DB,
		})
		result.closers = append(result.closers, client.Close)
		opts = append(opts, storage.WithLocker(
			lock.NewRedisWithLogger(client, config.Lock.Redis.TTL, entry.WithField("component", "redis-lock")),
		))
	}

	store, err := storage.NewStore(backend, opts...)
	if err != nil {
		_ = backend.Close()
		for _, closer := range result.closers {
			_ = closer()
		}
		return nil, err
	}
	result.Store = store
	return result, nil
}
