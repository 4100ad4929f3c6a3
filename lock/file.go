package lock

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultFileTTL          = 2 * time.Minute
	DefaultFilePollInterval = 20 * time.Millisecond
)

// File is an exclusive lock between processes sharing a directory:
// a token file is created for each locked resource and removed on release.
// A token older than the TTL is considered abandoned and removed.
// Shared locks don't create any token.
type File struct {
	dir      string
	ttl      time.Duration
	interval time.Duration
	logger   lib.Logger
}

func NewFile(dir string, ttl time.Duration) *File {
	return NewFileWithLogger(dir, ttl, nil)
}

func NewFileWithLogger(dir string, ttl time.Duration, logger lib.Logger) *File {
	if ttl <= 0 {
		ttl = DefaultFileTTL
	}
	return &File{
		dir:      dir,
		ttl:      ttl,
		interval: DefaultFilePollInterval,
		logger:   lib.OrNoLog(logger),
	}
}

func (l *File) path(resource string) string {
	return filepath.Join(l.dir, url.PathEscape(resource)+".lock")
}

func (l *File) Acquire(ctx context.Context, resource string, mode Mode) (Release, error) {
	if mode != Exclusive {
		return noRelease, nil
	}
	err := os.MkdirAll(l.dir, 0o700)
	if err != nil {
		return nil, fmt.Errorf("cannot create lock directory: %w", err)
	}

	filename := l.path(resource)
	token := uuid.NewString()
	limiter := rate.NewLimiter(rate.Every(l.interval), 1)
	for {
		created, err := l.create(filename, token)
		if err != nil {
			return nil, err
		}
		if created {
			return func() { l.release(filename, token) }, nil
		}
		if l.removeStale(filename) {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, waitError(ctx, resource)
		}
	}
}

func (l *File) create(filename, token string) (bool, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("cannot create lock token: %w", err)
	}
	defer file.Close()

	_, err = file.WriteString(token)
	if err != nil {
		_ = os.Remove(filename)
		return false, fmt.Errorf("cannot write lock token: %w", err)
	}
	return true, nil
}

func (l *File) removeStale(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		// released in the meantime
		return errors.Is(err, os.ErrNotExist)
	}
	if time.Since(info.ModTime()) < l.ttl {
		return false
	}
	l.logger.Printf("removing abandoned lock token %q", filename)
	err = os.Remove(filename)
	return err == nil || errors.Is(err, os.ErrNotExist)
}

func (l *File) release(filename, token string) {
	content, err := os.ReadFile(filename)
	if err != nil {
		l.logger.Printf("cannot read lock token %q: %s", filename, err)
		return
	}
	if string(content) != token {
		// our token expired and someone else owns the lock now
		l.logger.Printf("lock token %q is not ours anymore", filename)
		return
	}
	err = os.Remove(filename)
	if err != nil {
		l.logger.Printf("cannot remove lock token %q: %s", filename, err)
	}
}
