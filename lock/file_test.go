package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockBetweenInstances(t *testing.T) {
	dir := t.TempDir()
	first := NewFileWithLogger(dir, time.Minute, lib.NewTestLogger(t, "first"))
	second := NewFileWithLogger(dir, time.Minute, lib.NewTestLogger(t, "second"))

	release, err := first.Acquire(context.Background(), resource, Exclusive)
	require.NoError(t, err)
	assert.FileExists(t, first.path(resource))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = second.Acquire(ctx, resource, Exclusive)
	assert.ErrorIs(t, err, lib.ErrLockTimeout)

	// readers don't need a token
	releaseShared, err := second.Acquire(context.Background(), resource, Shared)
	require.NoError(t, err)
	releaseShared()

	release()
	assert.NoFileExists(t, first.path(resource))

	release, err = second.Acquire(context.Background(), resource, Exclusive)
	require.NoError(t, err)
	release()
}

func TestFileLockRemovesStaleToken(t *testing.T) {
	dir := t.TempDir()
	locker := NewFileWithLogger(dir, time.Minute, lib.NewTestLogger(t, ""))

	filename := locker.path(resource)
	require.NoError(t, os.WriteFile(filename, []byte("abandoned"), 0o600))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filename, old, old))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := locker.Acquire(ctx, resource, Exclusive)
	require.NoError(t, err)

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.NotEqual(t, "abandoned", string(content))
	release()
}

func TestFileLockDoesNotRemoveOtherToken(t *testing.T) {
	dir := t.TempDir()
	locker := NewFileWithLogger(dir, time.Minute, lib.NewTestLogger(t, ""))

	release, err := locker.Acquire(context.Background(), resource, Exclusive)
	require.NoError(t, err)
	// someone took over after our token expired
	require.NoError(t, os.WriteFile(locker.path(resource), []byte("other"), 0o600))
	release()
	assert.FileExists(t, locker.path(resource))
}

func TestFileLockMutualExclusion(t *testing.T) {
	lockerMutualExclusion(t, NewFile(t.TempDir(), time.Minute))
}
