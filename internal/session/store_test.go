package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.abhg.dev/teapot/internal/clock"
	"go.abhg.dev/teapot/internal/rebasemachine"
)

// writeRawFile bypasses FileBackend.Put to write unparseable bytes
// directly at the location a record for key would live, simulating a
// corrupt disk record.
func writeRawFile(b *FileBackend, key string, data []byte) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(b.keyFile(key), data, 0o644)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(NewFileBackend(t.TempDir()), clock.Fixed(1000), nil)
}

func TestStore_CreateGetClear(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t)

	_, ok, err := s.Get(ctx, "/repo")
	require.NoError(t, err)
	assert.False(t, ok)

	created, err := s.Create(ctx, "/repo", StoredRebaseSession{OriginalBranch: "feature1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, PhasePlanning, created.Phase)

	_, err = s.Create(ctx, "/repo", StoredRebaseSession{})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, ok, err := s.Get(ctx, "/repo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "feature1", got.OriginalBranch)

	require.NoError(t, s.Clear(ctx, "/repo"))
	_, ok, err = s.Get(ctx, "/repo")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PathNormalization(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t)

	_, err := s.Create(ctx, "/repo/", StoredRebaseSession{})
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "/repo")
	require.NoError(t, err)
	assert.True(t, ok, "trailing slash must normalize to the same key")
}

func TestStore_UpdateVersionMismatch(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t)

	created, err := s.Create(ctx, "/repo", StoredRebaseSession{})
	require.NoError(t, err)

	_, err = s.Update(ctx, "/repo", created.Version+1, Patch{})
	assert.ErrorIs(t, err, ErrVersionMismatch)

	branch := "renamed"
	updated, err := s.Update(ctx, "/repo", created.Version, Patch{OriginalBranch: &branch})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "renamed", updated.OriginalBranch)
}

func TestStore_UpdateWithRetry(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t)

	_, err := s.Create(ctx, "/repo", StoredRebaseSession{})
	require.NoError(t, err)

	branch := "retried"
	updated, err := s.UpdateWithRetry(ctx, "/repo", func(current StoredRebaseSession) Patch {
		return Patch{OriginalBranch: &branch}
	})
	require.NoError(t, err)
	assert.Equal(t, "retried", updated.OriginalBranch)
	assert.Equal(t, int64(2), updated.Version)
}

func TestStore_GetAll(t *testing.T) {
	ctx := t.Context()
	s := newTestStore(t)

	_, err := s.Create(ctx, "/repo-a", StoredRebaseSession{})
	require.NoError(t, err)
	_, err = s.Create(ctx, "/repo-b", StoredRebaseSession{})
	require.NoError(t, err)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_CorruptRecordTreatedAsAbsent(t *testing.T) {
	ctx := t.Context()
	backend := NewFileBackend(t.TempDir())
	s := NewStore(backend, clock.Fixed(1000), nil)

	// Write a record directly via the disk-file layout but with
	// unparseable JSON, bypassing the store's own Put.
	key := NormalizePath("/repo")
	require.NoError(t, writeRawFile(backend, key, []byte("{not json")))

	_, ok, err := s.Get(ctx, "/repo")
	require.NoError(t, err)
	assert.False(t, ok)

	// The corrupt record was cleared.
	keys, err := backend.Keys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, key)
}

func TestStore_PhaseMigration(t *testing.T) {
	ctx := t.Context()
	backend := NewFileBackend(t.TempDir())
	s := NewStore(backend, clock.Fixed(1000), nil)

	key := NormalizePath("/repo")
	require.NoError(t, backend.Put(ctx, key, StoredRebaseSession{
		Version: 1,
		State:   rebasemachine.State{Session: rebasemachine.RebaseSession{Status: rebasemachine.SessionAwaitingUser}},
	}))

	got, ok, err := s.Get(ctx, "/repo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, PhaseConflicted, got.Phase)
}
