package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "sessions"), nil)
	require.NoError(t, err)
	return s
}

func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestNewStoreCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b")
	s, err := NewStore(root, nil)
	require.NoError(t, err)

	fi, err := os.Stat(s.Root())
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestCreateAndResolve(t *testing.T) {
	s := testStore(t)

	id, err := s.Create()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	path, err := s.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), id), path)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestCreateReturnsDistinctIDs(t *testing.T) {
	s := testStore(t)

	a, err := s.Create()
	require.NoError(t, err)
	b, err := s.Create()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestResolveUnknown(t *testing.T) {
	s := testStore(t)

	_, err := s.Resolve("00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestResolveRejectsPathShapes(t *testing.T) {
	s := testStore(t)

	for _, id := range []string{"", ".", "..", "../etc", "a/b", `a\b`} {
		_, err := s.Resolve(id)
		assert.ErrorIs(t, err, ErrSessionNotFound, "id %q", id)
	}
}

func TestResolveIgnoresPlainFiles(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "not-a-session"), nil, 0o644))

	_, err := s.Resolve("not-a-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := testStore(t)

	id, err := s.Create()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), id, "data.txt"), []byte("x"), 0o644))

	require.NoError(t, s.Delete(id))
	require.NoError(t, s.Delete(id))

	_, err = s.Resolve(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteNeverLeavesRoot(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Delete(".."))
	require.NoError(t, s.Delete(""))

	_, err := os.Stat(s.Root())
	assert.NoError(t, err)
}

func TestTouchRefreshesMtime(t *testing.T) {
	s := testStore(t)

	id, err := s.Create()
	require.NoError(t, err)
	path, _ := s.Path(id)
	age(t, path, 48*time.Hour)

	require.NoError(t, s.Touch(id))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), fi.ModTime(), time.Minute)
}

func TestTouchUnknown(t *testing.T) {
	s := testStore(t)
	assert.ErrorIs(t, s.Touch("missing"), ErrSessionNotFound)
}

func TestList(t *testing.T) {
	s := testStore(t)

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		id, err := s.Create()
		require.NoError(t, err)
		ids[id] = true
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "stray.txt"), nil, 0o644))

	sessions, err := s.List()
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	for _, sess := range sessions {
		assert.True(t, ids[sess.ID])
		assert.False(t, sess.LastTouched.IsZero())
	}
}

func TestSweepExpired(t *testing.T) {
	s := testStore(t)

	oldID, err := s.Create()
	require.NoError(t, err)
	newID, err := s.Create()
	require.NoError(t, err)

	oldPath, _ := s.Path(oldID)
	newPath, _ := s.Path(newID)
	age(t, oldPath, 25*time.Hour)
	age(t, newPath, 23*time.Hour)

	removed, err := s.SweepExpired(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{oldID}, removed)

	_, err = s.Resolve(oldID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Resolve(newID)
	assert.NoError(t, err)
}

func TestSweepExpiredEmptyRoot(t *testing.T) {
	s := testStore(t)

	removed, err := s.SweepExpired(time.Hour)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSweepExpiredMissingRoot(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.RemoveAll(s.Root()))

	_, err := s.SweepExpired(time.Hour)
	assert.Error(t, err)
}
