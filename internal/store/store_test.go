// ABOUTME: Tests for the memory and SQLite store implementations.
// ABOUTME: Both backends run the same conformance suite via a shared helper.

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scannableStore combines the interfaces both implementations satisfy.
type scannableStore interface {
	Store
	Scanner
}

func runStoreSuite(t *testing.T, s scannableStore) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "services/alpha", []byte(`{"serviceId":"alpha"}`)))

		got, err := s.Get(ctx, "services/alpha")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"serviceId":"alpha"}`), got)
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "services/beta", []byte("v1")))
		require.NoError(t, s.Put(ctx, "services/beta", []byte("v2")))

		got, err := s.Get(ctx, "services/beta")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("keys by prefix", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "providers/addr1", []byte("[]")))
		require.NoError(t, s.Put(ctx, "services_index", []byte("[]")))

		keys, err := s.Keys(ctx, "services/")
		require.NoError(t, err)
		assert.Equal(t, []string{"services/alpha", "services/beta"}, keys)
	})

	t.Run("keys with no matches", func(t *testing.T) {
		keys, err := s.Keys(ctx, "absent/")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	value := []byte("original")
	require.NoError(t, s.Put(ctx, "k", value))
	value[0] = 'X'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "mesh.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	runStoreSuite(t, s)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mesh.db")

	s1, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "services/gamma", []byte("persisted")))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "services/gamma")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}
