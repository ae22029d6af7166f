// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	data := []byte("the quick brown fox")
	hash, err := store.Put(data)
	require.NoError(t, err)

	expected := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(expected[:]), hash)

	got, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPutIdempotent(t *testing.T) {
	store := newTestStore(t)

	data := []byte("same bytes twice")
	h1, err := store.Put(data)
	require.NoError(t, err)
	h2, err := store.Put(data)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// Exactly one file stored under the shard.
	entries, err := os.ReadDir(filepath.Join(store.root, h1[:2]))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestShardedLayout(t *testing.T) {
	store := newTestStore(t)

	hash, err := store.Put([]byte("sharded"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(store.root, hash[:2], hash))
	assert.NoError(t, err)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(Hash([]byte("never stored")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetInvalidHash(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = store.Get("ZZ" + Hash([]byte("x"))[2:])
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestExistsAndDelete(t *testing.T) {
	store := newTestStore(t)

	hash, err := store.Put([]byte("ephemeral"))
	require.NoError(t, err)
	assert.True(t, store.Exists(hash))

	require.NoError(t, store.Delete(hash))
	assert.False(t, store.Exists(hash))
	assert.ErrorIs(t, store.Delete(hash), ErrNotFound)
}
