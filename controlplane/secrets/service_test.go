// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	cipher, err := NewAESGCMCipher(key)
	require.NoError(t, err)
	return NewService(cipher)
}

func TestCreateAndGetValue(t *testing.T) {
	s := newTestService(t)

	secret, err := s.Create("db-password", "primary db", []byte("hunter2"), RotationPolicy{}, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, secret.Version)
	assert.NotEmpty(t, secret.ValueHash)

	value, err := s.GetValue("db-password")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), value)

	// Metadata read carries no plaintext.
	meta, err := s.Get("db-password")
	require.NoError(t, err)
	assert.Equal(t, "primary db", meta.Description)
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestService(t)
	_, err := s.Create("k", "", []byte("v"), RotationPolicy{}, "")
	require.NoError(t, err)
	_, err = s.Create("k", "", []byte("v2"), RotationPolicy{}, "")
	assert.ErrorIs(t, err, ErrExists)
}

func TestRotateVersioning(t *testing.T) {
	s := newTestService(t)
	_, err := s.Create("api-key", "", []byte("v1-value"), RotationPolicy{}, "")
	require.NoError(t, err)

	rotated, err := s.Rotate("api-key", []byte("v2-value"))
	require.NoError(t, err)
	assert.Equal(t, 2, rotated.Version)
	require.NotNil(t, rotated.LastRotatedAt)

	// Current value is the new one; the prior version is still readable.
	current, err := s.GetValue("api-key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2-value"), current)

	old, err := s.GetValueVersion("api-key", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1-value"), old)

	versions, err := s.Versions("api-key")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.NotNil(t, versions[0].DeprecatedAt)
	assert.Nil(t, versions[1].DeprecatedAt)
}

func TestGetValueVersionMissing(t *testing.T) {
	s := newTestService(t)
	_, err := s.Create("k", "", []byte("v"), RotationPolicy{}, "")
	require.NoError(t, err)

	_, err = s.GetValueVersion("k", 9)
	assert.ErrorIs(t, err, ErrVersionNotFound)
	_, err = s.GetValueVersion("missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNeedingRotation(t *testing.T) {
	s := newTestService(t)

	_, err := s.Create("stale", "", []byte("v"), RotationPolicy{Enabled: true, Interval: time.Hour}, "")
	require.NoError(t, err)
	_, err = s.Create("fresh", "", []byte("v"), RotationPolicy{Enabled: true, Interval: 24 * time.Hour}, "")
	require.NoError(t, err)
	_, err = s.Create("no-policy", "", []byte("v"), RotationPolicy{}, "")
	require.NoError(t, err)

	due := s.NeedingRotation(time.Now().UTC().Add(2 * time.Hour))
	require.Len(t, due, 1)
	assert.Equal(t, "stale", due[0].ID)

	// Rotating resets the clock.
	_, err = s.Rotate("stale", []byte("v2"))
	require.NoError(t, err)
	assert.Empty(t, s.NeedingRotation(time.Now().UTC().Add(30*time.Minute)))
}

func TestCipherAuthenticated(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewAESGCMCipher(key)
	require.NoError(t, err)

	ct, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	// Flip one ciphertext bit; decryption must fail.
	ct[len(ct)-1] ^= 0x01
	_, err = c.Decrypt(ct)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestCipherKeyLength(t *testing.T) {
	_, err := NewAESGCMCipher([]byte("short"))
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	s := newTestService(t)
	_, err := s.Create("k", "", []byte("v"), RotationPolicy{}, "")
	require.NoError(t, err)

	require.NoError(t, s.Delete("k"))
	assert.ErrorIs(t, s.Delete("k"), ErrNotFound)
	_, err = s.GetValue("k")
	assert.ErrorIs(t, err, ErrNotFound)
}
