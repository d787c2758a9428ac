package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/trail/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"valid 32-byte key", make([]byte, 32), false},
		{"short key", make([]byte, 16), true},
		{"long key", make([]byte, 64), true},
		{"empty key", []byte{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSealer(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestNewSealerFromPassphrase(t *testing.T) {
	_, err := NewSealerFromPassphrase("")
	assert.Error(t, err)

	a, err := NewSealerFromPassphrase("correct horse")
	require.NoError(t, err)
	b, err := NewSealerFromPassphrase("correct horse")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("token"), "access_token")
	require.NoError(t, err)
	opened, err := b.Open(sealed, "access_token")
	require.NoError(t, err)
	assert.Equal(t, "token", string(opened), "same passphrase derives the same key")
}

func TestSealOpen(t *testing.T) {
	s, err := NewSealer(make([]byte, KeySize))
	require.NoError(t, err)

	first, err := s.Seal([]byte("secret"), "refresh_token")
	require.NoError(t, err)
	second, err := s.Seal([]byte("secret"), "refresh_token")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "each seal uses a fresh nonce")

	plaintext, err := s.Open(first, "refresh_token")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(plaintext))

	_, err = s.Open(first, "access_token")
	assert.Error(t, err, "label is authenticated")

	tampered := append([]byte(nil), first...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = s.Open(tampered, "refresh_token")
	assert.Error(t, err)

	_, err = s.Open([]byte{1, 2}, "refresh_token")
	assert.Error(t, err)

	empty, err := s.Seal(nil, "api_key")
	require.NoError(t, err)
	plaintext, err = s.Open(empty, "api_key")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestLoadOrCreateKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	key, err := LoadOrCreateKey(dir)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	info, err := os.Stat(filepath.Join(dir, KeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := LoadOrCreateKey(dir)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFile), []byte("short"), 0600))
	_, err = LoadOrCreateKey(dir)
	assert.Error(t, err)
}

func TestSealedStore(t *testing.T) {
	bolt, err := storage.NewBoltStore(t.TempDir(), 0)
	require.NoError(t, err)
	defer bolt.Close()

	sealer, err := NewSealer(make([]byte, KeySize))
	require.NoError(t, err)
	store := NewSealedStore(bolt, sealer)

	require.NoError(t, store.Set(map[string]string{
		"access_token":  "header.payload.sig",
		"refresh_token": "r-1",
	}))

	raw, found, err := bolt.Get("access_token")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, raw, "header.payload.sig", "plaintext never reaches the database")

	value, found, err := store.Get("access_token")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "header.payload.sig", value)

	_, found, err = store.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Delete("access_token"))
	_, found, err = store.Get("access_token")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSealedStore_RejectsPlaintext(t *testing.T) {
	bolt, err := storage.NewBoltStore(t.TempDir(), 0)
	require.NoError(t, err)
	defer bolt.Close()

	require.NoError(t, bolt.Set(map[string]string{"access_token": "not base64!"}))

	sealer, err := NewSealer(make([]byte, KeySize))
	require.NoError(t, err)
	_, _, err = NewSealedStore(bolt, sealer).Get("access_token")
	assert.Error(t, err)
}
