package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/trail/pkg/storage"
)

// KeySize is the AES-256 key length
const KeySize = 32

// KeyFile is the name of the generated key inside the data directory
const KeyFile = "store.key"

// Sealer encrypts values with AES-256-GCM. The nonce is prepended to the
// ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a sealer from a 32-byte key
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromPassphrase derives the key with SHA-256
func NewSealerFromPassphrase(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase cannot be empty")
	}
	hash := sha256.Sum256([]byte(passphrase))
	return NewSealer(hash[:])
}

// Seal encrypts plaintext, binding it to label so a value cannot be moved
// to another key
func (s *Sealer) Seal(plaintext []byte, label string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(label)), nil
}

// Open decrypts data produced by Seal with the same label
func (s *Sealer) Open(ciphertext []byte, label string) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// LoadOrCreateKey reads <dataDir>/store.key, generating it on first use
func LoadOrCreateKey(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, KeyFile)

	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key file %s is corrupt: %d bytes", path, len(key))
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return key, nil
}

// SealedStore encrypts every value of a credential store at rest
type SealedStore struct {
	inner  storage.CredentialStore
	sealer *Sealer
}

// NewSealedStore wraps inner
func NewSealedStore(inner storage.CredentialStore, sealer *Sealer) *SealedStore {
	return &SealedStore{inner: inner, sealer: sealer}
}

// Get returns the decrypted value for key
func (s *SealedStore) Get(key string) (string, bool, error) {
	raw, found, err := s.inner.Get(key)
	if err != nil || !found {
		return "", found, err
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", false, fmt.Errorf("credential %s is not sealed: %w", key, err)
	}
	plaintext, err := s.sealer.Open(data, key)
	if err != nil {
		return "", false, fmt.Errorf("credential %s: %w", key, err)
	}
	return string(plaintext), true, nil
}

// Set encrypts and stores all values in one write
func (s *SealedStore) Set(values map[string]string) error {
	sealed := make(map[string]string, len(values))
	for k, v := range values {
		data, err := s.sealer.Seal([]byte(v), k)
		if err != nil {
			return fmt.Errorf("failed to seal credential %s: %w", k, err)
		}
		sealed[k] = base64.StdEncoding.EncodeToString(data)
	}
	return s.inner.Set(sealed)
}

// Delete removes keys
func (s *SealedStore) Delete(keys ...string) error {
	return s.inner.Delete(keys...)
}
