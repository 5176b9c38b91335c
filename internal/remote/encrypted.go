package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"kioku/internal/kioku"
)

// ErrLocked is returned by EncryptedStore.Get before Unlock.
var ErrLocked = errors.New("blob store is locked")

// EncryptedStore encrypts every object before it reaches the wrapped store.
// Writes only need the public key. Reads need a DecryptionContext, obtained
// once per process through Unlock.
type EncryptedStore struct {
	inner     kioku.BlobStore
	encryptor kioku.Encryptor

	mu  sync.RWMutex
	dec kioku.DecryptionContext
}

// NewEncryptedStore wraps inner with encryptor.
func NewEncryptedStore(inner kioku.BlobStore, encryptor kioku.Encryptor) *EncryptedStore {
	return &EncryptedStore{inner: inner, encryptor: encryptor}
}

// Unlock unlocks the private key with passphrase so Get can decrypt.
func (s *EncryptedStore) Unlock(passphrase string) error {
	dec, err := s.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking remote store: %w", err)
	}
	s.SetDecryptionContext(dec)
	return nil
}

// SetDecryptionContext installs an already unlocked context.
func (s *EncryptedStore) SetDecryptionContext(dec kioku.DecryptionContext) {
	s.mu.Lock()
	s.dec = dec
	s.mu.Unlock()
}

// Unlocked reports whether Get can decrypt.
func (s *EncryptedStore) Unlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dec != nil
}

func (s *EncryptedStore) Put(ctx context.Context, path string, data []byte) error {
	var buf bytes.Buffer
	if err := s.encryptor.Encrypt(bytes.NewReader(data), &buf); err != nil {
		return fmt.Errorf("encrypting %s: %w", path, err)
	}
	return s.inner.Put(ctx, path, buf.Bytes())
}

func (s *EncryptedStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	dec := s.dec
	s.mu.RUnlock()
	if dec == nil {
		return nil, ErrLocked
	}

	data, err := s.inner.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dec.Decrypt(bytes.NewReader(data), &buf); err != nil {
		return nil, fmt.Errorf("decrypting %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

func (s *EncryptedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *EncryptedStore) Delete(ctx context.Context, path string) error {
	return s.inner.Delete(ctx, path)
}

// ValidateSetup checks the wrapped store and that the key pair exists.
func (s *EncryptedStore) ValidateSetup(ctx context.Context) error {
	if !s.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys are not set up")
	}
	return s.inner.ValidateSetup(ctx)
}

// Compile-time check that EncryptedStore implements kioku.BlobStore
var _ kioku.BlobStore = (*EncryptedStore)(nil)
