package testutil

import (
	"kioku/internal/encryption"
	"kioku/internal/kioku"
	"kioku/internal/remote"
)

// NewTestEncryptor creates a deterministic encryptor for testing.
func NewTestEncryptor() kioku.Encryptor {
	return encryption.NewTestEncryptor()
}

// NewEncryptedRemote wraps an in-memory store with the test encryptor,
// already unlocked. The inner store is returned so tests can inspect what
// actually reached the remote.
func NewEncryptedRemote() (*remote.EncryptedStore, *remote.MemoryStore) {
	inner := remote.NewMemoryStore()
	store := remote.NewEncryptedStore(inner, encryption.NewTestEncryptor())
	if err := store.Unlock(""); err != nil {
		panic(err)
	}
	return store, inner
}
