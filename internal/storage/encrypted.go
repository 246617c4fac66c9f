package storage

import (
	"context"
	"fmt"

	"github.com/vcscsvcscs/medication-engine/internal/security"
)

// EncryptedStore seals every value with AES-GCM before handing it to the inner store
type EncryptedStore struct {
	inner     Store
	encryptor *security.Encryptor
}

// NewEncryptedStore wraps inner so values are encrypted at rest
func NewEncryptedStore(inner Store, encryptor *security.Encryptor) *EncryptedStore {
	return &EncryptedStore{inner: inner, encryptor: encryptor}
}

// Get reads and decrypts the value stored under key
func (s *EncryptedStore) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	value, err := s.encryptor.Open(key, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return value, nil
}

// Set encrypts value and writes it under key
func (s *EncryptedStore) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := s.encryptor.Seal(key, value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealed)
}

// Delete removes key from the inner store
func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
