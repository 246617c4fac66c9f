// Package storage provides the durable key-value primitive the engine persists through.
package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when no value is stored under the key
var ErrKeyNotFound = errors.New("key not found")

// Store defines the durable key-value operations the engine depends on.
// Implementations make no compare-and-swap guarantee; callers serialise
// read-modify-write cycles themselves.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Ensure implementations satisfy Store
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*BlobStore)(nil)
	_ Store = (*EncryptedStore)(nil)
)
