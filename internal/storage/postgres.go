package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists values in the kv_entries table.
// The table is created by database.Migrate.
type PostgresStore struct {
	db     *pgxpool.Pool
	prefix string
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *pgxpool.Pool, prefix string, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		prefix: prefix,
		logger: logger,
	}
}

// Get returns the value stored under key
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM kv_entries WHERE key = $1`

	var value []byte
	err := s.db.QueryRow(ctx, query, s.prefix+key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		s.logger.Error("failed to get kv entry", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	return value, nil
}

// Set upserts the value stored under key
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := s.db.Exec(ctx, query, s.prefix+key, value); err != nil {
		s.logger.Error("failed to set kv entry", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	return nil
}

// Delete removes key
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM kv_entries WHERE key = $1`

	if _, err := s.db.Exec(ctx, query, s.prefix+key); err != nil {
		s.logger.Error("failed to delete kv entry", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}
