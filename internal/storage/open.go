package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vcscsvcscs/medication-engine/internal/config"
	"github.com/vcscsvcscs/medication-engine/internal/database"
	"github.com/vcscsvcscs/medication-engine/internal/security"
	"go.uber.org/zap"
)

// Open builds the store selected by cfg.Backend. The returned close function
// releases backend connections and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig, salt string, logger *zap.Logger) (Store, func(), error) {
	var (
		store   Store
		closeFn = func() {}
	)

	switch cfg.Backend {
	case "memory":
		store = NewMemoryStore(logger)

	case "sqlite":
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, closeFn, err
		}
		s, err := NewSQLiteStore(db, logger)
		if err != nil {
			return nil, closeFn, err
		}
		store = s
		closeFn = func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}

	case "redis":
		client := NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		s, err := NewRedisStore(ctx, client, cfg.KeyPrefix, logger)
		if err != nil {
			client.Close()
			return nil, closeFn, err
		}
		store = s
		closeFn = func() { s.Close() }

	case "postgres":
		sqlDB, err := database.NewPostgresDB(cfg.DatabaseURL, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
		if err != nil {
			return nil, closeFn, err
		}
		err = database.Migrate(ctx, sqlDB)
		sqlDB.Close()
		if err != nil {
			return nil, closeFn, err
		}

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, closeFn, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, closeFn, fmt.Errorf("failed to ping database: %w", err)
		}
		store = NewPostgresStore(pool, cfg.KeyPrefix, logger)
		closeFn = pool.Close

	case "blob":
		s, err := NewBlobStore(cfg.Blob, cfg.KeyPrefix, logger)
		if err != nil {
			return nil, closeFn, err
		}
		store = s

	default:
		return nil, closeFn, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.EncryptionSecret != "" {
		encryptor, err := security.NewEncryptorFromSecret(cfg.EncryptionSecret, salt)
		if err != nil {
			closeFn()
			return nil, func() {}, err
		}
		store = NewEncryptedStore(store, encryptor)
	}

	logger.Info("storage opened",
		zap.String("backend", cfg.Backend),
		zap.Bool("encrypted", cfg.EncryptionSecret != ""),
	)

	return store, closeFn, nil
}
