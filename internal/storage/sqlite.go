package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvEntry is the on-device row backing SQLiteStore
type kvEntry struct {
	Key       string `gorm:"column:entry_key;primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

func (kvEntry) TableName() string {
	return "kv_entries"
}

// SQLiteStore persists values in a local SQLite file, the default on-device backend
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) the SQLite database at dsn
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return db, nil
}

// NewSQLiteStore migrates the kv table and returns the store
func NewSQLiteStore(db *gorm.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv table: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

// Get returns the value stored under key
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entry kvEntry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		s.logger.Error("failed to get kv entry", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	return entry.Value, nil
}

// Set upserts the value stored under key
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	entry := kvEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		s.logger.Error("failed to set kv entry", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	return nil
}

// Delete removes key
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&kvEntry{}).Error; err != nil {
		s.logger.Error("failed to delete kv entry", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}
