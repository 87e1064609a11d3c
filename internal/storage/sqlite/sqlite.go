package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/kscreen/internal/storage"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Blob is one persisted key/value row
type Blob struct {
	Key       string    `gorm:"primaryKey;column:name"`
	Value     []byte    `gorm:"not null;column:value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the table name
func (Blob) TableName() string {
	return "kv_blobs"
}

// Store implements storage.KVStore on a SQLite database through gorm
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the database at path
func Open(path string) (*Store, error) {
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Blob{}); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var blob Blob
	result := s.db.WithContext(ctx).First(&blob, "name = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrapf(result.Error, "failed to get %s", key)
	}
	return blob.Value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	blob := Blob{Key: key, Value: value}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&blob)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to set %s", key)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	result := s.db.WithContext(ctx).Where("name = ?", key).Delete(&Blob{})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to delete %s", key)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
