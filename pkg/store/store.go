// Package store persists users, polling configs and notes in a local
// SQLite database. All writes funnel through one Store; the crawler is the
// only writer.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/baohengtao/redbook/pkg/logger"
	"github.com/baohengtao/redbook/pkg/models"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("entity not found")

// Store wraps the database handle
type Store struct {
	db     *gorm.DB
	logger logger.Logger
}

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.UserConfig{}, &models.Note{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

// OpenInMemory opens an in-memory database, for tests
func OpenInMemory(log logger.Logger) (*Store, error) {
	return Open(":memory:", log)
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetUser returns a user by id, or ErrNotFound
func (s *Store) GetUser(id string) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserConfig returns the polling config for a user, or ErrNotFound
func (s *Store) GetUserConfig(userID string) (*models.UserConfig, error) {
	var cfg models.UserConfig
	if err := s.db.First(&cfg, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// SaveUserConfig writes a polling config
func (s *Store) SaveUserConfig(cfg *models.UserConfig) error {
	return s.db.Save(cfg).Error
}

// EnabledConfigs returns the polling configs of all opted-in users
func (s *Store) EnabledConfigs() ([]models.UserConfig, error) {
	var configs []models.UserConfig
	if err := s.db.Where("note_fetch = ?", true).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// DeleteUser removes a user together with their config and notes
func (s *Store) DeleteUser(userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Note{}, "user_id = ?", userID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.UserConfig{}, "user_id = ?", userID).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", userID).Error
	})
}

// GetNote returns a note by id, or ErrNotFound
func (s *Store) GetNote(id string) (*models.Note, error) {
	var note models.Note
	if err := s.db.First(&note, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &note, nil
}

// NotesForUser returns a user's notes, newest first
func (s *Store) NotesForUser(userID string) ([]models.Note, error) {
	var notes []models.Note
	if err := s.db.Where("user_id = ?", userID).Order("time DESC").Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}

// CountNotesSince counts a user's notes published at or after since
func (s *Store) CountNotesSince(userID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.Note{}).
		Where("user_id = ? AND time >= ?", userID, since).
		Count(&count).Error
	return count, err
}

// LatestNoteTime returns the publish time of a user's newest stored note,
// or nil when no notes are stored.
func (s *Store) LatestNoteTime(userID string) (*time.Time, error) {
	var note models.Note
	err := s.db.Where("user_id = ?", userID).Order("time DESC").First(&note).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t := note.Time
	return &t, nil
}
