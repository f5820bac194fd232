package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides persistent session metadata backed by SQLite.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens the database at path and runs migrations.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Recording{}, &DownloadToken{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("Database opened", slog.String("path", path))

	return &Store{db: db, logger: log}, nil
}

// CreateRecording inserts the row for a newly started session.
func (s *Store) CreateRecording(rec *Recording) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	return nil
}

// CompleteRecording finalizes a recording after a successful mix.
func (s *Store) CompleteRecording(sessionID, filePath string, fileSize int64,
	duration time.Duration, participants, stopCause string) error {

	now := time.Now()
	result := s.db.Model(&Recording{}).
		Where("session_id = ? AND status = ?", sessionID, StatusRecording).
		Updates(map[string]interface{}{
			"status":       StatusCompleted,
			"ended_at":     &now,
			"duration":     duration.Seconds(),
			"file_path":    filePath,
			"file_size":    fileSize,
			"participants": participants,
			"stop_cause":   stopCause,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete recording: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FailRecording marks a recording as failed, keeping whatever metadata and
// preserved raw audio paths are known.
func (s *Store) FailRecording(sessionID, cause, preservedPath string) error {
	now := time.Now()
	result := s.db.Model(&Recording{}).
		Where("session_id = ? AND status = ?", sessionID, StatusRecording).
		Updates(map[string]interface{}{
			"status":     StatusFailed,
			"ended_at":   &now,
			"stop_cause": cause,
			"file_path":  preservedPath,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark recording failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecording returns one recording by database ID.
func (s *Store) GetRecording(id uint) (*Recording, error) {
	var rec Recording
	if err := s.db.First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return &rec, nil
}

// GetRecordingBySession returns one recording by session ID.
func (s *Store) GetRecordingBySession(sessionID string) (*Recording, error) {
	var rec Recording
	err := s.db.Where("session_id = ?", sessionID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return &rec, nil
}

// ListRecordings returns a guild's recordings, newest first.
func (s *Store) ListRecordings(guildID string, limit int) ([]Recording, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	var recs []Recording
	err := s.db.Where("guild_id = ?", guildID).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	return recs, nil
}

// CreateDownloadToken stores a minted download token.
func (s *Store) CreateDownloadToken(tok *DownloadToken) error {
	if err := s.db.Create(tok).Error; err != nil {
		return fmt.Errorf("failed to create download token: %w", err)
	}
	return nil
}

// GetDownloadToken returns an unexpired token with its recording preloaded.
func (s *Store) GetDownloadToken(token string) (*DownloadToken, error) {
	var tok DownloadToken
	err := s.db.Preload("Recording").
		Where("token = ? AND expires_at > ?", token, time.Now()).
		First(&tok).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get download token: %w", err)
	}
	return &tok, nil
}

// MarkTokenUsed records when a download token was last redeemed.
func (s *Store) MarkTokenUsed(token string) error {
	now := time.Now()
	err := s.db.Model(&DownloadToken{}).
		Where("token = ?", token).
		Update("used_at", &now).Error
	if err != nil {
		return fmt.Errorf("failed to mark token used: %w", err)
	}
	return nil
}

// DeleteExpiredTokens removes download tokens past their expiry. Returns the
// number of rows deleted.
func (s *Store) DeleteExpiredTokens() (int64, error) {
	result := s.db.Unscoped().
		Where("expires_at <= ?", time.Now()).
		Delete(&DownloadToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// FailStaleRecordings marks recordings still in the recording state as failed.
// Called on startup to repair rows orphaned by an unclean shutdown.
func (s *Store) FailStaleRecordings() (int64, error) {
	now := time.Now()
	result := s.db.Model(&Recording{}).
		Where("status = ?", StatusRecording).
		Updates(map[string]interface{}{
			"status":     StatusFailed,
			"ended_at":   &now,
			"stop_cause": "interrupted by restart",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to fail stale recordings: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
