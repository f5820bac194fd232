package storage

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chrimage/discord-voice-scribe/internal/config"
)

// Provider abstracts where finished recording artifacts live.
type Provider interface {
	// Put stores an artifact under key and returns nothing; the key is the
	// provider-relative path recorded in the metadata store.
	Put(key string, body io.ReadSeeker, contentType string) error

	// Get opens an artifact for reading. The caller closes Body.
	Get(key string) (*Object, error)

	// Delete removes an artifact.
	Delete(key string) error

	// Exists reports whether an artifact is present.
	Exists(key string) (bool, error)

	// List returns keys under the given prefix.
	List(prefix string) ([]string, error)
}

// Object is the provider-agnostic representation of a stored artifact.
type Object struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
	LastModified  time.Time
}

// New builds the provider selected by configuration.
func New(cfg *config.Storage, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "local":
		logger.Info("Using local artifact storage",
			slog.String("path", cfg.RecordingsPath))
		return NewLocalProvider(cfg.RecordingsPath), nil
	case "s3":
		logger.Info("Using S3 artifact storage",
			slog.String("bucket", cfg.Bucket),
			slog.String("region", cfg.Region))
		return NewS3Provider(cfg)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}
