package store

import (
	"time"

	"gorm.io/gorm"
)

// Recording statuses. A recording row is created when its session enters
// Recording and transitions exactly once to completed or failed.
const (
	StatusRecording = "recording"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Recording is the persistent record of one voice session.
type Recording struct {
	gorm.Model

	SessionID   string `gorm:"uniqueIndex;not null"`
	GuildID     string `gorm:"index;not null"`
	GuildName   string
	ChannelID   string `gorm:"index;not null"`
	ChannelName string

	// Initiator is the user that started the session. Only they may stop it.
	Initiator string `gorm:"index;not null"`

	StartedAt time.Time `gorm:"index"`
	EndedAt   *time.Time
	Duration  float64 // seconds

	// Participants is a comma-separated list of speaker IDs observed
	// during the session.
	Participants string

	FilePath string
	FileSize int64
	Format   string
	Status   string `gorm:"index;default:recording"`

	// StopCause records why the session ended: user request, duration
	// ceiling, or failure detail.
	StopCause string
}

// DownloadToken authorizes one time-limited download of a recording artifact.
type DownloadToken struct {
	gorm.Model

	Token       string `gorm:"uniqueIndex;not null"`
	RecordingID uint   `gorm:"index;not null"`
	Recording   Recording
	UserID      string
	ExpiresAt   time.Time `gorm:"index"`
	UsedAt      *time.Time
}
