package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Transport Transport `yaml:"transport"`
	HTTP      HTTP      `yaml:"http"`
	Audio     Audio     `yaml:"audio"`
	Recording Recording `yaml:"recording"`
	Mixer     Mixer     `yaml:"mixer"`
	Storage   Storage   `yaml:"storage"`
	Database  Database  `yaml:"database"`
	Auth      Auth      `yaml:"auth"`
	Logging   Logging   `yaml:"logging"`
}

// Transport contains the UDP frame-gateway configuration
type Transport struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
}

// HTTP contains HTTP API server configuration
type HTTP struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	BaseURL string `yaml:"base_url"`
}

// Audio contains the fixed PCM frame format parameters
type Audio struct {
	SampleRate    int `yaml:"sample_rate"`    // 48000 Hz
	Channels      int `yaml:"channels"`       // 1 (mono)
	BitDepth      int `yaml:"bit_depth"`      // 16
	FrameDuration int `yaml:"frame_duration"` // milliseconds
}

// Recording contains per-session capture limits
type Recording struct {
	MaxDuration     int    `yaml:"max_duration"`     // seconds
	MaxSpeakers     int    `yaml:"max_speakers"`
	ReorderWindow   int    `yaml:"reorder_window"`   // frames
	BufferCeiling   int    `yaml:"buffer_ceiling"`   // bytes per speaker before spill
	SpillDir        string `yaml:"spill_dir"`
	CleanupInterval int    `yaml:"cleanup_interval"` // seconds
}

// Mixer contains external mixing-process configuration
type Mixer struct {
	Format        string  `yaml:"format"`  // "mp3" or "aac"
	Bitrate       string  `yaml:"bitrate"` // e.g. "192k"
	MaxAttempts   int     `yaml:"max_attempts"`
	TimeoutFactor float64 `yaml:"timeout_factor"` // timeout = factor * session duration
	MinTimeout    int     `yaml:"min_timeout"`    // seconds
	FFmpegPath    string  `yaml:"ffmpeg_path"`
	FFprobePath   string  `yaml:"ffprobe_path"`
	TempDir       string  `yaml:"temp_dir"`
}

// Storage contains artifact storage configuration
type Storage struct {
	Provider       string `yaml:"provider"` // "local" or "s3"
	RecordingsPath string `yaml:"recordings_path"`
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	AccessKeyID    string `yaml:"access_key_id"`
	SecretKey      string `yaml:"secret_key"`
}

// Database contains metadata store configuration
type Database struct {
	Path string `yaml:"path"`
}

// Auth contains download-link signing configuration
type Auth struct {
	JWTSecret    string `yaml:"jwt_secret"`
	LinkTTLHours int    `yaml:"link_ttl_hours"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Mixer.Validate(); err != nil {
		return fmt.Errorf("mixer config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates transport configuration
func (t *Transport) Validate() error {
	if t.UDPPort < 1 || t.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", t.UDPPort)
	}

	if t.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if t.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", t.BufferSize)
	}

	if t.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", t.Workers)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTP) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates audio format configuration
func (a *Audio) Validate() error {
	if a.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be 48000 Hz for voice capture, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.FrameDuration != 20 {
		return fmt.Errorf("frame_duration must be 20 ms, got %d", a.FrameDuration)
	}

	return nil
}

// Validate validates recording limits
func (r *Recording) Validate() error {
	if r.MaxDuration < 1 {
		return fmt.Errorf("max_duration must be at least 1 second, got %d", r.MaxDuration)
	}

	if r.MaxSpeakers < 1 {
		return fmt.Errorf("max_speakers must be at least 1, got %d", r.MaxSpeakers)
	}

	if r.ReorderWindow < 1 {
		return fmt.Errorf("reorder_window must be at least 1 frame, got %d", r.ReorderWindow)
	}

	if r.BufferCeiling < 4096 {
		return fmt.Errorf("buffer_ceiling must be at least 4096 bytes, got %d", r.BufferCeiling)
	}

	if r.SpillDir == "" {
		return fmt.Errorf("spill_dir cannot be empty")
	}

	if r.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", r.CleanupInterval)
	}

	return nil
}

// Validate validates mixer configuration
func (m *Mixer) Validate() error {
	validFormats := map[string]bool{"mp3": true, "aac": true}
	if !validFormats[m.Format] {
		return fmt.Errorf("format must be 'mp3' or 'aac', got '%s'", m.Format)
	}

	if m.Bitrate == "" {
		return fmt.Errorf("bitrate cannot be empty")
	}

	if m.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", m.MaxAttempts)
	}

	if m.TimeoutFactor <= 0 {
		return fmt.Errorf("timeout_factor must be positive, got %f", m.TimeoutFactor)
	}

	if m.MinTimeout < 1 {
		return fmt.Errorf("min_timeout must be at least 1 second, got %d", m.MinTimeout)
	}

	if m.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if m.FFprobePath == "" {
		return fmt.Errorf("ffprobe_path cannot be empty")
	}

	if m.TempDir == "" {
		return fmt.Errorf("temp_dir cannot be empty")
	}

	return nil
}

// Validate validates storage configuration
func (s *Storage) Validate() error {
	switch s.Provider {
	case "local":
		if s.RecordingsPath == "" {
			return fmt.Errorf("recordings_path cannot be empty for local storage")
		}
	case "s3":
		if s.Bucket == "" {
			return fmt.Errorf("bucket cannot be empty for s3 storage")
		}
		if s.Region == "" {
			return fmt.Errorf("region cannot be empty for s3 storage")
		}
	default:
		return fmt.Errorf("provider must be 'local' or 's3', got '%s'", s.Provider)
	}

	return nil
}

// Validate validates database configuration
func (d *Database) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	return nil
}

// Validate validates auth configuration
func (a *Auth) Validate() error {
	if a.JWTSecret == "" {
		return fmt.Errorf("jwt_secret cannot be empty")
	}

	if a.LinkTTLHours < 1 {
		return fmt.Errorf("link_ttl_hours must be at least 1, got %d", a.LinkTTLHours)
	}

	return nil
}

// Validate validates logging configuration
func (l *Logging) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// FrameDurationTime returns the frame duration as a time.Duration
func (a *Audio) FrameDurationTime() time.Duration {
	return time.Duration(a.FrameDuration) * time.Millisecond
}

// SamplesPerFrame returns the number of PCM samples in one frame
func (a *Audio) SamplesPerFrame() int {
	return a.SampleRate * a.FrameDuration / 1000
}

// MaxDurationTime returns the maximum session duration as a time.Duration
func (r *Recording) MaxDurationTime() time.Duration {
	return time.Duration(r.MaxDuration) * time.Second
}

// CleanupIntervalTime returns the cleanup interval as a time.Duration
func (r *Recording) CleanupIntervalTime() time.Duration {
	return time.Duration(r.CleanupInterval) * time.Second
}

// MinTimeoutTime returns the minimum mix timeout as a time.Duration
func (m *Mixer) MinTimeoutTime() time.Duration {
	return time.Duration(m.MinTimeout) * time.Second
}

// LinkTTL returns the download-link lifetime as a time.Duration
func (a *Auth) LinkTTL() time.Duration {
	return time.Duration(a.LinkTTLHours) * time.Hour
}
