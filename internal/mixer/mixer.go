package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chrimage/discord-voice-scribe/internal/audio"
	"github.com/chrimage/discord-voice-scribe/internal/metrics"
	"github.com/chrimage/discord-voice-scribe/internal/timeline"
)

var (
	// ErrMixTimeout indicates the external mixing process exceeded its
	// bounded execution time.
	ErrMixTimeout = errors.New("mix process timed out")

	// ErrMixProcess indicates the external mixing process exited non-zero
	// or produced no output.
	ErrMixProcess = errors.New("mix process failed")

	// ErrArtifactValidation indicates the produced artifact's duration does
	// not match the session duration. Treated as a mix failure and retried.
	ErrArtifactValidation = errors.New("artifact validation failed")
)

// Config contains mixing engine configuration.
type Config struct {
	Format        string // "mp3" or "aac"
	Bitrate       string
	MaxAttempts   int
	TimeoutFactor float64 // execution timeout = factor * session duration
	MinTimeout    time.Duration
	FFmpegPath    string
	FFprobePath   string
	TempDir       string
}

// Job is one ephemeral work item describing a session's mix: the aligned
// input tracks, the target format, and the attempt budget. It exists only
// for the duration of the engine's execution.
type Job struct {
	ID           string
	SessionID    string
	Tracks       []timeline.Track
	Duration     time.Duration // expected artifact duration
	Participants []string
	Title        string
}

// Artifact is the final mixed audio object. Immutable once created;
// ownership passes to the metadata store.
type Artifact struct {
	SessionID    string
	Path         string
	Format       string
	Bitrate      string
	Duration     time.Duration
	Size         int64
	Participants []string
	Warnings     []string
}

// runFunc executes an external command, returning combined output.
// Injectable for tests.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// probeFunc returns the duration in seconds of an encoded audio file.
type probeFunc func(ctx context.Context, path string) (float64, error)

// Engine renders aligned timeline tracks into a single audio artifact by
// invoking an external mixing process. The process is treated as a black box
// with a bounded execution timeout, bounded retries with backoff, and output
// validation.
type Engine struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	run     runFunc
	probe   probeFunc
}

// NewEngine creates a mixing engine.
func NewEngine(config Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 3
	}
	if config.TimeoutFactor <= 0 {
		config.TimeoutFactor = 2
	}
	if config.MinTimeout <= 0 {
		config.MinTimeout = 60 * time.Second
	}

	e := &Engine{
		config:  config,
		logger:  logger,
		metrics: m,
	}
	e.run = e.execCommand
	e.probe = e.probeDuration
	return e
}

// NewJob builds a mix job for a session's assembled tracks.
func NewJob(sessionID string, tracks []timeline.Track, duration time.Duration, participants []string) *Job {
	return &Job{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Tracks:       tracks,
		Duration:     duration,
		Participants: participants,
	}
}

// Mix produces one artifact from the job, retrying the external process up
// to the configured attempt ceiling with exponential backoff. A detectably
// corrupt input track is dropped from the mix with a recorded warning rather
// than failing the whole job.
func (e *Engine) Mix(ctx context.Context, job *Job) (*Artifact, error) {
	tracks, warnings := e.filterCorruptTracks(job)
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no usable input tracks", ErrMixProcess)
	}

	if err := os.MkdirAll(e.config.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mix temp dir: %w", err)
	}

	outPath := filepath.Join(e.config.TempDir,
		fmt.Sprintf("mix_%s.%s", job.ID, e.config.Format))

	timeout := time.Duration(e.config.TimeoutFactor * float64(job.Duration))
	if timeout < e.config.MinTimeout {
		timeout = e.config.MinTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			e.metrics.RecordMixRetry()

			backoff := time.Duration(math.Pow(2, float64(attempt-2))) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			e.logger.Warn("Retrying mix",
				slog.String("job_id", job.ID),
				slog.String("session_id", job.SessionID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		e.metrics.RecordMixAttempt()

		artifact, err := e.mixOnce(ctx, job, tracks, outPath, timeout)
		if err == nil {
			artifact.Warnings = warnings
			e.tagArtifact(job, artifact)
			e.metrics.RecordMixSuccess(artifact.Duration.Seconds(), artifact.Size)
			return artifact, nil
		}
		lastErr = err
	}

	e.metrics.RecordMixFailure()
	return nil, fmt.Errorf("mix failed after %d attempts: %w", e.config.MaxAttempts, lastErr)
}

// filterCorruptTracks drops input tracks that fail WAV validation, recording
// a warning per dropped track. A degraded mix is preferred over no mix.
func (e *Engine) filterCorruptTracks(job *Job) ([]timeline.Track, []string) {
	usable := make([]timeline.Track, 0, len(job.Tracks))
	var warnings []string

	for _, t := range job.Tracks {
		if err := audio.ValidateWAVFile(t.Path); err != nil {
			warning := fmt.Sprintf("dropped corrupt track for speaker %s: %v", t.SpeakerID, err)
			warnings = append(warnings, warning)
			e.metrics.RecordTrackDropped()
			e.logger.Warn("Dropping corrupt track from mix",
				slog.String("job_id", job.ID),
				slog.String("speaker_id", t.SpeakerID),
				slog.String("error", err.Error()),
			)
			continue
		}
		usable = append(usable, t)
	}

	return usable, warnings
}

// mixOnce performs a single external mix attempt with output validation.
func (e *Engine) mixOnce(ctx context.Context, job *Job, tracks []timeline.Track,
	outPath string, timeout time.Duration) (*Artifact, error) {

	os.Remove(outPath)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := buildMixArgs(tracks, e.config.Format, e.config.Bitrate, outPath)

	started := time.Now()
	output, err := e.run(runCtx, e.config.FFmpegPath, args...)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w after %s", ErrMixTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrMixProcess, err, truncateOutput(output))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: output file missing: %v", ErrMixProcess, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: output file is empty", ErrMixProcess)
	}

	probed, err := e.probe(runCtx, outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactValidation, err)
	}

	tolerance := audio.FrameDuration.Seconds()
	if diff := math.Abs(probed - job.Duration.Seconds()); diff > tolerance {
		return nil, fmt.Errorf("%w: artifact duration %.3fs differs from session duration %.3fs by %.3fs",
			ErrArtifactValidation, probed, job.Duration.Seconds(), diff)
	}

	e.logger.Info("Mix completed",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.Int("tracks", len(tracks)),
		slog.Int64("size_bytes", info.Size()),
		slog.Duration("took", time.Since(started)),
	)

	return &Artifact{
		SessionID:    job.SessionID,
		Path:         outPath,
		Format:       e.config.Format,
		Bitrate:      e.config.Bitrate,
		Duration:     job.Duration,
		Size:         info.Size(),
		Participants: job.Participants,
	}, nil
}

// buildMixArgs constructs the ffmpeg invocation: N aligned inputs with
// silence padding already applied, one encoded output.
func buildMixArgs(tracks []timeline.Track, format, bitrate, outPath string) []string {
	codec := "libmp3lame"
	if format == "aac" {
		codec = "aac"
	}

	args := []string{"-y", "-loglevel", "error"}
	for _, t := range tracks {
		args = append(args, "-i", t.Path)
	}

	if len(tracks) > 1 {
		var labels strings.Builder
		for i := range tracks {
			fmt.Fprintf(&labels, "[%d:a]", i)
		}
		filter := fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0[out]",
			labels.String(), len(tracks))
		args = append(args, "-filter_complex", filter, "-map", "[out]")
	}

	args = append(args, "-acodec", codec, "-b:a", bitrate, outPath)
	return args
}

// execCommand is the default runner for the external mixing process.
func (e *Engine) execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// probeDuration reads the encoded file's duration via ffprobe.
func (e *Engine) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.config.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable ffprobe duration %q: %w", strings.TrimSpace(string(output)), err)
	}

	return duration, nil
}

func truncateOutput(output []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(output))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
