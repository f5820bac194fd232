package timeline

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chrimage/discord-voice-scribe/internal/audio"
)

// Track is one speaker's stream re-expressed on the session's common time
// axis and rendered to a WAV file. Every track assembled for a session has
// identical total duration, enforced by silence padding at the head, at
// internal gaps, and at the tail.
type Track struct {
	SpeakerID    string
	Path         string        // rendered WAV file
	OffsetFrames int           // head silence, frames from time zero
	ActiveFrames int           // frames carrying the speaker's audio (incl. internal gaps)
	TotalFrames  int           // identical across all tracks of a session
	Duration     time.Duration // TotalFrames * frame duration
}

// Assembler projects finalized speaker buffers onto a common time axis.
//
// No shared synchronization signal exists between speakers, so the first
// accepted frame across all speakers establishes time zero. Each stream's
// position is derived from its accumulated frame count, offset by the
// stream's first-frame arrival delta relative to time zero. The fixed
// per-stream offset error is bounded by one network round trip; speech-length
// tolerance absorbs it.
type Assembler struct {
	logger      *slog.Logger
	maxDuration time.Duration
}

// NewAssembler creates a timeline assembler. maxDuration bounds how late a
// speaker's first frame may arrive and still join the session.
func NewAssembler(logger *slog.Logger, maxDuration time.Duration) *Assembler {
	return &Assembler{
		logger:      logger,
		maxDuration: maxDuration,
	}
}

// Assemble builds equal-length timeline tracks from the sealed speaker
// buffers and renders them as WAV files under dir. Speakers with zero frames
// are excluded from the result entirely; speakers whose first frame arrived
// after the session's maximum duration had elapsed are rejected. stop is the
// wall time at which the session stopped accepting frames.
func (a *Assembler) Assemble(buffers []*audio.Buffer, stop time.Time, dir string) ([]Track, error) {
	active := make([]*audio.Buffer, 0, len(buffers))
	for _, b := range buffers {
		if b.FrameCount() == 0 {
			a.logger.Info("Excluding silent speaker from mix",
				slog.String("speaker_id", b.SpeakerID()),
			)
			continue
		}
		active = append(active, b)
	}

	if len(active) == 0 {
		return nil, fmt.Errorf("no speaker produced any audio")
	}

	// Time zero is the earliest first-frame arrival across all speakers.
	zero := active[0].FirstArrival()
	for _, b := range active[1:] {
		if b.FirstArrival().Before(zero) {
			zero = b.FirstArrival()
		}
	}

	tracks := make([]trackPlan, 0, len(active))
	for _, b := range active {
		delta := b.FirstArrival().Sub(zero)
		if delta > a.maxDuration {
			a.logger.Warn("Rejecting speaker who joined after session limit",
				slog.String("speaker_id", b.SpeakerID()),
				slog.Duration("joined_after", delta),
			)
			continue
		}

		offset := int(delta.Round(audio.FrameDuration) / audio.FrameDuration)
		tracks = append(tracks, trackPlan{
			buffer: b,
			offset: offset,
			active: b.TotalFrames(),
		})
	}

	if len(tracks) == 0 {
		return nil, fmt.Errorf("no speaker produced audio within the session window")
	}

	// Session length on the common axis: elapsed wall time, widened if a
	// stream's sequence-derived length overruns it (bounded clock skew).
	total := int(stop.Sub(zero).Round(audio.FrameDuration) / audio.FrameDuration)
	for _, t := range tracks {
		if t.offset+t.active > total {
			total = t.offset + t.active
		}
	}
	if total == 0 {
		total = 1
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create track dir: %w", err)
	}

	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		path := filepath.Join(dir, fmt.Sprintf("track_%s.wav", t.buffer.SpeakerID()))
		if err := renderTrack(t, total, path); err != nil {
			return nil, fmt.Errorf("failed to render track for speaker %s: %w",
				t.buffer.SpeakerID(), err)
		}

		out = append(out, Track{
			SpeakerID:    t.buffer.SpeakerID(),
			Path:         path,
			OffsetFrames: t.offset,
			ActiveFrames: t.active,
			TotalFrames:  total,
			Duration:     time.Duration(total) * audio.FrameDuration,
		})

		a.logger.Debug("Timeline track rendered",
			slog.String("speaker_id", t.buffer.SpeakerID()),
			slog.Int("offset_frames", t.offset),
			slog.Int("active_frames", t.active),
			slog.Int("total_frames", total),
		)
	}

	return out, nil
}

type trackPlan struct {
	buffer *audio.Buffer
	offset int
	active int
}

// renderTrack streams one track to disk: head silence, the speaker's frames
// with recorded gaps expanded to exact-length silence, then tail padding so
// every track of the session ends at the same sample.
func renderTrack(t trackPlan, totalFrames int, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create track file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<16)

	w, err := audio.NewTrackWriter(bw, totalFrames*audio.SamplesPerFrame)
	if err != nil {
		return err
	}

	if err := w.WriteSilence(t.offset * audio.SamplesPerFrame); err != nil {
		return err
	}

	err = t.buffer.ForEach(func(gapFrames int, pcm []int16) error {
		if gapFrames > 0 {
			if err := w.WriteSilence(gapFrames * audio.SamplesPerFrame); err != nil {
				return err
			}
		}
		return w.WriteSamples(pcm)
	})
	if err != nil {
		return err
	}

	tail := totalFrames - t.offset - t.active
	if tail > 0 {
		if err := w.WriteSilence(tail * audio.SamplesPerFrame); err != nil {
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush track file: %w", err)
	}

	return f.Sync()
}
