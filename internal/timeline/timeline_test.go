package timeline

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/chrimage/discord-voice-scribe/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fillBuffer appends n contiguous frames starting at first, 20ms apart.
func fillBuffer(t *testing.T, b *audio.Buffer, first time.Time, n int) {
	t.Helper()
	for seq := 0; seq < n; seq++ {
		pcm := make([]int16, audio.SamplesPerFrame)
		pcm[0] = int16(seq + 1)
		frame := &audio.Frame{
			PCM:      pcm,
			Sequence: uint32(seq),
			Arrival:  first.Add(time.Duration(seq) * audio.FrameDuration),
		}
		if err := b.Append(frame); err != nil {
			t.Fatalf("Append(%d) failed: %v", seq, err)
		}
	}
	b.Finalize()
}

func TestAssembleEqualDurations(t *testing.T) {
	zero := time.Now()
	stop := zero.Add(2 * time.Second)

	a := audio.NewBuffer("s1", "alice", audio.BufferConfig{})
	fillBuffer(t, a, zero, 5)

	// Bob starts speaking one second in.
	b := audio.NewBuffer("s1", "bob", audio.BufferConfig{})
	fillBuffer(t, b, zero.Add(time.Second), 3)

	asm := NewAssembler(testLogger(), time.Hour)
	tracks, err := asm.Assemble([]*audio.Buffer{a, b}, stop, t.TempDir())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(tracks) != 2 {
		t.Fatalf("Expected 2 tracks, got %d", len(tracks))
	}

	wantTotal := 100 // 2 seconds of 20ms frames
	for _, tr := range tracks {
		if tr.TotalFrames != wantTotal {
			t.Errorf("Track %s: expected %d total frames, got %d",
				tr.SpeakerID, wantTotal, tr.TotalFrames)
		}
		if tr.Duration != 2*time.Second {
			t.Errorf("Track %s: expected 2s duration, got %v", tr.SpeakerID, tr.Duration)
		}

		duration, err := audio.WAVDuration(tr.Path)
		if err != nil {
			t.Fatalf("Track %s: invalid WAV: %v", tr.SpeakerID, err)
		}
		if duration != 2.0 {
			t.Errorf("Track %s: expected 2.0s on disk, got %f", tr.SpeakerID, duration)
		}
	}

	byID := map[string]Track{}
	for _, tr := range tracks {
		byID[tr.SpeakerID] = tr
	}

	if byID["alice"].OffsetFrames != 0 {
		t.Errorf("alice: expected offset 0, got %d", byID["alice"].OffsetFrames)
	}
	if byID["alice"].ActiveFrames != 5 {
		t.Errorf("alice: expected 5 active frames, got %d", byID["alice"].ActiveFrames)
	}
	if byID["bob"].OffsetFrames != 50 {
		t.Errorf("bob: expected offset 50, got %d", byID["bob"].OffsetFrames)
	}
}

func TestAssembleExcludesSilentSpeaker(t *testing.T) {
	zero := time.Now()

	a := audio.NewBuffer("s1", "alice", audio.BufferConfig{})
	fillBuffer(t, a, zero, 3)

	silent := audio.NewBuffer("s1", "mute", audio.BufferConfig{})
	silent.Finalize()

	asm := NewAssembler(testLogger(), time.Hour)
	tracks, err := asm.Assemble([]*audio.Buffer{a, silent}, zero.Add(time.Second), t.TempDir())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(tracks) != 1 {
		t.Fatalf("Expected 1 track, got %d", len(tracks))
	}
	if tracks[0].SpeakerID != "alice" {
		t.Errorf("Expected alice's track, got %s", tracks[0].SpeakerID)
	}
}

func TestAssembleAllSilentFails(t *testing.T) {
	silent := audio.NewBuffer("s1", "mute", audio.BufferConfig{})
	silent.Finalize()

	asm := NewAssembler(testLogger(), time.Hour)
	_, err := asm.Assemble([]*audio.Buffer{silent}, time.Now(), t.TempDir())
	if err == nil {
		t.Fatal("Expected error when no speaker produced audio")
	}
}

func TestAssembleRejectsLateJoiner(t *testing.T) {
	zero := time.Now()

	a := audio.NewBuffer("s1", "alice", audio.BufferConfig{})
	fillBuffer(t, a, zero, 3)

	// Joins after the session's maximum duration has already elapsed.
	late := audio.NewBuffer("s1", "late", audio.BufferConfig{})
	fillBuffer(t, late, zero.Add(2*time.Second), 3)

	asm := NewAssembler(testLogger(), time.Second)
	tracks, err := asm.Assemble([]*audio.Buffer{a, late}, zero.Add(3*time.Second), t.TempDir())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(tracks) != 1 {
		t.Fatalf("Expected 1 track, got %d", len(tracks))
	}
	if tracks[0].SpeakerID != "alice" {
		t.Errorf("Expected alice's track, got %s", tracks[0].SpeakerID)
	}
}

func TestAssembleGapSilenceInsertion(t *testing.T) {
	zero := time.Now()

	b := audio.NewBuffer("s1", "alice", audio.BufferConfig{ReorderWindow: 2})
	pcm := func(marker int16) []int16 {
		s := make([]int16, audio.SamplesPerFrame)
		s[0] = marker
		return s
	}
	// Frame 0, then frame 5 beyond the window: slots 1..4 become a gap.
	if err := b.Append(&audio.Frame{PCM: pcm(1), Sequence: 0, Arrival: zero}); err != nil {
		t.Fatal(err)
	}
	if err := b.Append(&audio.Frame{PCM: pcm(2), Sequence: 5, Arrival: zero.Add(5 * audio.FrameDuration)}); err != nil {
		t.Fatal(err)
	}
	b.Finalize()

	asm := NewAssembler(testLogger(), time.Hour)
	tracks, err := asm.Assemble([]*audio.Buffer{b}, zero.Add(6*audio.FrameDuration), t.TempDir())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	// 2 audio frames + 4 gap frames, padded to the 6-frame session length.
	if tracks[0].ActiveFrames != 6 {
		t.Errorf("Expected 6 active frames, got %d", tracks[0].ActiveFrames)
	}
	if tracks[0].TotalFrames != 6 {
		t.Errorf("Expected 6 total frames, got %d", tracks[0].TotalFrames)
	}

	duration, err := audio.WAVDuration(tracks[0].Path)
	if err != nil {
		t.Fatalf("Invalid WAV: %v", err)
	}
	if want := 0.12; math.Abs(duration-want) > 1e-9 {
		t.Errorf("Expected %.2fs track, got %f", want, duration)
	}
}

func TestAssembleWidensForSequenceOverrun(t *testing.T) {
	zero := time.Now()

	b := audio.NewBuffer("s1", "alice", audio.BufferConfig{})
	fillBuffer(t, b, zero, 10)

	// Stop time earlier than the stream's sequence-derived length: the
	// session widens so no track overflows.
	asm := NewAssembler(testLogger(), time.Hour)
	tracks, err := asm.Assemble([]*audio.Buffer{b}, zero.Add(100*time.Millisecond), t.TempDir())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if tracks[0].TotalFrames != 10 {
		t.Errorf("Expected 10 total frames, got %d", tracks[0].TotalFrames)
	}
}
