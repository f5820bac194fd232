package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrBufferSealed is returned when a frame arrives after finalization.
	ErrBufferSealed = errors.New("stream buffer is sealed")

	// ErrFrameTooOld is returned for frames outside the reorder window.
	// Such frames are dropped and counted as loss, never inserted out of order.
	ErrFrameTooOld = errors.New("frame outside reorder window")
)

// BufferConfig controls buffer ordering tolerance and memory bounds.
type BufferConfig struct {
	ReorderWindow uint32 // frames of sequence jitter tolerated before declaring loss
	MemoryCeiling int    // PCM bytes held in memory before spilling to disk
	SpillDir      string // directory for per-speaker raw spill files
}

// Buffer is the ordered, gap-aware frame accumulator for one speaker within
// one session. Frames may arrive out of strict sequence order within the
// reorder window; gaps between accepted frames are recorded explicitly so the
// timeline can insert exact-length silence. Buffer growth is bounded: once
// in-memory PCM exceeds the configured ceiling, the oldest frames are spilled
// to a durable raw file rather than dropped.
type Buffer struct {
	sessionID string
	speakerID string
	config    BufferConfig

	// Ordered accepted frames. PCM of spilled entries lives in the spill
	// file at the recorded offset.
	entries []bufferEntry

	// Frames received ahead of the next expected sequence number.
	pending map[uint32]*Frame

	// Sequence tracking
	started     bool
	expectedSeq uint32
	latestSeq   uint32

	// Arrival tracking
	firstArrival time.Time
	lastArrival  time.Time

	// Counters
	accepted    uint64
	droppedLate uint64
	lostFrames  uint64
	synthesized uint64

	// Spill state
	memBytes  int
	spillFile *os.File
	spillOff  int64

	sealed bool
	mu     sync.Mutex
}

// bufferEntry is one accepted frame plus the silence gap preceding it.
type bufferEntry struct {
	sequence  uint32
	arrival   time.Time
	silence   bool
	gapBefore int // missing frame slots between this entry and the previous one
	pcm       []int16
	spilled   bool
	offset    int64
}

// BufferStats is a snapshot of buffer counters for monitoring.
type BufferStats struct {
	SpeakerID      string  `json:"speaker_id"`
	AcceptedFrames uint64  `json:"accepted_frames"`
	DroppedFrames  uint64  `json:"dropped_frames"`
	LostFrames     uint64  `json:"lost_frames"`
	LossRate       float64 `json:"loss_rate"`
	SpilledBytes   int64   `json:"spilled_bytes"`
	MemoryBytes    int     `json:"memory_bytes"`
	LastSequence   uint32  `json:"last_sequence"`
}

// NewBuffer creates a stream buffer for one speaker in one session.
func NewBuffer(sessionID, speakerID string, config BufferConfig) *Buffer {
	if config.ReorderWindow == 0 {
		config.ReorderWindow = 16
	}
	if config.MemoryCeiling <= 0 {
		config.MemoryCeiling = 10 << 20
	}

	return &Buffer{
		sessionID: sessionID,
		speakerID: speakerID,
		config:    config,
		pending:   make(map[uint32]*Frame),
	}
}

// SpeakerID returns the owning speaker's identity.
func (b *Buffer) SpeakerID() string {
	return b.speakerID
}

// Append inserts a decoded frame into the buffer, reordering within the
// configured window. Frames more than a window behind the latest sequence
// are dropped and counted. Returns ErrBufferSealed after
// Finalize and ErrFrameTooOld for dropped frames; both are recoverable.
func (b *Buffer) Append(frame *Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return ErrBufferSealed
	}

	if !b.started {
		// The first frame seen only marks a provisional stream start: it
		// waits in pending so an earlier in-window sequence can still slot
		// in front of it.
		b.started = true
		b.expectedSeq = frame.Sequence
		b.latestSeq = frame.Sequence
		b.firstArrival = frame.Arrival
		b.pending[frame.Sequence] = frame
		return nil
	}

	if _, dup := b.pending[frame.Sequence]; dup {
		b.droppedLate++
		return fmt.Errorf("%w: duplicate seq=%d speaker=%s",
			ErrFrameTooOld, frame.Sequence, b.speakerID)
	}

	if frame.Sequence > b.latestSeq {
		b.latestSeq = frame.Sequence
	}

	switch {
	case len(b.entries) == 0 && frame.Sequence < b.expectedSeq:
		// Nothing is committed yet, so an earlier sequence re-anchors the
		// provisional start instead of being treated as late. Frames more
		// than a window behind the latest one seen are still dropped.
		if b.latestSeq-frame.Sequence > b.config.ReorderWindow {
			b.droppedLate++
			return fmt.Errorf("%w: seq=%d latest=%d speaker=%s",
				ErrFrameTooOld, frame.Sequence, b.latestSeq, b.speakerID)
		}
		b.expectedSeq = frame.Sequence
		b.pending[frame.Sequence] = frame

	case frame.Sequence == b.expectedSeq && len(b.entries) > 0:
		b.accept(frame, 0)
		b.flushPending()

	case frame.Sequence >= b.expectedSeq:
		b.pending[frame.Sequence] = frame

		// Abandon slots only once the gap exceeds the reorder window;
		// anything still missing by then is recorded as loss.
		if frame.Sequence-b.expectedSeq > b.config.ReorderWindow {
			b.drainThrough(frame.Sequence)
		}

	default:
		// The expected sequence only advances past a slot after a full
		// window has elapsed, so anything behind it is outside the window.
		b.droppedLate++
		return fmt.Errorf("%w: seq=%d expected>=%d speaker=%s",
			ErrFrameTooOld, frame.Sequence, b.expectedSeq, b.speakerID)
	}

	b.enforceCeiling()
	return nil
}

// accept appends a frame entry in order, folding in arrival-time gaps.
// A speaker who pauses produces contiguous sequence numbers with a jump in
// arrival time; that pause is recorded as a gap so the timeline can keep the
// track's total duration aligned.
func (b *Buffer) accept(frame *Frame, seqGap int) {
	gap := seqGap

	if len(b.entries) > 0 && seqGap == 0 && len(b.pending) == 0 {
		delta := frame.Arrival.Sub(b.lastArrival)
		if delta > FrameDuration+FrameDuration/2 {
			gap = int(delta.Round(FrameDuration)/FrameDuration) - 1
		}
	}

	b.entries = append(b.entries, bufferEntry{
		sequence:  frame.Sequence,
		arrival:   frame.Arrival,
		silence:   frame.Silence,
		gapBefore: gap,
		pcm:       frame.PCM,
	})

	b.accepted++
	if frame.Silence {
		b.synthesized++
	}
	b.memBytes += len(frame.PCM) * BytesPerSample
	if frame.Arrival.After(b.lastArrival) {
		b.lastArrival = frame.Arrival
	}
	b.expectedSeq = frame.Sequence + 1
}

// flushPending consumes consecutively buffered out-of-order frames.
func (b *Buffer) flushPending() {
	for {
		frame, ok := b.pending[b.expectedSeq]
		if !ok {
			return
		}
		delete(b.pending, b.expectedSeq)
		b.accept(frame, 0)
	}
}

// drainThrough advances the expected sequence up to and including target,
// emitting pending frames where present and recording the rest as loss.
func (b *Buffer) drainThrough(target uint32) {
	missing := 0
	for seq := b.expectedSeq; seq <= target; seq++ {
		frame, ok := b.pending[seq]
		if !ok {
			missing++
			b.lostFrames++
			continue
		}
		delete(b.pending, seq)
		b.accept(frame, missing)
		missing = 0
	}
	b.flushPending()
}

// enforceCeiling spills the oldest in-memory frames to the per-speaker raw
// file once PCM memory exceeds the configured ceiling. Spilled audio is never
// dropped.
func (b *Buffer) enforceCeiling() {
	if b.memBytes <= b.config.MemoryCeiling {
		return
	}

	for i := range b.entries {
		if b.memBytes <= b.config.MemoryCeiling/2 {
			break
		}
		if b.entries[i].spilled {
			continue
		}
		if err := b.spillEntry(&b.entries[i]); err != nil {
			// Spill failure is surfaced via stats; the frame stays in memory.
			return
		}
	}
}

// spillEntry writes one entry's PCM to the spill file and releases it from
// memory.
func (b *Buffer) spillEntry(e *bufferEntry) error {
	if b.spillFile == nil {
		if err := os.MkdirAll(b.config.SpillDir, 0o755); err != nil {
			return fmt.Errorf("failed to create spill dir: %w", err)
		}
		path := filepath.Join(b.config.SpillDir,
			fmt.Sprintf("%s_%s.raw", b.sessionID, b.speakerID))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open spill file: %w", err)
		}
		b.spillFile = f
	}

	raw := make([]byte, len(e.pcm)*BytesPerSample)
	for i, s := range e.pcm {
		raw[i*2] = byte(s)
		raw[i*2+1] = byte(uint16(s) >> 8)
	}

	if _, err := b.spillFile.WriteAt(raw, b.spillOff); err != nil {
		return fmt.Errorf("failed to write spill file: %w", err)
	}

	b.memBytes -= len(raw)
	e.offset = b.spillOff
	e.spilled = true
	e.pcm = nil
	b.spillOff += int64(len(raw))
	return nil
}

// Finalize seals the buffer against further appends and flushes any frames
// still waiting in the reorder window. Safe to call more than once.
func (b *Buffer) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return
	}
	b.sealed = true

	if len(b.pending) > 0 {
		b.drainThrough(b.latestSeq)
	}
}

// FrameCount returns the number of frames held, committed or still waiting
// in the reorder window.
func (b *Buffer) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) + len(b.pending)
}

// TotalFrames returns held frames plus recorded gap slots, i.e. the track
// length in frames from the speaker's first frame to their last. Frames still
// in the reorder window count once each; their gaps are known only after
// Finalize.
func (b *Buffer) TotalFrames() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := len(b.pending)
	for _, e := range b.entries {
		total += e.gapBefore + 1
	}
	return total
}

// FirstArrival returns the arrival time of the speaker's first observed
// frame, or the zero time if no frame ever arrived.
func (b *Buffer) FirstArrival() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firstArrival
}

// ForEach walks the sealed buffer in order, invoking fn with the silence gap
// (in frames) preceding each frame and the frame's PCM. Spilled PCM is read
// back from the raw file. Must only be called after Finalize.
func (b *Buffer) ForEach(fn func(gapFrames int, pcm []int16) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.sealed {
		return fmt.Errorf("buffer for speaker %s not finalized", b.speakerID)
	}

	raw := make([]byte, FrameBytes)
	pcm := make([]int16, SamplesPerFrame)

	for _, e := range b.entries {
		samples := e.pcm
		if e.spilled {
			if _, err := b.spillFile.ReadAt(raw, e.offset); err != nil {
				return fmt.Errorf("failed to read spilled frame seq=%d: %w", e.sequence, err)
			}
			for i := range pcm {
				pcm[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
			}
			samples = pcm
		}

		if err := fn(e.gapBefore, samples); err != nil {
			return err
		}
	}

	return nil
}

// PreserveRaw spills every remaining in-memory frame so the speaker's
// captured audio survives a failed session, and returns the raw file path.
// Returns an empty path if the speaker produced no frames.
func (b *Buffer) PreserveRaw() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return "", nil
	}

	for i := range b.entries {
		if b.entries[i].spilled {
			continue
		}
		if err := b.spillEntry(&b.entries[i]); err != nil {
			return "", err
		}
	}

	if err := b.spillFile.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync raw file: %w", err)
	}

	return b.spillFile.Name(), nil
}

// Cleanup removes the spill file once the speaker's audio has been durably
// mixed into the final artifact.
func (b *Buffer) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spillFile == nil {
		return
	}

	name := b.spillFile.Name()
	b.spillFile.Close()
	os.Remove(name)
	b.spillFile = nil
}

// Stats returns current buffer counters.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.accepted + b.lostFrames + b.droppedLate
	lossRate := float64(0)
	if total > 0 {
		lossRate = float64(b.lostFrames+b.droppedLate) / float64(total) * 100
	}

	return BufferStats{
		SpeakerID:      b.speakerID,
		AcceptedFrames: b.accepted,
		DroppedFrames:  b.droppedLate,
		LostFrames:     b.lostFrames,
		LossRate:       lossRate,
		SpilledBytes:   b.spillOff,
		MemoryBytes:    b.memBytes,
		LastSequence:   b.latestSeq,
	}
}
