package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chrimage/discord-voice-scribe/internal/audio"
)

var (
	// ErrSessionConflict indicates a channel already has an active session.
	ErrSessionConflict = errors.New("channel already has an active session")

	// ErrNoSession indicates no active session exists for the channel.
	ErrNoSession = errors.New("no active session for channel")

	// ErrStopUnauthorized indicates the stop request came from a user other
	// than the session's initiator.
	ErrStopUnauthorized = errors.New("only the initiator may stop the session")

	// ErrSpeakerLimit indicates a frame arrived from a speaker beyond the
	// per-session speaker ceiling.
	ErrSpeakerLimit = errors.New("speaker limit reached")
)

// State is a session lifecycle state. Transitions are strictly forward:
// recording, stopping, mixing, then complete or failed. Failed is terminal
// with preserved raw audio.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateMixing    State = "mixing"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

// Stop causes recorded in session metadata.
const (
	CauseUserRequest     = "stopped by initiator"
	CauseDurationCeiling = "maximum duration reached"
	CauseShutdown        = "service shutdown"
)

// Session is one channel's recording from start through mix completion.
type Session struct {
	ID          string
	GuildID     string
	GuildName   string
	ChannelID   string
	ChannelName string
	Initiator   string
	StartedAt   time.Time

	state     State
	stopCause string
	stoppedAt time.Time

	// Per-speaker stream buffers, allocated on first frame observation.
	buffers map[string]*audio.Buffer

	ctx    context.Context
	cancel context.CancelFunc

	autoStop *time.Timer

	// done closes when finalization reaches a terminal state.
	done chan struct{}

	mu sync.RWMutex
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// setState advances the lifecycle. Callers hold no lock.
func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Duration returns elapsed recording time, frozen once the session stops.
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.stoppedAt.IsZero() {
		return s.stoppedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// speakerBuffers returns a snapshot of the session's stream buffers.
func (s *Session) speakerBuffers() []*audio.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buffers := make([]*audio.Buffer, 0, len(s.buffers))
	for _, b := range s.buffers {
		buffers = append(buffers, b)
	}
	return buffers
}

// Done returns a channel closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Status is a point-in-time view of a session for API consumers.
type Status struct {
	SessionID   string             `json:"session_id"`
	GuildID     string             `json:"guild_id"`
	ChannelID   string             `json:"channel_id"`
	ChannelName string             `json:"channel_name,omitempty"`
	Initiator   string             `json:"initiator"`
	State       State              `json:"state"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    float64            `json:"duration_seconds"`
	StopCause   string             `json:"stop_cause,omitempty"`
	Speakers    []audio.BufferStats `json:"speakers"`
}

// status assembles the API view under the session's read lock.
func (s *Session) status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	speakers := make([]audio.BufferStats, 0, len(s.buffers))
	for _, b := range s.buffers {
		speakers = append(speakers, b.Stats())
	}

	duration := time.Since(s.StartedAt)
	if !s.stoppedAt.IsZero() {
		duration = s.stoppedAt.Sub(s.StartedAt)
	}

	return &Status{
		SessionID:   s.ID,
		GuildID:     s.GuildID,
		ChannelID:   s.ChannelID,
		ChannelName: s.ChannelName,
		Initiator:   s.Initiator,
		State:       s.state,
		StartedAt:   s.StartedAt,
		Duration:    duration.Seconds(),
		StopCause:   s.stopCause,
		Speakers:    speakers,
	}
}
