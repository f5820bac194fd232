package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chrimage/discord-voice-scribe/internal/audio"
	"github.com/chrimage/discord-voice-scribe/internal/metrics"
	"github.com/chrimage/discord-voice-scribe/internal/mixer"
	"github.com/chrimage/discord-voice-scribe/internal/storage"
	"github.com/chrimage/discord-voice-scribe/internal/store"
	"github.com/chrimage/discord-voice-scribe/internal/timeline"
)

// Mixer renders assembled tracks into one artifact. Satisfied by
// mixer.Engine; injectable for tests.
type Mixer interface {
	Mix(ctx context.Context, job *mixer.Job) (*mixer.Artifact, error)
}

// Config contains session manager configuration.
type Config struct {
	MaxDuration     time.Duration
	MaxSpeakers     int
	ReorderWindow   int
	BufferCeiling   int
	SpillDir        string
	TempDir         string // rendered track staging
	CleanupInterval time.Duration
	Format          string // artifact format, for storage keys
}

// StartRequest carries the identity of a session to start.
type StartRequest struct {
	GuildID     string
	GuildName   string
	ChannelID   string
	ChannelName string
	Initiator   string
}

// Manager owns all active recording sessions, enforcing one active session
// per channel, and drives each through its lifecycle to completion.
type Manager struct {
	sessions map[string]*Session // keyed by channel ID
	mu       sync.RWMutex

	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *store.Store
	storage storage.Provider
	mixer   Mixer
	decoder *audio.Decoder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager. The cleanup routine starts
// immediately.
func NewManager(config Config, logger *slog.Logger, m *metrics.Metrics,
	st *store.Store, sp storage.Provider, mx Mixer) *Manager {

	if config.MaxSpeakers <= 0 {
		config.MaxSpeakers = 25
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		config:   config,
		logger:   logger,
		metrics:  m,
		store:    st,
		storage:  sp,
		mixer:    mx,
		decoder:  audio.NewDecoder(),
		ctx:      ctx,
		cancel:   cancel,
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// StartSession begins recording for a channel. A channel with a live session
// rejects the start; terminal sessions do not block new ones.
func (m *Manager) StartSession(req StartRequest) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.sessions[req.ChannelID]; exists {
		m.logger.Warn("Rejecting session start for busy channel",
			slog.String("channel_id", req.ChannelID),
			slog.String("existing_session", existing.ID),
			slog.String("state", string(existing.State())),
		)
		return nil, ErrSessionConflict
	}

	ctx, cancel := context.WithCancel(m.ctx)

	sess := &Session{
		ID:          uuid.NewString(),
		GuildID:     req.GuildID,
		GuildName:   req.GuildName,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
		Initiator:   req.Initiator,
		StartedAt:   time.Now(),
		state:       StateRecording,
		buffers:     make(map[string]*audio.Buffer),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	if err := m.store.CreateRecording(&store.Recording{
		SessionID:   sess.ID,
		GuildID:     sess.GuildID,
		GuildName:   sess.GuildName,
		ChannelID:   sess.ChannelID,
		ChannelName: sess.ChannelName,
		Initiator:   sess.Initiator,
		StartedAt:   sess.StartedAt,
		Format:      m.config.Format,
		Status:      store.StatusRecording,
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to persist session start: %w", err)
	}

	// The duration ceiling stops the session like a user request would.
	sess.autoStop = time.AfterFunc(m.config.MaxDuration, func() {
		m.logger.Warn("Session reached duration ceiling",
			slog.String("session_id", sess.ID),
			slog.String("channel_id", sess.ChannelID),
			slog.Duration("max_duration", m.config.MaxDuration),
		)
		m.stop(sess, CauseDurationCeiling)
	})

	m.sessions[req.ChannelID] = sess
	m.metrics.RecordSessionStarted()
	m.metrics.SetActiveSessions(len(m.sessions))

	m.logger.Info("Session started",
		slog.String("session_id", sess.ID),
		slog.String("guild_id", sess.GuildID),
		slog.String("channel_id", sess.ChannelID),
		slog.String("initiator", sess.Initiator),
	)

	return sess.status(), nil
}

// StopSession requests a stop on behalf of a user. Only the initiator may
// stop; a stop on an already stopping or mixing session is a no-op.
func (m *Manager) StopSession(channelID, userID string) (*Status, error) {
	m.mu.RLock()
	sess, exists := m.sessions[channelID]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrNoSession
	}
	if userID != sess.Initiator {
		return nil, ErrStopUnauthorized
	}

	m.stop(sess, CauseUserRequest)
	return sess.status(), nil
}

// stop transitions a session out of Recording exactly once and launches
// finalization. Safe to call repeatedly and from any goroutine.
func (m *Manager) stop(sess *Session, cause string) {
	sess.mu.Lock()
	if sess.state != StateRecording {
		sess.mu.Unlock()
		return
	}
	sess.state = StateStopping
	sess.stoppedAt = time.Now()
	sess.stopCause = cause
	sess.mu.Unlock()

	if sess.autoStop != nil {
		sess.autoStop.Stop()
	}

	m.logger.Info("Session stopping",
		slog.String("session_id", sess.ID),
		slog.String("channel_id", sess.ChannelID),
		slog.String("cause", cause),
		slog.Duration("duration", sess.Duration()),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.finalize(sess)
	}()
}

// OnFrame routes one decoded frame into the owning session's per-speaker
// buffer. Frames for channels without a recording session are dropped.
func (m *Manager) OnFrame(channelID, speakerID string, sequence uint32, payload []byte, arrival time.Time) error {
	m.mu.RLock()
	sess, exists := m.sessions[channelID]
	m.mu.RUnlock()

	if !exists || sess.State() != StateRecording {
		return nil
	}

	frame, err := m.decoder.DecodeOrSilence(payload, sequence, arrival)
	if err != nil {
		// Silence was substituted; the stream stays aligned.
		m.metrics.RecordDecodeError()
		m.logger.Debug("Frame decode failed, substituted silence",
			slog.String("session_id", sess.ID),
			slog.String("speaker_id", speakerID),
			slog.Uint64("sequence", uint64(sequence)),
			slog.String("error", err.Error()),
		)
	}
	m.metrics.RecordFrameDecoded()

	buf, err := m.bufferFor(sess, speakerID)
	if err != nil {
		return err
	}

	if err := buf.Append(frame); err != nil {
		m.metrics.RecordFrameDropped()
		m.logger.Debug("Frame rejected by stream buffer",
			slog.String("session_id", sess.ID),
			slog.String("speaker_id", speakerID),
			slog.Uint64("sequence", uint64(sequence)),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// bufferFor returns the speaker's stream buffer, allocating it on first
// observation. Speakers beyond the ceiling are rejected.
func (m *Manager) bufferFor(sess *Session, speakerID string) (*audio.Buffer, error) {
	sess.mu.RLock()
	buf, ok := sess.buffers[speakerID]
	sess.mu.RUnlock()
	if ok {
		return buf, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if buf, ok := sess.buffers[speakerID]; ok {
		return buf, nil
	}
	if len(sess.buffers) >= m.config.MaxSpeakers {
		return nil, ErrSpeakerLimit
	}

	window := m.config.ReorderWindow
	if window < 0 {
		window = 0 // NewBuffer applies the default
	}

	// Spill files live in a per-session subdirectory so a failed session's
	// preserved raw audio is recoverable by session ID alone.
	buf = audio.NewBuffer(sess.ID, speakerID, audio.BufferConfig{
		ReorderWindow: uint32(window),
		MemoryCeiling: m.config.BufferCeiling,
		SpillDir:      filepath.Join(m.config.SpillDir, sess.ID),
	})
	sess.buffers[speakerID] = buf

	m.logger.Info("Speaker joined session",
		slog.String("session_id", sess.ID),
		slog.String("speaker_id", speakerID),
		slog.Int("speakers", len(sess.buffers)),
	)

	return buf, nil
}

// finalize drives a stopping session through timeline assembly and mixing
// to a terminal state.
func (m *Manager) finalize(sess *Session) {
	defer close(sess.done)
	defer sess.cancel()

	buffers := sess.speakerBuffers()
	for _, b := range buffers {
		b.Finalize()

		stats := b.Stats()
		m.metrics.RecordGapFrames(int(stats.LostFrames))
		m.metrics.RecordFramesSpilled(int(stats.SpilledBytes / audio.FrameBytes))
	}

	trackDir := filepath.Join(m.config.TempDir, sess.ID)
	assembler := timeline.NewAssembler(m.logger, m.config.MaxDuration)

	tracks, err := assembler.Assemble(buffers, sess.stoppedAt, trackDir)
	if err != nil {
		m.fail(sess, buffers, fmt.Errorf("timeline assembly failed: %w", err))
		return
	}

	sess.setState(StateMixing)

	participants := participantList(buffers)
	job := mixer.NewJob(sess.ID, tracks, tracks[0].Duration, participants)
	job.Title = fmt.Sprintf("%s / %s", sess.GuildName, sess.ChannelName)

	artifact, err := m.mixer.Mix(sess.ctx, job)
	if err != nil {
		m.fail(sess, buffers, fmt.Errorf("mixing failed: %w", err))
		return
	}

	key := fmt.Sprintf("%s/%s.%s", sess.GuildID, sess.ID, artifact.Format)
	if err := m.storeArtifact(artifact, key); err != nil {
		m.fail(sess, buffers, err)
		return
	}

	if err := m.store.CompleteRecording(sess.ID, key, artifact.Size,
		artifact.Duration, strings.Join(participants, ","), sess.stopCause); err != nil {
		m.logger.Error("Failed to persist session completion",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	for _, b := range buffers {
		b.Cleanup()
	}
	os.RemoveAll(trackDir)
	os.RemoveAll(filepath.Join(m.config.SpillDir, sess.ID))
	os.Remove(artifact.Path)

	sess.setState(StateComplete)
	m.remove(sess)
	m.metrics.RecordSessionCompleted(artifact.Duration.Seconds(), len(buffers))

	m.logger.Info("Session complete",
		slog.String("session_id", sess.ID),
		slog.String("channel_id", sess.ChannelID),
		slog.String("artifact", key),
		slog.Int64("size_bytes", artifact.Size),
		slog.Duration("duration", artifact.Duration),
		slog.Int("speakers", len(buffers)),
	)
}

// fail moves a session to the Failed terminal state, preserving each
// speaker's raw audio for manual recovery.
func (m *Manager) fail(sess *Session, buffers []*audio.Buffer, cause error) {
	m.logger.Error("Session failed",
		slog.String("session_id", sess.ID),
		slog.String("channel_id", sess.ChannelID),
		slog.String("error", cause.Error()),
	)

	var preserved []string
	for _, b := range buffers {
		path, err := b.PreserveRaw()
		if err != nil {
			m.logger.Error("Failed to preserve raw speaker audio",
				slog.String("session_id", sess.ID),
				slog.String("speaker_id", b.SpeakerID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		preserved = append(preserved, path)
	}

	preservedDir := ""
	if len(preserved) > 0 {
		preservedDir = filepath.Dir(preserved[0])
		m.logger.Info("Preserved raw speaker audio",
			slog.String("session_id", sess.ID),
			slog.String("dir", preservedDir),
			slog.Int("tracks", len(preserved)),
		)
	}

	if err := m.store.FailRecording(sess.ID, cause.Error(), preservedDir); err != nil {
		m.logger.Error("Failed to persist session failure",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	sess.mu.Lock()
	sess.stopCause = cause.Error()
	sess.state = StateFailed
	sess.mu.Unlock()

	m.remove(sess)
	m.metrics.RecordSessionFailed()
}

// storeArtifact uploads the mixed artifact to the storage provider.
func (m *Manager) storeArtifact(artifact *mixer.Artifact, key string) error {
	f, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	contentType := "audio/mpeg"
	if artifact.Format == "aac" {
		contentType = "audio/aac"
	}

	if err := m.storage.Put(key, f, contentType); err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	return nil
}

// remove deletes a terminal session from the active map, returning the
// channel to idle.
func (m *Manager) remove(sess *Session) {
	m.mu.Lock()
	if current, ok := m.sessions[sess.ChannelID]; ok && current == sess {
		delete(m.sessions, sess.ChannelID)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(count)
}

// Status returns the channel's session view, or an idle placeholder when no
// session exists.
func (m *Manager) Status(channelID string) *Status {
	m.mu.RLock()
	sess, exists := m.sessions[channelID]
	m.mu.RUnlock()

	if !exists {
		return &Status{ChannelID: channelID, State: StateIdle}
	}
	return sess.status()
}

// List returns the status of every active session.
func (m *Manager) List() []*Status {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	statuses := make([]*Status, 0, len(sessions))
	for _, sess := range sessions {
		statuses = append(statuses, sess.status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].StartedAt.Before(statuses[j].StartedAt)
	})
	return statuses
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// startCleanupRoutine periodically removes expired download tokens and track
// directories orphaned by failed finalizations.
func (m *Manager) startCleanupRoutine() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := m.store.DeleteExpiredTokens()
			if err != nil {
				m.logger.Error("Token cleanup failed",
					slog.String("error", err.Error()),
				)
			} else if deleted > 0 {
				m.logger.Info("Removed expired download tokens",
					slog.Int64("count", deleted),
				)
			}

			m.purgeStaleTrackDirs()
		case <-m.ctx.Done():
			return
		}
	}
}

// purgeStaleTrackDirs removes per-session track directories whose session is
// no longer active and that have not been touched for a cleanup interval.
func (m *Manager) purgeStaleTrackDirs() {
	entries, err := os.ReadDir(m.config.TempDir)
	if err != nil {
		return
	}

	activeIDs := make(map[string]struct{})
	m.mu.RLock()
	for _, sess := range m.sessions {
		activeIDs[sess.ID] = struct{}{}
	}
	m.mu.RUnlock()

	cutoff := time.Now().Add(-m.config.CleanupInterval)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, active := activeIDs[entry.Name()]; active {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.config.TempDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("Failed to remove stale track dir",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.Info("Removed stale track dir",
			slog.String("path", path),
		)
	}
}

// Stop gracefully stops the manager: every live session is stopped as if by
// its initiator, then finalization is awaited.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	for _, sess := range sessions {
		m.stop(sess, CauseShutdown)
	}

	m.wg.Wait()
	m.cancel()

	m.logger.Info("Session manager stopped",
		slog.Int("finalized", len(sessions)),
	)
}

// participantList returns the session's speaker IDs, sorted for stable
// metadata output.
func participantList(buffers []*audio.Buffer) []string {
	ids := make([]string, 0, len(buffers))
	for _, b := range buffers {
		ids = append(ids, b.SpeakerID())
	}
	sort.Strings(ids)
	return ids
}
