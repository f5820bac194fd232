package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chrimage/discord-voice-scribe/internal/audio"
	"github.com/chrimage/discord-voice-scribe/internal/metrics"
	"github.com/chrimage/discord-voice-scribe/internal/mixer"
	"github.com/chrimage/discord-voice-scribe/internal/storage"
	"github.com/chrimage/discord-voice-scribe/internal/store"
)

// Metrics register on the default registry, so the test binary shares one
// instance.
var testMetrics = metrics.NewMetrics()

// mixerStub stands in for the mixing engine. It writes a fake artifact file
// so the upload path has something to store.
type mixerStub struct {
	mu    sync.Mutex
	calls int

	block chan struct{} // when set, Mix waits here
	fail  error
	dir   string
}

func (s *mixerStub) Mix(ctx context.Context, job *mixer.Job) (*mixer.Artifact, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail != nil {
		return nil, s.fail
	}

	path := filepath.Join(s.dir, job.ID+".mp3")
	data := []byte("mixed audio")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}

	return &mixer.Artifact{
		SessionID:    job.SessionID,
		Path:         path,
		Format:       "mp3",
		Duration:     job.Duration,
		Size:         int64(len(data)),
		Participants: job.Participants,
	}, nil
}

func (s *mixerStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestManager(t *testing.T, mx Mixer, maxDuration time.Duration) (*Manager, *store.Store, Config) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "scribe.db"), logger)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := Config{
		MaxDuration:   maxDuration,
		MaxSpeakers:   4,
		ReorderWindow: 8,
		BufferCeiling: 10 << 20,
		SpillDir:      t.TempDir(),
		TempDir:       t.TempDir(),
		Format:        "mp3",
	}

	m := NewManager(cfg, logger, testMetrics, st, storage.NewLocalProvider(t.TempDir()), mx)
	return m, st, cfg
}

func testRequest(channelID string) StartRequest {
	return StartRequest{
		GuildID:     "guild1",
		GuildName:   "Test Guild",
		ChannelID:   channelID,
		ChannelName: "General",
		Initiator:   "alice",
	}
}

// sessionFor reaches into the active map for the live session object.
func sessionFor(t *testing.T, m *Manager, channelID string) *Session {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[channelID]
	if !ok {
		t.Fatalf("No session for channel %s", channelID)
	}
	return sess
}

// feedFrames delivers n in-order frames for one speaker with arrivals spaced
// a frame apart, starting one second in the past.
func feedFrames(t *testing.T, m *Manager, channelID, speakerID string, n int) {
	t.Helper()
	pcm := make([]byte, audio.FrameBytes)
	base := time.Now().Add(-time.Second)
	for i := 0; i < n; i++ {
		arrival := base.Add(time.Duration(i) * audio.FrameDuration)
		if err := m.OnFrame(channelID, speakerID, uint32(i), pcm, arrival); err != nil {
			t.Fatalf("OnFrame failed at seq %d: %v", i, err)
		}
	}
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("Session %s did not reach a terminal state", sess.ID)
	}
}

func waitState(t *testing.T, sess *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Session %s never reached state %s, stuck at %s", sess.ID, want, sess.State())
}

func TestStartSessionConflict(t *testing.T) {
	m, _, _ := newTestManager(t, &mixerStub{dir: t.TempDir()}, time.Hour)

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatalf("First start failed: %v", err)
	}

	_, err := m.StartSession(testRequest("chan1"))
	if !errors.Is(err, ErrSessionConflict) {
		t.Errorf("Expected ErrSessionConflict, got: %v", err)
	}

	// A different channel is unaffected.
	if _, err := m.StartSession(testRequest("chan2")); err != nil {
		t.Errorf("Start on a free channel failed: %v", err)
	}
}

func TestStopSessionUnauthorized(t *testing.T) {
	m, _, _ := newTestManager(t, &mixerStub{dir: t.TempDir()}, time.Hour)

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatal(err)
	}
	sess := sessionFor(t, m, "chan1")

	_, err := m.StopSession("chan1", "mallory")
	if !errors.Is(err, ErrStopUnauthorized) {
		t.Errorf("Expected ErrStopUnauthorized, got: %v", err)
	}
	if sess.State() != StateRecording {
		t.Errorf("Unauthorized stop must not change state, got %s", sess.State())
	}
}

func TestStopSessionNoSession(t *testing.T) {
	m, _, _ := newTestManager(t, &mixerStub{dir: t.TempDir()}, time.Hour)

	_, err := m.StopSession("chan1", "alice")
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got: %v", err)
	}
}

func TestStopSessionIdempotent(t *testing.T) {
	stub := &mixerStub{dir: t.TempDir(), block: make(chan struct{})}
	m, _, _ := newTestManager(t, stub, time.Hour)

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatal(err)
	}
	sess := sessionFor(t, m, "chan1")
	feedFrames(t, m, "chan1", "alice", 10)

	if _, err := m.StopSession("chan1", "alice"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, sess, StateMixing)

	// A second stop while mixing is a no-op, not an error.
	if _, err := m.StopSession("chan1", "alice"); err != nil {
		t.Errorf("Repeated stop returned error: %v", err)
	}

	close(stub.block)
	waitDone(t, sess)

	if sess.State() != StateComplete {
		t.Errorf("Expected complete, got %s", sess.State())
	}
	if stub.callCount() != 1 {
		t.Errorf("Expected exactly 1 mix, got %d", stub.callCount())
	}
}

func TestSessionWithoutFramesFails(t *testing.T) {
	m, st, _ := newTestManager(t, &mixerStub{dir: t.TempDir()}, time.Hour)

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatal(err)
	}
	sess := sessionFor(t, m, "chan1")

	if _, err := m.StopSession("chan1", "alice"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, sess)

	if sess.State() != StateFailed {
		t.Errorf("Expected failed, got %s", sess.State())
	}

	rec, err := st.GetRecordingBySession(sess.ID)
	if err != nil {
		t.Fatalf("Recording row missing: %v", err)
	}
	if rec.Status != store.StatusFailed {
		t.Errorf("Expected status %s, got %s", store.StatusFailed, rec.Status)
	}
}

func TestSessionCompletes(t *testing.T) {
	stub := &mixerStub{dir: t.TempDir()}
	m, st, _ := newTestManager(t, stub, time.Hour)

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatal(err)
	}
	sess := sessionFor(t, m, "chan1")
	feedFrames(t, m, "chan1", "alice", 50)
	feedFrames(t, m, "chan1", "bob", 50)

	if _, err := m.StopSession("chan1", "alice"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, sess)

	if sess.State() != StateComplete {
		t.Fatalf("Expected complete, got %s", sess.State())
	}

	key := fmt.Sprintf("guild1/%s.mp3", sess.ID)
	exists, err := m.storage.Exists(key)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Errorf("Artifact %s missing from storage", key)
	}

	rec, err := st.GetRecordingBySession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.StatusCompleted {
		t.Errorf("Expected status %s, got %s", store.StatusCompleted, rec.Status)
	}
	if rec.Participants != "alice,bob" {
		t.Errorf("Expected participants alice,bob, got %s", rec.Participants)
	}
	if rec.StopCause != CauseUserRequest {
		t.Errorf("Expected stop cause %q, got %q", CauseUserRequest, rec.StopCause)
	}
	if rec.FilePath != key {
		t.Errorf("Expected file path %s, got %s", key, rec.FilePath)
	}

	// The channel is free again.
	if got := m.Status("chan1").State; got != StateIdle {
		t.Errorf("Expected idle channel after completion, got %s", got)
	}
}

func TestMixFailurePreservesRawAudio(t *testing.T) {
	stub := &mixerStub{dir: t.TempDir(), fail: errors.New("encoder exploded")}
	m, st, cfg := newTestManager(t, stub, time.Hour)

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatal(err)
	}
	sess := sessionFor(t, m, "chan1")
	feedFrames(t, m, "chan1", "alice", 25)

	if _, err := m.StopSession("chan1", "alice"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, sess)

	if sess.State() != StateFailed {
		t.Fatalf("Expected failed, got %s", sess.State())
	}

	// Raw audio lands in the session's own spill subdirectory, and the
	// recording row points at that directory.
	preservedDir := filepath.Join(cfg.SpillDir, sess.ID)
	rawPath := filepath.Join(preservedDir, sess.ID+"_alice.raw")
	info, err := os.Stat(rawPath)
	if err != nil {
		t.Fatalf("Preserved raw audio missing: %v", err)
	}
	if want := int64(25 * audio.FrameBytes); info.Size() != want {
		t.Errorf("Expected %d preserved bytes, got %d", want, info.Size())
	}

	rec, err := st.GetRecordingBySession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.StatusFailed {
		t.Errorf("Expected status %s, got %s", store.StatusFailed, rec.Status)
	}
	if rec.FilePath != preservedDir {
		t.Errorf("Expected preserved dir %s, got %s", preservedDir, rec.FilePath)
	}
}

func TestReorderWindowOutOfRangeUsesDefault(t *testing.T) {
	stub := &mixerStub{dir: t.TempDir()}
	m, _, _ := newTestManager(t, stub, time.Hour)
	m.config.ReorderWindow = -3

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatal(err)
	}
	sess := sessionFor(t, m, "chan1")

	// Out-of-order delivery must still be tolerated under the fallback
	// window.
	pcm := make([]byte, audio.FrameBytes)
	base := time.Now().Add(-time.Second)
	for _, seq := range []uint32{2, 0, 1} {
		arrival := base.Add(time.Duration(seq) * audio.FrameDuration)
		if err := m.OnFrame("chan1", "alice", seq, pcm, arrival); err != nil {
			t.Fatalf("OnFrame(%d) failed: %v", seq, err)
		}
	}

	if _, err := m.StopSession("chan1", "alice"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, sess)

	if sess.State() != StateComplete {
		t.Fatalf("Expected complete, got %s", sess.State())
	}
	stats := sess.speakerBuffers()[0].Stats()
	if stats.AcceptedFrames != 3 || stats.DroppedFrames != 0 {
		t.Errorf("Expected 3 accepted and 0 dropped, got %d/%d",
			stats.AcceptedFrames, stats.DroppedFrames)
	}
}

func TestDurationCeilingStopsSession(t *testing.T) {
	stub := &mixerStub{dir: t.TempDir()}
	m, st, _ := newTestManager(t, stub, 250*time.Millisecond)

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatal(err)
	}
	sess := sessionFor(t, m, "chan1")
	feedFrames(t, m, "chan1", "alice", 10)

	// No user stop; the ceiling timer fires on its own.
	waitDone(t, sess)

	if sess.State() != StateComplete {
		t.Fatalf("Expected complete, got %s", sess.State())
	}

	rec, err := st.GetRecordingBySession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.StopCause != CauseDurationCeiling {
		t.Errorf("Expected stop cause %q, got %q", CauseDurationCeiling, rec.StopCause)
	}
}

func TestSpeakerLimit(t *testing.T) {
	m, _, _ := newTestManager(t, &mixerStub{dir: t.TempDir()}, time.Hour)

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatal(err)
	}

	pcm := make([]byte, audio.FrameBytes)
	now := time.Now()
	for i := 0; i < 4; i++ {
		speaker := fmt.Sprintf("speaker%d", i)
		if err := m.OnFrame("chan1", speaker, 0, pcm, now); err != nil {
			t.Fatalf("Speaker %d rejected: %v", i, err)
		}
	}

	err := m.OnFrame("chan1", "speaker4", 0, pcm, now)
	if !errors.Is(err, ErrSpeakerLimit) {
		t.Errorf("Expected ErrSpeakerLimit for fifth speaker, got: %v", err)
	}
}

func TestManagerStopFinalizesSessions(t *testing.T) {
	stub := &mixerStub{dir: t.TempDir()}
	m, st, _ := newTestManager(t, stub, time.Hour)

	if _, err := m.StartSession(testRequest("chan1")); err != nil {
		t.Fatal(err)
	}
	sess := sessionFor(t, m, "chan1")
	feedFrames(t, m, "chan1", "alice", 20)

	m.Stop()

	if m.ActiveCount() != 0 {
		t.Errorf("Expected no active sessions after shutdown, got %d", m.ActiveCount())
	}
	if sess.State() != StateComplete {
		t.Errorf("Expected complete, got %s", sess.State())
	}

	rec, err := st.GetRecordingBySession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.StopCause != CauseShutdown {
		t.Errorf("Expected stop cause %q, got %q", CauseShutdown, rec.StopCause)
	}
}
