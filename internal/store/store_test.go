package store

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecording(sessionID string) *Recording {
	return &Recording{
		SessionID:   sessionID,
		GuildID:     "guild1",
		GuildName:   "Test Guild",
		ChannelID:   "chan1",
		ChannelName: "General",
		Initiator:   "alice",
		StartedAt:   time.Now(),
		Format:      "mp3",
		Status:      StatusRecording,
	}
}

func TestRecordingLifecycle(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateRecording(testRecording("sess1")); err != nil {
		t.Fatalf("CreateRecording failed: %v", err)
	}

	rec, err := s.GetRecordingBySession("sess1")
	if err != nil {
		t.Fatalf("GetRecordingBySession failed: %v", err)
	}
	if rec.Status != StatusRecording {
		t.Errorf("Expected status %s, got %s", StatusRecording, rec.Status)
	}

	err = s.CompleteRecording("sess1", "guild1/sess1.mp3", 4096,
		90*time.Second, "alice,bob", "stopped by initiator")
	if err != nil {
		t.Fatalf("CompleteRecording failed: %v", err)
	}

	rec, err = s.GetRecordingBySession("sess1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusCompleted {
		t.Errorf("Expected status %s, got %s", StatusCompleted, rec.Status)
	}
	if rec.FilePath != "guild1/sess1.mp3" {
		t.Errorf("Expected file path guild1/sess1.mp3, got %s", rec.FilePath)
	}
	if rec.Duration != 90 {
		t.Errorf("Expected 90s duration, got %f", rec.Duration)
	}
	if rec.EndedAt == nil {
		t.Error("Expected ended_at to be set")
	}

	// A terminal recording cannot be completed again.
	err = s.CompleteRecording("sess1", "other.mp3", 1, time.Second, "", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double completion, got: %v", err)
	}
}

func TestFailRecording(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateRecording(testRecording("sess1")); err != nil {
		t.Fatal(err)
	}

	if err := s.FailRecording("sess1", "mixing failed", "/tmp/spill"); err != nil {
		t.Fatalf("FailRecording failed: %v", err)
	}

	rec, err := s.GetRecordingBySession("sess1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusFailed {
		t.Errorf("Expected status %s, got %s", StatusFailed, rec.Status)
	}
	if rec.StopCause != "mixing failed" {
		t.Errorf("Expected stop cause 'mixing failed', got %s", rec.StopCause)
	}
	if rec.FilePath != "/tmp/spill" {
		t.Errorf("Expected preserved path /tmp/spill, got %s", rec.FilePath)
	}

	// Failing again is a no-op on the terminal row.
	if err := s.FailRecording("sess1", "again", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double failure, got: %v", err)
	}
}

func TestGetRecordingNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetRecording(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
	if _, err := s.GetRecordingBySession("absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestListRecordingsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		rec := testRecording("sess" + string(rune('a'+i)))
		rec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateRecording(rec); err != nil {
			t.Fatal(err)
		}
	}

	other := testRecording("other-guild")
	other.GuildID = "guild2"
	if err := s.CreateRecording(other); err != nil {
		t.Fatal(err)
	}

	recs, err := s.ListRecordings("guild1", 10)
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("Expected 3 recordings, got %d", len(recs))
	}
	if recs[0].SessionID != "sessc" {
		t.Errorf("Expected newest first, got %s", recs[0].SessionID)
	}

	limited, err := s.ListRecordings("guild1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected limit of 2, got %d", len(limited))
	}
}

func TestDownloadTokens(t *testing.T) {
	s := newTestStore(t)

	rec := testRecording("sess1")
	if err := s.CreateRecording(rec); err != nil {
		t.Fatal(err)
	}

	valid := &DownloadToken{
		Token:       "tok-valid",
		RecordingID: rec.ID,
		UserID:      "alice",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	expired := &DownloadToken{
		Token:       "tok-expired",
		RecordingID: rec.ID,
		UserID:      "alice",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	if err := s.CreateDownloadToken(valid); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateDownloadToken(expired); err != nil {
		t.Fatal(err)
	}

	tok, err := s.GetDownloadToken("tok-valid")
	if err != nil {
		t.Fatalf("GetDownloadToken failed: %v", err)
	}
	if tok.Recording.SessionID != "sess1" {
		t.Errorf("Expected preloaded recording sess1, got %s", tok.Recording.SessionID)
	}
	if tok.UsedAt != nil {
		t.Error("Token should be unused before download")
	}

	if err := s.MarkTokenUsed("tok-valid"); err != nil {
		t.Fatalf("MarkTokenUsed failed: %v", err)
	}
	tok, err = s.GetDownloadToken("tok-valid")
	if err != nil {
		t.Fatal(err)
	}
	if tok.UsedAt == nil {
		t.Error("Expected used_at to be set after redemption")
	}

	if _, err := s.GetDownloadToken("tok-expired"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for expired token, got: %v", err)
	}

	deleted, err := s.DeleteExpiredTokens()
	if err != nil {
		t.Fatalf("DeleteExpiredTokens failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted token, got %d", deleted)
	}

	if _, err := s.GetDownloadToken("tok-valid"); err != nil {
		t.Errorf("Valid token should survive cleanup: %v", err)
	}
}

func TestFailStaleRecordings(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateRecording(testRecording("stale")); err != nil {
		t.Fatal(err)
	}

	done := testRecording("done")
	done.ChannelID = "chan2"
	if err := s.CreateRecording(done); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteRecording("done", "a.mp3", 1, time.Second, "alice", "x"); err != nil {
		t.Fatal(err)
	}

	repaired, err := s.FailStaleRecordings()
	if err != nil {
		t.Fatalf("FailStaleRecordings failed: %v", err)
	}
	if repaired != 1 {
		t.Errorf("Expected 1 repaired row, got %d", repaired)
	}

	rec, err := s.GetRecordingBySession("stale")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusFailed {
		t.Errorf("Expected stale row failed, got %s", rec.Status)
	}
	if rec.StopCause != "interrupted by restart" {
		t.Errorf("Unexpected stop cause: %s", rec.StopCause)
	}
}
