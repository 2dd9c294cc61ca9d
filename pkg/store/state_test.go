package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

func openTestStore(t *testing.T) *StateStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lifecycle.db"), logx.NewLogger("error", "store-test"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFreshStoreReadsIdle(t *testing.T) {
	s := openTestStore(t)

	state, meta, err := s.ReadState()
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state != pkg.StateIdle {
		t.Errorf("state = %q, want idle", state)
	}
	if meta.SessionID != "" {
		t.Errorf("fresh meta should be empty, got %+v", meta)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	meta := pkg.SessionMeta{
		SessionID: "session-42",
		StartedAt: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	if err := s.WriteState(pkg.StateActive, meta); err != nil {
		t.Fatalf("write state: %v", err)
	}

	state, got, err := s.ReadState()
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state != pkg.StateActive {
		t.Errorf("state = %q, want active", state)
	}
	if got.SessionID != meta.SessionID || !got.StartedAt.Equal(meta.StartedAt) {
		t.Errorf("meta = %+v, want %+v", got, meta)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifecycle.db")
	logger := logx.NewLogger("error", "store-test")

	s, err := Open(path, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	meta := pkg.SessionMeta{SessionID: "session-7", StartedAt: time.Now().UTC()}
	if err := s.WriteState(pkg.StateActive, meta); err != nil {
		t.Fatalf("write state: %v", err)
	}
	s.Close()

	reopened, err := Open(path, logger)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	state, got, err := reopened.ReadState()
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state != pkg.StateActive || got.SessionID != "session-7" {
		t.Errorf("reopened state = %q meta = %+v", state, got)
	}
}

func TestClearReturnsToIdle(t *testing.T) {
	s := openTestStore(t)

	if err := s.WriteState(pkg.StateActive, pkg.SessionMeta{SessionID: "x"}); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	state, meta, err := s.ReadState()
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if state != pkg.StateIdle || meta.SessionID != "" {
		t.Errorf("cleared store read %q %+v, want idle and empty meta", state, meta)
	}
}
