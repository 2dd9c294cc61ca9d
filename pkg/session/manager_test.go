package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/calories"
	"github.com/ruckmetrics/ruckd/pkg/config"
	"github.com/ruckmetrics/ruckd/pkg/geo"
	"github.com/ruckmetrics/ruckd/pkg/logx"
	"github.com/ruckmetrics/ruckd/pkg/sensors"
	"github.com/ruckmetrics/ruckd/pkg/store"
	"github.com/ruckmetrics/ruckd/pkg/supervisor"
)

const degPerMeterLat = 1.0 / 111320.0

type fakeArchive struct {
	mu      sync.Mutex
	inserts int
	last    pkg.TrackSnapshot
}

func (f *fakeArchive) Insert(meta pkg.SessionMeta, snap pkg.TrackSnapshot, est pkg.CalorieEstimate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	f.last = snap
	return nil
}

func walkFixes(n int, stepM float64) []pkg.RawFix {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	fixes := make([]pkg.RawFix, 0, n)
	for i := 0; i < n; i++ {
		fixes = append(fixes, pkg.RawFix{
			Timestamp:          start.Add(time.Duration(i) * time.Second),
			Latitude:           45.0 + float64(i)*stepM*degPerMeterLat,
			Longitude:          7.0,
			Altitude:           200,
			HorizontalAccuracy: 5,
		})
	}
	return fixes
}

func newTestManager(t *testing.T, fixes []pkg.RawFix) (*Manager, *fakeArchive) {
	t.Helper()

	persist, err := store.Open(filepath.Join(t.TempDir(), "state.db"), logx.NewLogger("error", "session-test"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { persist.Close() })

	archive := &fakeArchive{}
	sources := func() *sensors.Set {
		return &sensors.Set{Location: &sensors.ReplayLocationSource{FixSeq: fixes}}
	}
	m := NewManager(config.DefaultConfig(), sources, &supervisor.NopWakeLock{}, supervisor.TimerScheduler{}, persist, archive, logx.NewLogger("error", "session-test"))
	return m, archive
}

func waitForDistance(t *testing.T, m *Manager, wantM float64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.Snapshot().DistanceM >= wantM {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("distance %f never reached %f", m.Snapshot().DistanceM, wantM)
}

func sessionParams() Params {
	return Params{Calories: calories.Params{
		BodyWeightKg: 80,
		PackWeightKg: 12,
		Gender:       pkg.GenderMale,
		Age:          35,
	}}
}

func TestSessionLifecycle(t *testing.T) {
	m, archive := newTestManager(t, walkFixes(100, 2))

	meta, err := m.StartSession(context.Background(), sessionParams())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if meta.SessionID == "" {
		t.Error("expected a session id")
	}
	if m.State() != pkg.StateActive {
		t.Errorf("state = %q, want active", m.State())
	}

	waitForDistance(t, m, 150)

	snap, est, err := m.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if snap.DistanceM < 150 {
		t.Errorf("terminal distance = %f, want >= 150", snap.DistanceM)
	}
	if est.FusedKcal <= 0 {
		t.Errorf("expected positive calories, got %f", est.FusedKcal)
	}
	if archive.inserts != 1 {
		t.Errorf("archive inserts = %d, want 1", archive.inserts)
	}
}

func TestConcurrentStartRejected(t *testing.T) {
	m, _ := newTestManager(t, walkFixes(2000, 2))

	if _, err := m.StartSession(context.Background(), sessionParams()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer m.StopSession()

	_, err := m.StartSession(context.Background(), sessionParams())
	if !errors.Is(err, supervisor.ErrSessionActive) {
		t.Errorf("second start error = %v, want ErrSessionActive", err)
	}
}

func TestStopWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, nil)

	if err := m.StopSession(); !errors.Is(err, supervisor.ErrNoSession) {
		t.Errorf("stop error = %v, want ErrNoSession", err)
	}
}

func TestCaloriesBeforeSessionIsZero(t *testing.T) {
	m, _ := newTestManager(t, nil)

	if est := m.Calories(); est.FusedKcal != 0 {
		t.Errorf("expected zero estimate before any session, got %+v", est)
	}
}

func TestETAWithRoute(t *testing.T) {
	fixes := walkFixes(100, 2)

	// Route continues north past the walked stretch.
	pts := make([]geo.Point, 0, 20)
	for i := 0; i < 20; i++ {
		pts = append(pts, geo.Point{
			Latitude:  45.0 + float64(i)*100*degPerMeterLat,
			Longitude: 7.0,
		})
	}
	route := geo.NewRoute(pts)

	m, _ := newTestManager(t, fixes)
	params := sessionParams()
	params.Route = route

	if _, err := m.StartSession(context.Background(), params); err != nil {
		t.Fatalf("start session: %v", err)
	}
	waitForDistance(t, m, 190)

	est := m.ETA()
	if est.RemainingM <= 0 {
		t.Fatalf("expected remaining distance on the route, got %f", est.RemainingM)
	}
	if est.Primary <= 0 {
		t.Errorf("expected a positive arrival estimate, got %v", est.Primary)
	}

	m.StopSession()
}

func TestETAWithoutRouteIsZero(t *testing.T) {
	m, _ := newTestManager(t, walkFixes(10, 2))

	if _, err := m.StartSession(context.Background(), sessionParams()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	defer m.StopSession()

	if est := m.ETA(); est.Primary != 0 || est.RemainingM != 0 {
		t.Errorf("expected zero estimate without a route, got %+v", est)
	}
}

func TestRecoverAfterReboot(t *testing.T) {
	dir := t.TempDir()
	logger := logx.NewLogger("error", "session-test")

	persist, err := store.Open(filepath.Join(dir, "state.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	meta := pkg.SessionMeta{SessionID: "ruck-rebooted", StartedAt: time.Now().UTC()}
	if err := persist.WriteState(pkg.StateActive, meta); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	sources := func() *sensors.Set {
		return &sensors.Set{Location: &sensors.ReplayLocationSource{FixSeq: walkFixes(50, 2)}}
	}
	m := NewManager(config.DefaultConfig(), sources, &supervisor.NopWakeLock{}, supervisor.TimerScheduler{}, persist, nil, logger)

	recovered, err := m.RecoverAfterReboot(context.Background(), sessionParams())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !recovered {
		t.Fatal("expected recovery of the persisted session")
	}
	if m.State() != pkg.StateActive {
		t.Errorf("state = %q, want active", m.State())
	}

	waitForDistance(t, m, 50)
	m.StopSession()
	persist.Close()
}

func TestRecoverAfterRebootRefusedWhileActive(t *testing.T) {
	persist, err := store.Open(filepath.Join(t.TempDir(), "state.db"), logx.NewLogger("error", "session-test"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { persist.Close() })

	// Paced replay so the session is still ingesting when recovery is tried.
	sources := func() *sensors.Set {
		return &sensors.Set{Location: &sensors.ReplayLocationSource{
			FixSeq:   walkFixes(2000, 2),
			Interval: time.Millisecond,
		}}
	}
	m := NewManager(config.DefaultConfig(), sources, &supervisor.NopWakeLock{}, supervisor.TimerScheduler{}, persist, nil, logx.NewLogger("error", "session-test"))

	if _, err := m.StartSession(context.Background(), sessionParams()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	defer m.StopSession()
	waitForDistance(t, m, 10)

	// The persisted flag is active, but it belongs to the running session.
	// Recovery must refuse rather than orphan the live stack and start a
	// second ingest pipeline.
	before := m.Snapshot().AcceptedFixes
	recovered, err := m.RecoverAfterReboot(context.Background(), sessionParams())
	if recovered {
		t.Error("recovery must not report success while a session is active")
	}
	if !errors.Is(err, supervisor.ErrSessionActive) {
		t.Errorf("recover error = %v, want ErrSessionActive", err)
	}
	if m.State() != pkg.StateActive {
		t.Errorf("state = %q, want the original session still active", m.State())
	}

	// The original pipeline keeps ingesting through the same aggregator.
	waitForDistance(t, m, 50)
	if got := m.Snapshot().AcceptedFixes; got <= before {
		t.Errorf("accepted fixes stalled at %d, original pipeline was orphaned", got)
	}
}

func TestReadsSafeDuringLifecycleCalls(t *testing.T) {
	m, _ := newTestManager(t, walkFixes(500, 2))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				m.Snapshot()
				m.Calories()
				m.State()
			}
		}
	}()

	if _, err := m.StartSession(context.Background(), sessionParams()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	waitForDistance(t, m, 20)
	if _, _, err := m.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	close(stop)
	wg.Wait()
}

func TestRecoverAfterRebootNothingPersisted(t *testing.T) {
	m, _ := newTestManager(t, nil)

	recovered, err := m.RecoverAfterReboot(context.Background(), sessionParams())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered {
		t.Error("nothing should be recovered from a fresh store")
	}
}
