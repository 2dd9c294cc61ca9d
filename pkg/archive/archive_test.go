package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "sessions.db"), logx.NewLogger("error", "archive-test"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func archivedSession(id string, start time.Time, distanceM float64) (pkg.SessionMeta, pkg.TrackSnapshot, pkg.CalorieEstimate) {
	meta := pkg.SessionMeta{SessionID: id, StartedAt: start}
	snap := pkg.TrackSnapshot{
		StartedAt:      start,
		UpdatedAt:      start.Add(time.Hour),
		DistanceM:      distanceM,
		ElevationGainM: 120,
		ElevationLossM: 80,
		AvgSpeedMS:     distanceM / 3600,
		StepCount:      6200,
		AcceptedFixes:  3400,
		RejectedFixes:  17,
		SplitDurations: []time.Duration{11 * time.Minute, 23 * time.Minute},
	}
	est := pkg.CalorieEstimate{
		MechanicalKcal: 480,
		HeartRateKcal:  510,
		FusedKcal:      502,
		HRCoverage:     0.92,
	}
	return meta, snap, est
}

func TestInsertAndRecent(t *testing.T) {
	a := openTestArchive(t)
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	meta, snap, est := archivedSession("ruck-1", start, 5000)
	if err := a.Insert(meta, snap, est); err != nil {
		t.Fatalf("insert: %v", err)
	}

	records, err := a.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	r := records[0]
	if r.SessionID != "ruck-1" {
		t.Errorf("session id = %q", r.SessionID)
	}
	if r.DistanceM != 5000 {
		t.Errorf("distance = %f, want 5000", r.DistanceM)
	}
	if !r.StartedAt.Equal(start) {
		t.Errorf("started at = %v, want %v", r.StartedAt, start)
	}
	if r.Duration != time.Hour {
		t.Errorf("duration = %v, want 1h", r.Duration)
	}
	if r.Calories.FusedKcal != 502 {
		t.Errorf("fused kcal = %f, want 502", r.Calories.FusedKcal)
	}
	if len(r.Splits) != 2 || r.Splits[0] != 11*time.Minute {
		t.Errorf("splits = %v", r.Splits)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	a := openTestArchive(t)
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"ruck-a", "ruck-b", "ruck-c"} {
		meta, snap, est := archivedSession(id, base.AddDate(0, 0, i), 4000)
		if err := a.Insert(meta, snap, est); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	records, err := a.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].SessionID != "ruck-c" || records[1].SessionID != "ruck-b" {
		t.Errorf("order = %s, %s; want ruck-c, ruck-b", records[0].SessionID, records[1].SessionID)
	}
}

func TestReinsertReplaces(t *testing.T) {
	a := openTestArchive(t)
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	meta, snap, est := archivedSession("ruck-1", start, 5000)
	if err := a.Insert(meta, snap, est); err != nil {
		t.Fatalf("insert: %v", err)
	}
	snap.DistanceM = 5200
	if err := a.Insert(meta, snap, est); err != nil {
		t.Fatalf("reinsert: %v", err)
	}

	records, err := a.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 after replace", len(records))
	}
	if records[0].DistanceM != 5200 {
		t.Errorf("distance = %f, want replaced value 5200", records[0].DistanceM)
	}
}
