// Package track owns the session track accumulator. The aggregator is
// mutated only by the serialized ingest path; everything else reads immutable
// snapshots, so readers never contend with the hot path.
package track

import (
	"math"
	"sync"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/geo"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

// Config holds the aggregation parameters.
type Config struct {
	ElevationNoiseFloorM float64       `json:"elevation_noise_floor_m"`
	PaceWindow           time.Duration `json:"pace_window"`
	SnapshotBuffer       int           `json:"snapshot_buffer"`
}

// DefaultConfig returns the default aggregation parameters.
func DefaultConfig() *Config {
	return &Config{
		ElevationNoiseFloorM: 1.0,
		PaceWindow:           30 * time.Second,
		SnapshotBuffer:       8,
	}
}

type paceSample struct {
	ts    time.Time
	speed float64
}

// Aggregator maintains the running session track.
type Aggregator struct {
	mu     sync.RWMutex
	cfg    *Config
	logger *logx.Logger

	startedAt time.Time
	updatedAt time.Time

	distanceM float64
	gainM     float64
	lossM     float64

	lastFix  *pkg.ValidatedFix
	accepted int
	rejected int
	steps    int

	paceWindow []paceSample
	paceValid  bool

	splits    []time.Duration
	nextSplit float64 // distance at which the next split completes

	subs []chan pkg.TrackSnapshot
}

// NewAggregator creates an aggregator. A nil config gets defaults.
func NewAggregator(cfg *Config, logger *logx.Logger) *Aggregator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Aggregator{
		cfg:       cfg,
		logger:    logger,
		nextSplit: 1000,
	}
}

// Append folds one validated fix into the track. Rejected fixes only bump the
// rejection counter; they never touch cumulative state.
func (a *Aggregator) Append(fix pkg.ValidatedFix) {
	a.mu.Lock()

	if !fix.Accepted {
		a.rejected++
		a.mu.Unlock()
		return
	}

	if a.lastFix != nil && fix.Timestamp.Before(a.lastFix.Timestamp) {
		a.rejected++
		a.logger.Warn("dropping out-of-order fix",
			"fix_ts", fix.Timestamp,
			"track_ts", a.lastFix.Timestamp,
		)
		a.mu.Unlock()
		return
	}

	if a.startedAt.IsZero() {
		a.startedAt = fix.Timestamp
	}
	a.updatedAt = fix.Timestamp

	if a.lastFix != nil {
		a.distanceM += geo.Haversine(a.lastFix.Latitude, a.lastFix.Longitude, fix.Latitude, fix.Longitude)

		delta := fix.Elevation - a.lastFix.Elevation
		if math.Abs(delta) >= a.cfg.ElevationNoiseFloorM {
			if delta > 0 {
				a.gainM += delta
			} else {
				a.lossM += -delta
			}
		}
	}

	a.accepted++
	lf := fix
	a.lastFix = &lf
	a.paceValid = fix.PaceValid

	// Outliers are recorded in the track but excluded from the pace window.
	if !fix.SpeedOutlier {
		a.paceWindow = append(a.paceWindow, paceSample{ts: fix.Timestamp, speed: fix.Speed})
	}
	a.prunePaceWindow(fix.Timestamp)

	for a.distanceM >= a.nextSplit {
		a.splits = append(a.splits, fix.Timestamp.Sub(a.startedAt))
		a.nextSplit += 1000
	}

	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.publish(snap)
}

// AddSteps folds an incremental step sample into the track.
func (a *Aggregator) AddSteps(s pkg.StepSample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.Steps > 0 {
		a.steps += s.Steps
	}
}

// Snapshot returns an immutable copy of the current track state.
func (a *Aggregator) Snapshot() pkg.TrackSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

// Subscribe registers a live snapshot feed. Slow consumers lose intermediate
// snapshots rather than blocking ingest.
func (a *Aggregator) Subscribe() <-chan pkg.TrackSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan pkg.TrackSnapshot, a.cfg.SnapshotBuffer)
	a.subs = append(a.subs, ch)
	return ch
}

func (a *Aggregator) publish(snap pkg.TrackSnapshot) {
	a.mu.RLock()
	subs := a.subs
	a.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Drop the oldest buffered snapshot to make room for the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (a *Aggregator) prunePaceWindow(now time.Time) {
	cutoff := now.Add(-a.cfg.PaceWindow)
	i := 0
	for i < len(a.paceWindow) && a.paceWindow[i].ts.Before(cutoff) {
		i++
	}
	a.paceWindow = a.paceWindow[i:]
}

func (a *Aggregator) snapshotLocked() pkg.TrackSnapshot {
	snap := pkg.TrackSnapshot{
		StartedAt:      a.startedAt,
		UpdatedAt:      a.updatedAt,
		DistanceM:      a.distanceM,
		ElevationGainM: a.gainM,
		ElevationLossM: a.lossM,
		AcceptedFixes:  a.accepted,
		RejectedFixes:  a.rejected,
		StepCount:      a.steps,
		PaceValid:      a.paceValid,
		SplitDurations: append([]time.Duration(nil), a.splits...),
	}

	if a.lastFix != nil {
		snap.LastLatitude = a.lastFix.Latitude
		snap.LastLongitude = a.lastFix.Longitude
		snap.LastElevation = a.lastFix.Elevation
	}

	// Current pace is a window average, not a single-sample speed, and stays
	// zero until the warmup distance gate has passed.
	if a.paceValid && len(a.paceWindow) > 0 {
		var sum float64
		for _, s := range a.paceWindow {
			sum += s.speed
		}
		snap.CurrentSpeedMS = sum / float64(len(a.paceWindow))
	}

	if elapsed := snap.Elapsed(); elapsed > 0 {
		snap.AvgSpeedMS = a.distanceM / elapsed.Seconds()
	}

	return snap
}
