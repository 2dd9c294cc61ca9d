// Package session exposes the application-facing surface of the telemetry
// core: start/stop/finalize a session, read snapshots, query calories and
// arrival estimates. One manager drives at most one active session.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/calories"
	"github.com/ruckmetrics/ruckd/pkg/config"
	"github.com/ruckmetrics/ruckd/pkg/eta"
	"github.com/ruckmetrics/ruckd/pkg/geo"
	"github.com/ruckmetrics/ruckd/pkg/logx"
	"github.com/ruckmetrics/ruckd/pkg/pipeline"
	"github.com/ruckmetrics/ruckd/pkg/sensors"
	"github.com/ruckmetrics/ruckd/pkg/supervisor"
	"github.com/ruckmetrics/ruckd/pkg/track"
	"github.com/ruckmetrics/ruckd/pkg/validation"
)

// Params are the caller-supplied session inputs.
type Params struct {
	Calories calories.Params
	Route    *geo.Route // optional planned route for ETA
}

// SourceFactory builds the sensor set for a session. The daemon supplies
// platform or replay sources here.
type SourceFactory func() *sensors.Set

// Archiver receives finalized sessions. pkg/archive satisfies it.
type Archiver interface {
	Insert(meta pkg.SessionMeta, snap pkg.TrackSnapshot, est pkg.CalorieEstimate) error
}

// Manager wires the validator, aggregator, pipeline and supervisor for one
// session at a time. Lifecycle calls serialize on an internal mutex, so a
// recovery can never swap the stack out from under a live session, and read
// paths are safe from any goroutine.
type Manager struct {
	mu     sync.RWMutex
	cfg    *config.Config
	logger *logx.Logger

	sources SourceFactory
	wake    supervisor.WakeLock
	sched   supervisor.AlarmScheduler
	persist supervisor.StatePersister
	archive Archiver

	// OnFix, when set before StartSession, observes every validation verdict.
	// The metrics collectors hook in here.
	OnFix pipeline.FixObserver
	// OnEvent, when set before StartSession, receives lifecycle events.
	OnEvent func(pkg.SessionEvent)

	sup     *supervisor.Supervisor
	pipe    *pipeline.Pipeline
	agg     *track.Aggregator
	etaCalc *eta.Calculator
	params  Params
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, sources SourceFactory, wake supervisor.WakeLock, sched supervisor.AlarmScheduler, persist supervisor.StatePersister, archive Archiver, logger *logx.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		sources: sources,
		wake:    wake,
		sched:   sched,
		persist: persist,
		archive: archive,
	}
}

// StartSession begins a new session. Starting while one is active returns
// supervisor.ErrSessionActive.
func (m *Manager) StartSession(ctx context.Context, params Params) (pkg.SessionMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeLocked() {
		return pkg.SessionMeta{}, supervisor.ErrSessionActive
	}

	meta := pkg.SessionMeta{
		SessionID: fmt.Sprintf("ruck-%d", time.Now().UnixNano()),
		StartedAt: time.Now().UTC(),
	}

	m.buildStack(params)

	if err := m.sup.Start(ctx, meta); err != nil {
		return pkg.SessionMeta{}, err
	}
	return meta, nil
}

// StopSession ends the active session without finalizing it.
func (m *Manager) StopSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sup == nil {
		return supervisor.ErrNoSession
	}
	return m.sup.Stop()
}

// Finalize ends the session if still active and returns the terminal snapshot
// and calorie estimate for handoff. The archive row is written here.
func (m *Manager) Finalize() (pkg.TrackSnapshot, pkg.CalorieEstimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sup == nil {
		return pkg.TrackSnapshot{}, pkg.CalorieEstimate{}, supervisor.ErrNoSession
	}

	if err := m.sup.Stop(); err != nil && err != supervisor.ErrNoSession {
		return pkg.TrackSnapshot{}, pkg.CalorieEstimate{}, err
	}

	snap := m.agg.Snapshot()
	est := calories.Estimate(snap, m.params.Calories, m.pipe.HeartRateSamples())

	if m.archive != nil {
		if err := m.archive.Insert(m.sup.Meta(), snap, est); err != nil {
			m.logger.Error("archive session", "error", err)
		}
	}

	m.logger.Info("session finalized",
		"session_id", m.sup.Meta().SessionID,
		"distance_m", snap.DistanceM,
		"fused_kcal", est.FusedKcal,
		"resurrections", m.sup.Resurrections(),
	)

	return snap, est, nil
}

// RecoverAfterReboot restores a persisted active session, rebuilding the
// ingest stack before handing control to the supervisor. Recovery while a
// session is in flight fails with ErrSessionActive; the persisted flag then
// belongs to the running session, not to a dead one.
func (m *Manager) RecoverAfterReboot(ctx context.Context, params Params) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeLocked() {
		return false, supervisor.ErrSessionActive
	}

	state, _, err := m.persist.ReadState()
	if err != nil {
		return false, fmt.Errorf("read persisted state: %w", err)
	}
	if state != pkg.StateActive {
		return false, nil
	}

	m.buildStack(params)
	return m.sup.RecoverAfterReboot(ctx)
}

// activeLocked reports whether the current supervisor holds a live session.
func (m *Manager) activeLocked() bool {
	if m.sup == nil {
		return false
	}
	state := m.sup.State()
	return state == pkg.StateActive || state == pkg.StateResurrecting
}

// State returns the lifecycle state, idle when no session was ever started.
func (m *Manager) State() pkg.LifecycleState {
	m.mu.RLock()
	sup := m.sup
	m.mu.RUnlock()

	if sup == nil {
		return pkg.StateIdle
	}
	return sup.State()
}

// Resurrections reports supervisor restarts for the current session.
func (m *Manager) Resurrections() int {
	m.mu.RLock()
	sup := m.sup
	m.mu.RUnlock()

	if sup == nil {
		return 0
	}
	return sup.Resurrections()
}

// Snapshot returns the current track snapshot. Zero value before any session.
func (m *Manager) Snapshot() pkg.TrackSnapshot {
	m.mu.RLock()
	agg := m.agg
	m.mu.RUnlock()

	if agg == nil {
		return pkg.TrackSnapshot{}
	}
	return agg.Snapshot()
}

// Subscribe returns a live snapshot feed for the current session.
func (m *Manager) Subscribe() <-chan pkg.TrackSnapshot {
	m.mu.RLock()
	agg := m.agg
	m.mu.RUnlock()

	if agg == nil {
		return nil
	}
	return agg.Subscribe()
}

// Calories computes the fused estimate over the current snapshot.
func (m *Manager) Calories() pkg.CalorieEstimate {
	m.mu.RLock()
	agg, pipe, params := m.agg, m.pipe, m.params
	m.mu.RUnlock()

	if agg == nil {
		return pkg.CalorieEstimate{}
	}
	return calories.Estimate(agg.Snapshot(), params.Calories, pipe.HeartRateSamples())
}

// ETA computes the arrival estimate against the session route. Without a
// route the remaining distance is unknown and a zero estimate is returned.
func (m *Manager) ETA() pkg.ETAEstimate {
	m.mu.RLock()
	agg, etaCalc, params := m.agg, m.etaCalc, m.params
	m.mu.RUnlock()

	if agg == nil || params.Route == nil {
		return pkg.ETAEstimate{}
	}

	snap := agg.Snapshot()
	route := params.Route

	idx := route.NearestIndex(snap.LastLatitude, snap.LastLongitude)
	remaining := route.RemainingFrom(idx)
	gain, _ := route.RemainingGainLoss(idx)

	packRatio := 0.0
	if params.Calories.BodyWeightKg > 0 {
		packRatio = params.Calories.PackWeightKg / params.Calories.BodyWeightKg
	}

	return etaCalc.Estimate(eta.Input{
		Snapshot:          snap,
		RemainingM:        remaining,
		RemainingGainM:    gain,
		TerrainMultiplier: params.Calories.TerrainMultiplier,
		PackRatio:         packRatio,
	})
}

// buildStack assembles a fresh per-session ingest stack. Previous session
// components are dropped wholesale; snapshots handed out earlier stay valid
// because they are immutable copies.
func (m *Manager) buildStack(params Params) {
	// Session params inherit config defaults where the caller left zeros.
	if params.Calories.TerrainMultiplier <= 0 {
		params.Calories.TerrainMultiplier = m.cfg.TerrainMultiplier
	}
	if params.Calories.ExpectedHRInterval <= 0 {
		params.Calories.ExpectedHRInterval = time.Duration(m.cfg.ExpectedHRIntervalS) * time.Second
	}
	if params.Calories.HRWeightFloor <= 0 {
		params.Calories.HRWeightFloor = m.cfg.HRWeightFloor
	}
	if params.Calories.HRWeightMax <= 0 {
		params.Calories.HRWeightMax = m.cfg.HRWeightMax
	}
	m.params = params

	m.agg = track.NewAggregator(&track.Config{
		ElevationNoiseFloorM: m.cfg.ElevationNoiseFloorM,
		PaceWindow:           time.Duration(m.cfg.PaceWindowS) * time.Second,
		SnapshotBuffer:       8,
	}, m.logger.WithComponent("track"))

	validator := validation.NewValidator(&validation.Config{
		AccuracyThresholdM:  m.cfg.AccuracyThresholdM,
		MaxPlausibleSpeedMS: m.cfg.MaxPlausibleSpeedMS,
		WarmupDistanceM:     m.cfg.WarmupDistanceM,
		ElevationEMAAlpha:   m.cfg.ElevationEMAAlpha,
		OutlierDeviation:    m.cfg.OutlierDeviation,
	}, m.logger.WithComponent("validation"))

	m.etaCalc = eta.NewCalculator(nil, m.logger.WithComponent("eta"))

	observer := func(fix pkg.ValidatedFix) {
		if fix.Accepted {
			m.etaCalc.Observe(fix.Speed)
		}
		if m.OnFix != nil {
			m.OnFix(fix)
		}
	}

	m.pipe = pipeline.New(&pipeline.Config{
		SpeedWindowSize:  m.cfg.SpeedWindowSize,
		SensorBufferSize: m.cfg.SensorBufferSize,
	}, m.sources(), validator, m.agg, observer, m.logger.WithComponent("pipeline"))

	m.sup = supervisor.New(&supervisor.Config{
		HeartbeatInterval: time.Duration(m.cfg.HeartbeatIntervalS) * time.Second,
		WakeLockDuration:  time.Duration(m.cfg.WakeLockDurationS) * time.Second,
	}, m.wake, m.pipe, m.sched, m.persist, m.logger.WithComponent("supervisor"))
	m.sup.OnEvent = m.OnEvent
}
