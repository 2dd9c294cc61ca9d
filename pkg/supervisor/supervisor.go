// Package supervisor owns the session lifecycle: it prevents the OS from
// suspending the ingest pipeline, detects silent task death via a heartbeat,
// and resurrects the pipeline after a kill or reboot. It is the only
// component allowed to transition the persisted lifecycle state.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

var (
	// ErrSessionActive is returned when starting while a session is active.
	ErrSessionActive = errors.New("session already active")
	// ErrNoSession is returned when stopping with no session in flight.
	ErrNoSession = errors.New("no active session")
	// ErrWakeLockDenied wraps a wake-retention acquisition failure.
	ErrWakeLockDenied = errors.New("wake lock denied")
	// ErrTaskStartFailed wraps a background-task start failure.
	ErrTaskStartFailed = errors.New("background task start failed")
)

// StatePersister is the durable lifecycle record the supervisor writes
// through. store.StateStore satisfies it.
type StatePersister interface {
	ReadState() (pkg.LifecycleState, pkg.SessionMeta, error)
	WriteState(pkg.LifecycleState, pkg.SessionMeta) error
	Clear() error
}

// Config holds the supervisor timing parameters.
type Config struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	WakeLockDuration  time.Duration `json:"wake_lock_duration"`
}

// DefaultConfig returns the default supervisor timing.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 15 * time.Minute,
		WakeLockDuration:  30 * time.Minute,
	}
}

// Supervisor drives the lifecycle state machine. All transitions run under a
// single-flight mutex, so a heartbeat resurrection can never race an explicit
// stop or a reboot recovery; the loser of any such race is a no-op.
type Supervisor struct {
	mu     sync.Mutex
	cfg    *Config
	logger *logx.Logger

	wake    WakeLock
	task    BackgroundTask
	sched   AlarmScheduler
	persist StatePersister

	ctx   context.Context
	state pkg.LifecycleState
	meta  pkg.SessionMeta

	cancelHeartbeat func()
	resurrections   int
	heartbeats      int

	// OnEvent, when set before Start, receives lifecycle events.
	OnEvent func(pkg.SessionEvent)
}

// New creates a supervisor. A nil config gets defaults.
func New(cfg *Config, wake WakeLock, task BackgroundTask, sched AlarmScheduler, persist StatePersister, logger *logx.Logger) *Supervisor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  logger,
		wake:    wake,
		task:    task,
		sched:   sched,
		persist: persist,
		state:   pkg.StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() pkg.LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Meta returns the current session metadata.
func (s *Supervisor) Meta() pkg.SessionMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Resurrections returns how many times the task was restarted after silent
// death within this process lifetime.
func (s *Supervisor) Resurrections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resurrections
}

// Heartbeats returns how many liveness checks have fired.
func (s *Supervisor) Heartbeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats
}

// Start begins a session. Wake-lock or task-start failure aborts the attempt,
// reverts to idle and is surfaced to the caller; nothing is persisted until
// both primitives are up.
func (s *Supervisor) Start(ctx context.Context, meta pkg.SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == pkg.StateActive || s.state == pkg.StateResurrecting {
		return fmt.Errorf("%w: session %s", ErrSessionActive, s.meta.SessionID)
	}

	if err := s.wake.Acquire(s.cfg.WakeLockDuration); err != nil {
		s.state = pkg.StateIdle
		return fmt.Errorf("%w: %v", ErrWakeLockDenied, err)
	}

	if err := s.task.Start(ctx); err != nil {
		s.wake.Release()
		s.state = pkg.StateIdle
		return fmt.Errorf("%w: %v", ErrTaskStartFailed, err)
	}

	if err := s.persist.WriteState(pkg.StateActive, meta); err != nil {
		s.task.Stop()
		s.wake.Release()
		s.state = pkg.StateIdle
		return fmt.Errorf("persist active state: %w", err)
	}

	s.ctx = ctx
	s.state = pkg.StateActive
	s.meta = meta
	s.resurrections = 0
	s.scheduleHeartbeatLocked()

	s.logger.Info("session started",
		"session_id", meta.SessionID,
		"heartbeat_interval", s.cfg.HeartbeatInterval,
	)
	s.emitLocked("session_started", "", nil)

	return nil
}

// Stop ends the session. This is the only path that clears the persisted
// lifecycle flag.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != pkg.StateActive && s.state != pkg.StateResurrecting {
		return ErrNoSession
	}

	if s.cancelHeartbeat != nil {
		s.cancelHeartbeat()
		s.cancelHeartbeat = nil
	}

	s.task.Stop()
	s.wake.Release()

	if err := s.persist.WriteState(pkg.StateStopped, s.meta); err != nil {
		s.logger.Error("persist stopped state", "error", err)
	}
	if err := s.persist.Clear(); err != nil {
		s.logger.Error("clear persisted state", "error", err)
	}

	s.logger.Info("session stopped",
		"session_id", s.meta.SessionID,
		"resurrections", s.resurrections,
	)
	s.emitLocked("session_stopped", "", map[string]interface{}{
		"resurrections": s.resurrections,
	})

	s.state = pkg.StateStopped
	return nil
}

// RecoverAfterReboot restores a session that was active when the process
// died. It restarts ingest and reschedules the heartbeat immediately instead
// of waiting for the next tick. Returns whether a session was recovered.
func (s *Supervisor) RecoverAfterReboot(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted, meta, err := s.persist.ReadState()
	if err != nil {
		return false, fmt.Errorf("read persisted state: %w", err)
	}
	if persisted != pkg.StateActive {
		return false, nil
	}
	if s.state == pkg.StateActive {
		return false, nil
	}

	s.logger.Warn("recovering session after restart", "session_id", meta.SessionID)

	if err := s.wake.Acquire(s.cfg.WakeLockDuration); err != nil {
		return false, fmt.Errorf("%w: %v", ErrWakeLockDenied, err)
	}
	if err := s.task.Start(ctx); err != nil {
		s.wake.Release()
		return false, fmt.Errorf("%w: %v", ErrTaskStartFailed, err)
	}

	s.ctx = ctx
	s.state = pkg.StateActive
	s.meta = meta
	s.scheduleHeartbeatLocked()

	s.emitLocked("session_recovered", "reboot", nil)
	return true, nil
}

// scheduleHeartbeatLocked arms the next heartbeat. Exact-alarm denial
// degrades to best-effort scheduling with a warning; it never fails the
// session.
func (s *Supervisor) scheduleHeartbeatLocked() {
	at := time.Now().Add(s.cfg.HeartbeatInterval)

	cancel, err := s.sched.ScheduleAt(at, s.heartbeat, true)
	if errors.Is(err, ErrExactUnavailable) {
		s.logger.Warn("exact scheduling unavailable, degrading to best-effort")
		cancel, err = s.sched.ScheduleAt(at, s.heartbeat, false)
	}
	if err != nil {
		s.logger.Error("schedule heartbeat", "error", err)
		return
	}

	s.cancelHeartbeat = cancel
}

// heartbeat checks task liveness while the state says active, resurrecting
// the task if it died silently, then rearms itself.
func (s *Supervisor) heartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A stop that raced this tick wins; the tick is a no-op. Resurrecting
	// means an earlier resurrection attempt failed and this tick retries it.
	if s.state != pkg.StateActive && s.state != pkg.StateResurrecting {
		return
	}

	s.heartbeats++
	s.emitLocked("heartbeat", "", nil)

	if !s.task.Running() {
		s.state = pkg.StateResurrecting
		if err := s.persist.WriteState(pkg.StateResurrecting, s.meta); err != nil {
			s.logger.Error("persist resurrecting state", "error", err)
		}
		s.logger.Warn("ingest task dead, resurrecting", "session_id", s.meta.SessionID)
		s.emitLocked("resurrecting", "task_not_running", nil)

		if err := s.task.Start(s.ctx); err != nil {
			s.logger.Error("resurrection failed", "error", err)
			// Stay resurrecting; the next tick retries.
			s.scheduleHeartbeatLocked()
			return
		}

		s.resurrections++
		s.state = pkg.StateActive
		if err := s.persist.WriteState(pkg.StateActive, s.meta); err != nil {
			s.logger.Error("persist active state", "error", err)
		}
		s.emitLocked("resurrected", "", map[string]interface{}{
			"resurrections": s.resurrections,
		})
	}

	if err := s.wake.Renew(s.cfg.WakeLockDuration); err != nil {
		s.logger.Warn("wake lock renewal failed", "error", err)
	}

	s.scheduleHeartbeatLocked()
}

func (s *Supervisor) emitLocked(eventType, reason string, data map[string]interface{}) {
	if s.OnEvent == nil {
		return
	}
	s.OnEvent(pkg.SessionEvent{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Reason:    reason,
		Data:      data,
	})
}
