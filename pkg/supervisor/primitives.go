package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrExactUnavailable is returned by an AlarmScheduler that cannot honor an
// exact-time request; callers retry in best-effort mode.
var ErrExactUnavailable = errors.New("exact scheduling unavailable")

// WakeLock is the OS wake-retention primitive. Acquire while held is a no-op,
// never an error.
type WakeLock interface {
	Acquire(d time.Duration) error
	Renew(d time.Duration) error
	Release()
}

// BackgroundTask is a long-running task with a liveness query. The ingest
// pipeline implements this.
type BackgroundTask interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// AlarmScheduler schedules a one-shot callback. When exact is true the
// callback must fire at the requested time; a scheduler that cannot promise
// that returns ErrExactUnavailable and the caller downgrades.
type AlarmScheduler interface {
	ScheduleAt(t time.Time, fn func(), exact bool) (cancel func(), err error)
}

// NopWakeLock grants every request. Platforms without suspend semantics (and
// tests) use it.
type NopWakeLock struct {
	mu   sync.Mutex
	held bool
}

func (n *NopWakeLock) Acquire(time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.held = true
	return nil
}

func (n *NopWakeLock) Renew(time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.held = true
	return nil
}

func (n *NopWakeLock) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.held = false
}

// Held reports whether the lock is currently held.
func (n *NopWakeLock) Held() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.held
}

// TimerScheduler backs AlarmScheduler with the runtime timer. Exact and
// best-effort behave identically here; the distinction exists for platform
// schedulers that must ask permission for exact alarms.
type TimerScheduler struct{}

func (TimerScheduler) ScheduleAt(t time.Time, fn func(), exact bool) (func(), error) {
	timer := time.AfterFunc(time.Until(t), fn)
	return func() { timer.Stop() }, nil
}
