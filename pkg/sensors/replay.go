package sensors

import (
	"context"
	"sync"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
)

// ReplayLocationSource delivers a recorded fix sequence, either as fast as
// the consumer drains it (Interval 0) or paced at a fixed interval. Used by
// tests and the daemon's replay mode.
type ReplayLocationSource struct {
	FixSeq   []pkg.RawFix
	Interval time.Duration

	mu      sync.Mutex
	ch      chan pkg.RawFix
	cancel  context.CancelFunc
	running bool
}

func (r *ReplayLocationSource) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.ch = make(chan pkg.RawFix)
	r.running = true

	go func(ch chan pkg.RawFix) {
		defer close(ch)
		for _, fix := range r.FixSeq {
			if r.Interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(r.Interval):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- fix:
			}
		}
	}(r.ch)

	return nil
}

func (r *ReplayLocationSource) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	r.running = false
}

func (r *ReplayLocationSource) Fixes() <-chan pkg.RawFix { return r.ch }

func (r *ReplayLocationSource) Available() bool { return true }

// ReplayHeartRateSource delivers a recorded heart-rate sequence.
type ReplayHeartRateSource struct {
	SampleSeq []pkg.HeartRateSample

	mu      sync.Mutex
	ch      chan pkg.HeartRateSample
	cancel  context.CancelFunc
	running bool
}

func (r *ReplayHeartRateSource) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.ch = make(chan pkg.HeartRateSample)
	r.running = true

	go func(ch chan pkg.HeartRateSample) {
		defer close(ch)
		for _, s := range r.SampleSeq {
			select {
			case <-ctx.Done():
				return
			case ch <- s:
			}
		}
	}(r.ch)

	return nil
}

func (r *ReplayHeartRateSource) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	r.running = false
}

func (r *ReplayHeartRateSource) Samples() <-chan pkg.HeartRateSample { return r.ch }

func (r *ReplayHeartRateSource) Available() bool { return true }

// ReplayStepSource delivers a recorded step-pulse sequence.
type ReplayStepSource struct {
	StepSeq []pkg.StepSample

	mu      sync.Mutex
	ch      chan pkg.StepSample
	cancel  context.CancelFunc
	running bool
}

func (r *ReplayStepSource) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.ch = make(chan pkg.StepSample)
	r.running = true

	go func(ch chan pkg.StepSample) {
		defer close(ch)
		for _, s := range r.StepSeq {
			select {
			case <-ctx.Done():
				return
			case ch <- s:
			}
		}
	}(r.ch)

	return nil
}

func (r *ReplayStepSource) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	r.running = false
}

func (r *ReplayStepSource) Steps() <-chan pkg.StepSample { return r.ch }

func (r *ReplayStepSource) Available() bool { return true }

// ReplayBarometerSource delivers a recorded pressure sequence.
type ReplayBarometerSource struct {
	PressureSeq []pkg.PressureSample

	mu      sync.Mutex
	ch      chan pkg.PressureSample
	cancel  context.CancelFunc
	running bool
}

func (r *ReplayBarometerSource) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.ch = make(chan pkg.PressureSample)
	r.running = true

	go func(ch chan pkg.PressureSample) {
		defer close(ch)
		for _, s := range r.PressureSeq {
			select {
			case <-ctx.Done():
				return
			case ch <- s:
			}
		}
	}(r.ch)

	return nil
}

func (r *ReplayBarometerSource) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	r.running = false
}

func (r *ReplayBarometerSource) Pressures() <-chan pkg.PressureSample { return r.ch }

func (r *ReplayBarometerSource) Available() bool { return true }
