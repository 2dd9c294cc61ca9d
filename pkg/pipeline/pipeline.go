// Package pipeline is the serialized ingest path: sensor readings from all
// modalities are drained by a single goroutine, so validation and aggregation
// never run concurrently on overlapping state and fixes reach validation in
// non-decreasing timestamp order.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/logx"
	"github.com/ruckmetrics/ruckd/pkg/sensors"
	"github.com/ruckmetrics/ruckd/pkg/track"
	"github.com/ruckmetrics/ruckd/pkg/validation"
)

// Config holds the pipeline parameters.
type Config struct {
	SpeedWindowSize  int `json:"speed_window_size"`  // accepted speeds kept for outlier detection
	SensorBufferSize int `json:"sensor_buffer_size"` // per-modality ring capacity
}

// DefaultConfig returns the default pipeline parameters.
func DefaultConfig() *Config {
	return &Config{
		SpeedWindowSize:  10,
		SensorBufferSize: 256,
	}
}

// FixObserver receives every validation verdict, accepted or not. The session
// manager uses it to feed the ETA speed history and the metrics collectors.
type FixObserver func(pkg.ValidatedFix)

// Pipeline drains the sensor set into the validator and aggregator. It
// implements the supervisor's background-task contract: Start is restartable
// after the run loop dies, and Running reports loop liveness.
type Pipeline struct {
	mu     sync.Mutex
	cfg    *Config
	logger *logx.Logger

	set       *sensors.Set
	validator *validation.Validator
	agg       *track.Aggregator
	observer  FixObserver

	fixBuf      *sensors.Buffer[pkg.RawFix]
	pressureBuf *sensors.Buffer[pkg.PressureSample]
	stepBuf     *sensors.Buffer[pkg.StepSample]
	hrBuf       *sensors.Buffer[pkg.HeartRateSample]

	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	lastFix      *pkg.ValidatedFix
	recentSpeeds []float64

	hrMu      sync.Mutex
	hrSamples []pkg.HeartRateSample
}

// New creates a pipeline. A nil config gets defaults; observer may be nil.
func New(cfg *Config, set *sensors.Set, validator *validation.Validator, agg *track.Aggregator, observer FixObserver, logger *logx.Logger) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SensorBufferSize <= 0 {
		cfg.SensorBufferSize = DefaultConfig().SensorBufferSize
	}
	return &Pipeline{
		cfg:         cfg,
		logger:      logger,
		set:         set,
		validator:   validator,
		agg:         agg,
		observer:    observer,
		fixBuf:      sensors.NewBuffer[pkg.RawFix](cfg.SensorBufferSize),
		pressureBuf: sensors.NewBuffer[pkg.PressureSample](cfg.SensorBufferSize),
		stepBuf:     sensors.NewBuffer[pkg.StepSample](cfg.SensorBufferSize),
		hrBuf:       sensors.NewBuffer[pkg.HeartRateSample](cfg.SensorBufferSize),
	}
}

// Start launches the sensor sources and the ingest loop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)

	if err := p.set.Location.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start location source: %w", err)
	}
	p.startOptionalLocked(ctx)

	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(ctx, p.done)

	p.logger.Info("ingest pipeline started",
		"barometer", p.set.HasBarometer(),
		"steps", p.set.HasSteps(),
		"heart_rate", p.set.HasHeartRate(),
	)
	return nil
}

// startOptionalLocked starts whatever optional modalities exist. A missing
// capability degrades the affected feature, never the session.
func (p *Pipeline) startOptionalLocked(ctx context.Context) {
	if p.set.HasBarometer() {
		if err := p.set.Barometer.Start(ctx); err != nil {
			p.logger.Warn("barometer unavailable, falling back to gps altitude", "error", err)
		}
	}
	if p.set.HasSteps() {
		if err := p.set.Step.Start(ctx); err != nil {
			p.logger.Warn("step source unavailable", "error", err)
		}
	}
	if p.set.HasHeartRate() {
		if err := p.set.HeartRate.Start(ctx); err != nil {
			p.logger.Warn("heart rate source unavailable, calories degrade to mechanical", "error", err)
		}
	}
}

// Stop cancels the ingest loop and the sensor sources, then waits for the
// loop to drain.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.set.StopAll()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("ingest pipeline stopped")
}

// Running reports whether the ingest loop is alive. The supervisor's
// heartbeat polls this.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// HeartRateSamples returns a copy of every heart-rate sample seen this
// session, in arrival order.
func (p *Pipeline) HeartRateSamples() []pkg.HeartRateSample {
	p.hrMu.Lock()
	defer p.hrMu.Unlock()
	return append([]pkg.HeartRateSample(nil), p.hrSamples...)
}

// Dropped reports how many sensor readings the ring buffers evicted because
// ingest fell behind. Cumulative across restarts of the loop.
func (p *Pipeline) Dropped() int64 {
	return p.fixBuf.Dropped() + p.pressureBuf.Dropped() + p.stepBuf.Dropped() + p.hrBuf.Dropped()
}

// forward pumps one source channel into its ring buffer and pokes the ingest
// loop. A full ring evicts the oldest reading, so a slow ingest pass bounds
// memory instead of backpressuring the sensor.
func forward[T any](wg *sync.WaitGroup, ch <-chan T, buf *sensors.Buffer[T], notify chan<- struct{}) {
	if ch == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for item := range ch {
			buf.Push(item)
			select {
			case notify <- struct{}{}:
			default:
			}
		}
	}()
}

// run is the single serialized consumer of the sensor ring buffers.
func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	notify := make(chan struct{}, 1)
	var wg sync.WaitGroup

	forward(&wg, p.set.Location.Fixes(), p.fixBuf, notify)
	if p.set.HasBarometer() {
		forward(&wg, p.set.Barometer.Pressures(), p.pressureBuf, notify)
	}
	if p.set.HasSteps() {
		forward(&wg, p.set.Step.Steps(), p.stepBuf, notify)
	}
	if p.set.HasHeartRate() {
		forward(&wg, p.set.HeartRate.Samples(), p.hrBuf, notify)
	}

	closed := make(chan struct{})
	go func() {
		wg.Wait()
		close(closed)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			p.drainBuffers()
		case <-closed:
			p.drainBuffers()
			if n := p.Dropped(); n > 0 {
				p.logger.Warn("sensor readings evicted by backpressure", "dropped", n)
			}
			return
		}
	}
}

// drainBuffers processes one batch. Pressure first, so a barometric reading
// lands before fixes from the same batch reach elevation smoothing.
func (p *Pipeline) drainBuffers() {
	for _, s := range p.pressureBuf.Drain() {
		p.validator.ObservePressure(s)
	}
	for _, fix := range p.fixBuf.Drain() {
		p.ingestFix(fix)
	}
	for _, s := range p.stepBuf.Drain() {
		p.agg.AddSteps(s)
	}
	for _, s := range p.hrBuf.Drain() {
		p.hrMu.Lock()
		p.hrSamples = append(p.hrSamples, s)
		p.hrMu.Unlock()
	}
}

func (p *Pipeline) ingestFix(raw pkg.RawFix) {
	verdict := p.validator.Validate(raw, p.lastFix, p.recentSpeeds)

	p.agg.Append(verdict)

	if verdict.Accepted {
		v := verdict
		p.lastFix = &v

		p.recentSpeeds = append(p.recentSpeeds, verdict.Speed)
		if len(p.recentSpeeds) > p.cfg.SpeedWindowSize {
			p.recentSpeeds = p.recentSpeeds[len(p.recentSpeeds)-p.cfg.SpeedWindowSize:]
		}
	}

	if p.observer != nil {
		p.observer(verdict)
	}
}
