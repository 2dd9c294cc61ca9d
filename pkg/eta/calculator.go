// Package eta estimates time to arrival over the remaining route distance.
// Several candidate estimators run on every request; the calculator scores
// each with a confidence value and picks a primary.
package eta

import (
	"math"
	"sync"
	"time"

	"github.com/sajari/regression"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

// Candidate method names as they appear in ETAEstimate.Method and the
// alternatives map.
const (
	MethodCurrentPace = "current_pace"
	MethodAveragePace = "average_pace"
	MethodRecency     = "recency"
	MethodTerrain     = "terrain"
	MethodAdaptive    = "adaptive"
	MethodArrived     = "arrived"
)

// Plausible loaded-walking band. Candidates outside it keep their value but
// lose most of their confidence.
const (
	plausibleMinMS = 0.4
	plausibleMaxMS = 3.0

	// A challenger must beat the adaptive blend's confidence by this margin
	// to become primary, which keeps the reported method stable.
	primaryMargin = 0.05

	minTrendSamples = 5
)

// Config holds the ETA tuning parameters.
type Config struct {
	SpeedHistorySize int     `json:"speed_history_size"`
	RecencyHalfLife  int     `json:"recency_half_life"` // samples until weight halves
	ClimbSecPerM     float64 `json:"climb_sec_per_m"`   // extra seconds per metre of remaining gain
}

// DefaultConfig returns the default ETA tuning.
func DefaultConfig() *Config {
	return &Config{
		SpeedHistorySize: 60,
		RecencyHalfLife:  10,
		ClimbSecPerM:     6.0,
	}
}

// Input is one ETA request. Remaining values come from the route engine;
// terrain and load come from session parameters.
type Input struct {
	Snapshot          pkg.TrackSnapshot
	RemainingM        float64
	RemainingGainM    float64
	TerrainMultiplier float64 // 1.0 = pavement baseline
	PackRatio         float64 // pack weight / body weight, 0 when unknown
}

// Calculator produces arrival estimates. It keeps a bounded window of recent
// accepted speeds; the ingest path feeds Observe while any reader calls
// Estimate.
type Calculator struct {
	cfg    *Config
	logger *logx.Logger

	mu     sync.Mutex
	speeds []float64
}

// NewCalculator creates a calculator. A nil config gets defaults.
func NewCalculator(cfg *Config, logger *logx.Logger) *Calculator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Calculator{cfg: cfg, logger: logger}
}

// Observe feeds one accepted speed sample into the history window.
func (c *Calculator) Observe(speedMS float64) {
	if speedMS < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speeds = append(c.speeds, speedMS)
	if len(c.speeds) > c.cfg.SpeedHistorySize {
		c.speeds = c.speeds[len(c.speeds)-c.cfg.SpeedHistorySize:]
	}
}

// Reset clears the speed history for a new session.
func (c *Calculator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speeds = nil
}

type candidate struct {
	method     string
	duration   time.Duration
	confidence float64
}

// Estimate computes the arrival estimate for the given input. Zero remaining
// distance short-circuits to an arrived estimate with full confidence.
func (c *Calculator) Estimate(in Input) pkg.ETAEstimate {
	if in.RemainingM <= 0 {
		return pkg.ETAEstimate{
			Primary:    0,
			Confidence: 1.0,
			Method:     MethodArrived,
			RemainingM: 0,
		}
	}
	if in.TerrainMultiplier <= 0 {
		in.TerrainMultiplier = 1.0
	}

	c.mu.Lock()
	speeds := append([]float64(nil), c.speeds...)
	c.mu.Unlock()

	cands := make([]candidate, 0, 4)
	if cur := c.paceCandidate(MethodCurrentPace, in.Snapshot.CurrentSpeedMS, in.RemainingM, speeds); cur != nil {
		cands = append(cands, *cur)
	}
	if avg := c.paceCandidate(MethodAveragePace, in.Snapshot.AvgSpeedMS, in.RemainingM, speeds); avg != nil {
		cands = append(cands, *avg)
	}
	if rec := c.recencyCandidate(in.RemainingM, speeds); rec != nil {
		cands = append(cands, *rec)
	}
	cands = append(cands, c.terrainCandidate(in, speeds))

	adaptive := blend(cands, in.RemainingM)

	best := adaptive
	for _, cand := range cands {
		if cand.confidence > best.confidence+primaryMargin {
			best = cand
		}
	}

	out := pkg.ETAEstimate{
		Primary:      best.duration,
		Confidence:   best.confidence,
		Method:       best.method,
		RemainingM:   in.RemainingM,
		Alternatives: make(map[string]time.Duration, len(cands)+1),
	}
	out.Alternatives[adaptive.method] = adaptive.duration
	for _, cand := range cands {
		out.Alternatives[cand.method] = cand.duration
	}
	delete(out.Alternatives, best.method)

	if c.logger != nil {
		c.logger.Debug("eta computed",
			"method", out.Method,
			"primary_s", out.Primary.Seconds(),
			"confidence", out.Confidence,
			"remaining_m", out.RemainingM,
			"candidates", len(cands),
		)
	}

	return out
}

// paceCandidate projects a single speed over the remaining distance.
func (c *Calculator) paceCandidate(method string, speedMS, remainingM float64, speeds []float64) *candidate {
	if speedMS <= 0 {
		return nil
	}
	return &candidate{
		method:     method,
		duration:   secondsToDuration(remainingM / speedMS),
		confidence: score(speedMS, speeds),
	}
}

// recencyCandidate blends an exponential-decay weighted recent speed with the
// least-squares trend over the history window, projected half a window ahead.
func (c *Calculator) recencyCandidate(remainingM float64, speeds []float64) *candidate {
	n := len(speeds)
	if n < minTrendSamples {
		return nil
	}

	decay := math.Ln2 / float64(c.cfg.RecencyHalfLife)
	var weighted, weightSum float64
	for i, s := range speeds {
		w := math.Exp(-decay * float64(n-1-i))
		weighted += w * s
		weightSum += w
	}
	recent := weighted / weightSum

	r := new(regression.Regression)
	r.SetObserved("speed_ms")
	r.SetVar(0, "sample_index")
	for i, s := range speeds {
		r.Train(regression.DataPoint(s, []float64{float64(i)}))
	}

	speed := recent
	if err := r.Run(); err == nil {
		if projected, err := r.Predict([]float64{float64(n-1) + float64(n)/2}); err == nil && projected > 0 {
			speed = 0.5*recent + 0.5*projected
		}
	}

	if speed <= 0 {
		return nil
	}
	return &candidate{
		method:     MethodRecency,
		duration:   secondsToDuration(remainingM / speed),
		confidence: score(speed, speeds),
	}
}

// terrainCandidate is a Naismith-style estimate: base time at a nominal loaded
// pace plus a fixed cost per metre of remaining climb, derated for terrain
// and pack load. It never needs speed history, so it always exists.
func (c *Calculator) terrainCandidate(in Input, speeds []float64) candidate {
	base := in.Snapshot.AvgSpeedMS
	if base <= 0 {
		base = 1.25 // nominal loaded walking pace
	}

	base /= in.TerrainMultiplier
	if in.PackRatio > 0 {
		base /= 1 + math.Min(in.PackRatio, 0.5)*0.3
	}

	seconds := in.RemainingM/base + in.RemainingGainM*c.cfg.ClimbSecPerM

	// The terrain model is a coarse fallback: floored so it still carries
	// weight with no speed history, capped so measured-pace candidates win
	// whenever they are healthy.
	conf := score(base, speeds)
	if conf < 0.3 {
		conf = 0.3
	}
	if conf > 0.6 {
		conf = 0.6
	}

	return candidate{
		method:     MethodTerrain,
		duration:   secondsToDuration(seconds),
		confidence: conf,
	}
}

// blend averages the candidates weighted by confidence.
func blend(cands []candidate, remainingM float64) candidate {
	var weightedSec, weightSum, confSum float64
	for _, cand := range cands {
		weightedSec += cand.confidence * cand.duration.Seconds()
		weightSum += cand.confidence
		confSum += cand.confidence
	}
	if weightSum <= 0 {
		return candidate{method: MethodAdaptive, duration: 0, confidence: 0}
	}
	return candidate{
		method:     MethodAdaptive,
		duration:   secondsToDuration(weightedSec / weightSum),
		confidence: confSum / float64(len(cands)),
	}
}

// score is the confidence of a speed-based candidate:
// consistency x sufficiency x plausibility, each in [0, 1].
func score(speedMS float64, speeds []float64) float64 {
	consistency := 1.0
	if mean, sd := meanStddev(speeds); mean > 0 {
		cv := sd / mean
		consistency = 1 / (1 + cv)
	}

	sufficiency := math.Min(1, float64(len(speeds))/float64(minTrendSamples))

	plausibility := 0.3
	if speedMS >= plausibleMinMS && speedMS <= plausibleMaxMS {
		plausibility = 1.0
	}

	return consistency * sufficiency * plausibility
}

func meanStddev(values []float64) (float64, float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n))
}

func secondsToDuration(s float64) time.Duration {
	if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
