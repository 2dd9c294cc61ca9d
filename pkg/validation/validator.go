// Package validation turns raw position fixes into accept/reject verdicts and
// smoothed elevation and speed values before they reach the track aggregator.
package validation

import (
	"math"
	"sort"

	"github.com/ruckmetrics/ruckd/pkg"
	"github.com/ruckmetrics/ruckd/pkg/geo"
	"github.com/ruckmetrics/ruckd/pkg/logx"
)

// Config holds the validation thresholds.
type Config struct {
	AccuracyThresholdM  float64 `json:"accuracy_threshold_m"`   // reject fixes worse than this
	MaxPlausibleSpeedMS float64 `json:"max_plausible_speed_ms"` // loaded pedestrian ceiling
	WarmupDistanceM     float64 `json:"warmup_distance_m"`      // pace invalid until covered
	ElevationEMAAlpha   float64 `json:"elevation_ema_alpha"`
	OutlierDeviation    float64 `json:"outlier_deviation"` // multiples of window MAD
}

// DefaultConfig returns the default validation thresholds.
func DefaultConfig() *Config {
	return &Config{
		AccuracyThresholdM:  20.0,
		MaxPlausibleSpeedMS: 5.0,
		WarmupDistanceM:     50.0,
		ElevationEMAAlpha:   0.3,
		OutlierDeviation:    3.0,
	}
}

// Validator derives ValidatedFix values from raw fixes. It owns the elevation
// smoothing state and the barometric reference; the accept/reject decision
// itself is pure over its inputs.
type Validator struct {
	cfg    *Config
	logger *logx.Logger

	cumDistanceM float64

	emaElevation float64
	emaSet       bool

	// Barometric reference: altitude is anchored at the first pairing of a
	// pressure reading with an accepted fix, then tracked by pressure delta.
	baroAvailable bool
	baroAltM      float64
	baroAnchorAlt float64
	baroAnchorSet bool
}

// NewValidator creates a validator. A nil config gets defaults.
func NewValidator(cfg *Config, logger *logx.Logger) *Validator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Validator{cfg: cfg, logger: logger}
}

// ObservePressure feeds a barometric sample. Once any sample has been seen
// the validator prefers pressure-derived altitude deltas over GPS altitude.
func (v *Validator) ObservePressure(s pkg.PressureSample) {
	v.baroAvailable = true
	v.baroAltM = pressureAltitudeM(s.HPa)
}

// Validate derives the verdict for one raw fix given the last accepted fix
// and the recent accepted-speed window.
func (v *Validator) Validate(raw pkg.RawFix, last *pkg.ValidatedFix, recentSpeeds []float64) pkg.ValidatedFix {
	out := pkg.ValidatedFix{
		Timestamp: raw.Timestamp,
		Latitude:  raw.Latitude,
		Longitude: raw.Longitude,
	}

	if raw.HorizontalAccuracy > v.cfg.AccuracyThresholdM {
		out.Reason = pkg.RejectPoorAccuracy
		v.logger.Debug("fix rejected",
			"reason", out.Reason,
			"accuracy_m", raw.HorizontalAccuracy,
			"threshold_m", v.cfg.AccuracyThresholdM,
		)
		return out
	}

	var speed float64
	var distanceM float64
	if last != nil {
		dt := raw.Timestamp.Sub(last.Timestamp)
		if dt < 0 {
			out.Reason = pkg.RejectOutOfOrder
			return out
		}
		distanceM = geo.Haversine(last.Latitude, last.Longitude, raw.Latitude, raw.Longitude)
		if dt > 0 {
			speed = distanceM / dt.Seconds()
		}
		if speed > v.cfg.MaxPlausibleSpeedMS {
			out.Reason = pkg.RejectImplausibleSpeed
			v.logger.Debug("fix rejected",
				"reason", out.Reason,
				"speed_ms", speed,
				"max_speed_ms", v.cfg.MaxPlausibleSpeedMS,
				"dt_s", dt.Seconds(),
			)
			return out
		}
	}

	out.Accepted = true
	out.Speed = speed
	out.Elevation = v.smoothElevation(raw)
	out.SpeedOutlier = last != nil && isOutlier(speed, recentSpeeds, v.cfg.OutlierDeviation)

	v.cumDistanceM += distanceM
	out.PaceValid = v.cumDistanceM >= v.cfg.WarmupDistanceM

	return out
}

// CumulativeDistanceM returns the accepted distance seen so far, used by the
// warmup gate.
func (v *Validator) CumulativeDistanceM() float64 { return v.cumDistanceM }

// smoothElevation picks the elevation source (barometric delta when present,
// GPS altitude otherwise) and applies the EMA filter.
func (v *Validator) smoothElevation(raw pkg.RawFix) float64 {
	candidate := raw.Altitude
	if v.baroAvailable {
		if !v.baroAnchorSet {
			// Anchor the relative pressure altitude to the first GPS altitude.
			v.baroAnchorAlt = raw.Altitude - v.baroAltM
			v.baroAnchorSet = true
		}
		candidate = v.baroAnchorAlt + v.baroAltM
	}

	if !v.emaSet {
		v.emaElevation = candidate
		v.emaSet = true
		return v.emaElevation
	}

	alpha := v.cfg.ElevationEMAAlpha
	v.emaElevation = alpha*candidate + (1-alpha)*v.emaElevation
	return v.emaElevation
}

// isOutlier flags a speed deviating from the window median by more than
// factor times the window's median absolute deviation.
func isOutlier(speed float64, window []float64, factor float64) bool {
	if len(window) < 3 {
		return false
	}

	med := median(window)
	devs := make([]float64, len(window))
	for i, s := range window {
		devs[i] = math.Abs(s - med)
	}
	mad := median(devs)
	if mad < 0.05 {
		mad = 0.05 // floor so a perfectly steady window still tolerates jitter
	}

	return math.Abs(speed-med) > factor*mad
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// pressureAltitudeM converts station pressure to altitude using the standard
// atmosphere model (ISA, sea-level reference 1013.25 hPa).
func pressureAltitudeM(hPa float64) float64 {
	if hPa <= 0 {
		return 0
	}
	return 44330 * (1 - math.Pow(hPa/1013.25, 0.1903))
}
