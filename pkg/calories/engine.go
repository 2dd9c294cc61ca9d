// Package calories estimates session energy expenditure by fusing a
// mechanical (Pandolf-style) model with a heart-rate model. All entry points
// are pure functions over a track snapshot plus caller-supplied parameters,
// so they are safe to call concurrently from any reader.
package calories

import (
	"math"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
)

// Physiological clamp bands for the mechanical model.
const (
	minWalkSpeedMS = 0.5
	maxWalkSpeedMS = 3.0
	minPowerW      = 50.0
	maxPowerW      = 800.0
	kcalPerJoule   = 1.0 / 4186.0

	// Floors applied before the mechanical formula so a bodyweight-only or
	// perfectly flat session never collapses the estimate to zero.
	minPackWeightKg   = 1.0
	minElevationGainM = 1.0
)

// Params are the caller-supplied inputs to an estimate.
type Params struct {
	BodyWeightKg      float64
	PackWeightKg      float64
	Gender            pkg.Gender
	Age               int
	HeightCm          float64 // 0 uses a gender-typical default for BMR
	TerrainMultiplier float64 // 1.0 = pavement baseline
	ActiveOnly        bool    // subtract prorated resting expenditure

	// Fusion tuning; zero values use defaults.
	ExpectedHRInterval time.Duration
	HRWeightFloor      float64
	HRWeightMax        float64
}

func (p *Params) normalize() {
	if p.TerrainMultiplier <= 0 {
		p.TerrainMultiplier = 1.0
	}
	if p.ExpectedHRInterval <= 0 {
		p.ExpectedHRInterval = 5 * time.Second
	}
	if p.HRWeightFloor <= 0 {
		p.HRWeightFloor = 0.3
	}
	if p.HRWeightMax <= 0 || p.HRWeightMax > 1 {
		p.HRWeightMax = 0.9
	}
	if p.Age <= 0 {
		p.Age = 30
	}
}

// Estimate computes the fused calorie estimate for a snapshot. With no
// heart-rate samples the fused value equals the mechanical estimate exactly.
func Estimate(snap pkg.TrackSnapshot, params Params, hr []pkg.HeartRateSample) pkg.CalorieEstimate {
	params.normalize()

	est := pkg.CalorieEstimate{}
	elapsed := snap.Elapsed()
	if elapsed <= 0 || params.BodyWeightKg <= 0 {
		return est
	}

	est.MechanicalKcal = mechanicalKcal(snap, params, elapsed)
	est.HeartRateKcal = heartRateKcal(hr, params)
	est.HRCoverage = hrCoverage(len(hr), elapsed, params.ExpectedHRInterval)

	if len(hr) == 0 {
		est.FusedKcal = est.MechanicalKcal
	} else {
		// Heart-rate weight grows with sampling coverage, floored when sparse.
		w := params.HRWeightFloor + (params.HRWeightMax-params.HRWeightFloor)*est.HRCoverage
		est.FusedKcal = w*est.HeartRateKcal + (1-w)*est.MechanicalKcal
	}

	if params.ActiveOnly {
		est.FusedKcal -= basalKcal(params, elapsed)
		if est.FusedKcal < 0 {
			est.FusedKcal = 0
		}
	}

	return est
}

// mechanicalKcal is the Pandolf load-carriage power model with the
// load-speed correction applied above 2 mph, integrated over elapsed time.
func mechanicalKcal(snap pkg.TrackSnapshot, p Params, elapsed time.Duration) float64 {
	pack := math.Max(p.PackWeightKg, minPackWeightKg)
	gain := math.Max(snap.ElevationGainM, minElevationGainM)

	impliedSpeed := 0.0
	if elapsed > 0 {
		impliedSpeed = snap.DistanceM / elapsed.Seconds()
	}
	v := clamp(impliedSpeed, minWalkSpeedMS, maxWalkSpeedMS)

	grade := 0.0
	if snap.DistanceM > 0 {
		grade = (gain - snap.ElevationLossM) / snap.DistanceM * 100
	}
	grade = clamp(grade, -20, 30)

	w := p.BodyWeightKg
	l := pack
	lw := l / w

	power := 1.5*w +
		2.0*(w+l)*(lw*lw) +
		(w+l)*(1.5*v*v+0.35*v*grade)

	// Load-speed correction above 2 mph (3.2 km/h).
	speedKmh := v * 3.6
	if lw > 0 && speedKmh > 3.2 {
		baseAdj := math.Min(lw*0.45, 0.15)
		speedFactor := math.Min((speedKmh-3.2)/3.2, 1.0)
		power *= 1.0 + baseAdj*speedFactor
	}

	power *= p.TerrainMultiplier
	power = clamp(power, minPowerW, maxPowerW)

	kcal := power * kcalPerJoule * elapsed.Seconds()

	// Near-zero implied speed with nonzero elapsed time means a GPS dropout;
	// scale down instead of billing the clamped walking speed.
	if impliedSpeed < minWalkSpeedMS {
		kcal *= impliedSpeed / minWalkSpeedMS
	}

	return math.Max(kcal, 0)
}

// heartRateKcal integrates per-interval energy between consecutive samples
// using gender-specific linear coefficients (Keytel et al.), defaulting to
// the male-pattern coefficients when gender is unspecified.
func heartRateKcal(hr []pkg.HeartRateSample, p Params) float64 {
	if len(hr) < 2 {
		return 0
	}

	var total float64
	for i := 1; i < len(hr); i++ {
		dt := hr[i].Timestamp.Sub(hr[i-1].Timestamp)
		if dt <= 0 {
			continue
		}
		// Cap gap intervals so a strap dropout does not bill one sample for
		// minutes of energy.
		if dt > time.Minute {
			dt = time.Minute
		}

		bpm := (hr[i].BPM + hr[i-1].BPM) / 2
		perMin := keytelKcalPerMin(bpm, p)
		if perMin > 0 {
			total += perMin * dt.Minutes()
		}
	}

	return total
}

func keytelKcalPerMin(bpm float64, p Params) float64 {
	switch p.Gender {
	case pkg.GenderFemale:
		return (-20.4022 + 0.4472*bpm - 0.1263*p.BodyWeightKg + 0.074*float64(p.Age)) / 4.184
	default:
		return (-55.0969 + 0.6309*bpm + 0.1988*p.BodyWeightKg + 0.2017*float64(p.Age)) / 4.184
	}
}

// hrCoverage is the ratio of samples seen to samples expected at the
// configured density, clamped to [0, 1].
func hrCoverage(samples int, elapsed time.Duration, expectedInterval time.Duration) float64 {
	if samples == 0 || elapsed <= 0 {
		return 0
	}
	expected := elapsed.Seconds() / expectedInterval.Seconds()
	if expected < 1 {
		expected = 1
	}
	return clamp(float64(samples)/expected, 0, 1)
}

// basalKcal prorates a Mifflin-St Jeor resting expenditure over the session
// duration. Unknown height falls back to a gender-typical default.
func basalKcal(p Params, elapsed time.Duration) float64 {
	height := p.HeightCm
	if height <= 0 {
		if p.Gender == pkg.GenderFemale {
			height = 162
		} else {
			height = 175
		}
	}

	var bmrPerDay float64
	if p.Gender == pkg.GenderFemale {
		bmrPerDay = 10*p.BodyWeightKg + 6.25*height - 5*float64(p.Age) - 161
	} else {
		bmrPerDay = 10*p.BodyWeightKg + 6.25*height - 5*float64(p.Age) + 5
	}
	if bmrPerDay < 0 {
		return 0
	}

	return bmrPerDay * elapsed.Hours() / 24
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
