package calories

import (
	"math"

	"github.com/ruckmetrics/ruckd/pkg"
)

// EstimateMET is the older MET-table estimate kept for comparison against the
// mechanical model. It brackets walking speed into published MET bands, then
// adjusts for grade, pack load and gender.
func EstimateMET(snap pkg.TrackSnapshot, params Params) float64 {
	params.normalize()

	elapsed := snap.Elapsed()
	if elapsed <= 0 || params.BodyWeightKg <= 0 {
		return 0
	}

	speedMS := 0.0
	if elapsed > 0 {
		speedMS = snap.DistanceM / elapsed.Seconds()
	}
	mph := speedMS * 2.23694

	met := baseMET(mph)

	grade := 0.0
	if snap.DistanceM > 0 {
		grade = (snap.ElevationGainM - snap.ElevationLossM) / snap.DistanceM * 100
	}

	switch {
	case grade > 0:
		met += grade * 0.6 * (mph / 4.0)
	case grade < -10:
		// Steep descents cost energy through braking.
		met += (-grade - 10) * 0.15
	case grade < 0:
		met -= -grade * 0.05
	}

	packLbs := params.PackWeightKg * 2.20462
	met += math.Min(packLbs*0.05, 5.0)

	met = clamp(met, 2.0, 15.0)

	kcal := met * params.BodyWeightKg * elapsed.Hours()

	switch params.Gender {
	case pkg.GenderFemale:
		kcal *= 0.85
	case pkg.GenderMale:
	default:
		kcal *= 0.925
	}

	return kcal
}

// baseMET maps flat-ground walking speed in mph to a MET value.
func baseMET(mph float64) float64 {
	switch {
	case mph < 2.0:
		return 2.8
	case mph < 2.5:
		return 3.0
	case mph < 3.0:
		return 3.5
	case mph < 3.5:
		return 4.3
	case mph < 4.0:
		return 5.0
	case mph < 4.5:
		return 7.0
	default:
		return 8.3
	}
}
