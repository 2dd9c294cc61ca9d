package calories

import (
	"math"
	"testing"
	"time"

	"github.com/ruckmetrics/ruckd/pkg"
)

func testSnapshot(distanceM, gainM float64, elapsed time.Duration) pkg.TrackSnapshot {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	return pkg.TrackSnapshot{
		StartedAt:      start,
		UpdatedAt:      start.Add(elapsed),
		DistanceM:      distanceM,
		ElevationGainM: gainM,
	}
}

func testParams() Params {
	return Params{
		BodyWeightKg: 80,
		PackWeightKg: 15,
		Gender:       pkg.GenderMale,
		Age:          35,
	}
}

func hrSeries(start time.Time, interval time.Duration, bpm float64, n int) []pkg.HeartRateSample {
	out := make([]pkg.HeartRateSample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, pkg.HeartRateSample{
			Timestamp: start.Add(time.Duration(i) * interval),
			BPM:       bpm,
		})
	}
	return out
}

func TestEstimateNoHeartRateEqualsMechanical(t *testing.T) {
	snap := testSnapshot(5000, 80, time.Hour)

	est := Estimate(snap, testParams(), nil)

	if est.MechanicalKcal <= 0 {
		t.Fatalf("expected positive mechanical estimate, got %f", est.MechanicalKcal)
	}
	if est.FusedKcal != est.MechanicalKcal {
		t.Errorf("fused %f should equal mechanical %f with no HR samples", est.FusedKcal, est.MechanicalKcal)
	}
	if est.HRCoverage != 0 {
		t.Errorf("expected zero HR coverage, got %f", est.HRCoverage)
	}
}

func TestEstimateZeroPackAndFlatStillPositive(t *testing.T) {
	snap := testSnapshot(4000, 0, time.Hour)
	params := testParams()
	params.PackWeightKg = 0

	est := Estimate(snap, params, nil)

	if est.MechanicalKcal <= 0 {
		t.Errorf("bodyweight-only flat session must still burn calories, got %f", est.MechanicalKcal)
	}
}

func TestEstimateFusionWeighting(t *testing.T) {
	snap := testSnapshot(5000, 50, time.Hour)
	params := testParams()
	start := snap.StartedAt

	// Full coverage at the expected density.
	full := hrSeries(start, 5*time.Second, 145, 720)
	est := Estimate(snap, params, full)

	if est.HRCoverage < 0.99 {
		t.Fatalf("expected full coverage, got %f", est.HRCoverage)
	}
	if est.HeartRateKcal <= 0 {
		t.Fatalf("expected positive HR estimate, got %f", est.HeartRateKcal)
	}

	// w at full coverage is HRWeightMax.
	want := 0.9*est.HeartRateKcal + 0.1*est.MechanicalKcal
	if math.Abs(est.FusedKcal-want) > 0.5 {
		t.Errorf("fused = %f, want %f", est.FusedKcal, want)
	}

	// Sparse coverage pulls the weight toward the floor.
	sparse := hrSeries(start, 5*time.Minute, 145, 12)
	sparseEst := Estimate(snap, params, sparse)
	if sparseEst.HRCoverage >= est.HRCoverage {
		t.Errorf("sparse coverage %f should be below full coverage %f", sparseEst.HRCoverage, est.HRCoverage)
	}
}

func TestEstimateFemaleCoefficients(t *testing.T) {
	snap := testSnapshot(5000, 50, time.Hour)
	start := snap.StartedAt
	hr := hrSeries(start, 5*time.Second, 145, 720)

	male := testParams()
	female := testParams()
	female.Gender = pkg.GenderFemale
	female.BodyWeightKg = male.BodyWeightKg

	m := Estimate(snap, male, hr)
	f := Estimate(snap, female, hr)

	if f.HeartRateKcal >= m.HeartRateKcal {
		t.Errorf("female HR estimate %f should be below male %f at equal weight and HR", f.HeartRateKcal, m.HeartRateKcal)
	}
}

func TestEstimateUnspecifiedGenderUsesMalePattern(t *testing.T) {
	snap := testSnapshot(5000, 50, time.Hour)
	hr := hrSeries(snap.StartedAt, 5*time.Second, 145, 720)

	male := testParams()
	unspecified := testParams()
	unspecified.Gender = pkg.GenderUnspecified

	m := Estimate(snap, male, hr)
	u := Estimate(snap, unspecified, hr)

	if m.HeartRateKcal != u.HeartRateKcal {
		t.Errorf("unspecified gender HR estimate %f should match male pattern %f", u.HeartRateKcal, m.HeartRateKcal)
	}
}

func TestEstimateActiveOnlySubtractsBasal(t *testing.T) {
	snap := testSnapshot(5000, 50, time.Hour)

	gross := Estimate(snap, testParams(), nil)

	active := testParams()
	active.ActiveOnly = true
	net := Estimate(snap, active, nil)

	if net.FusedKcal >= gross.FusedKcal {
		t.Errorf("active-only %f should be below gross %f", net.FusedKcal, gross.FusedKcal)
	}
	if net.FusedKcal < 0 {
		t.Errorf("active-only estimate must not go negative, got %f", net.FusedKcal)
	}
}

func TestEstimateStationaryNearZero(t *testing.T) {
	// 10 meters of drift over an hour; the clamped walking speed must not be
	// billed for the whole duration.
	snap := testSnapshot(10, 0, time.Hour)

	est := Estimate(snap, testParams(), nil)

	// A real hour of slow walking at the clamp would be well over 150 kcal.
	if est.MechanicalKcal > 10 {
		t.Errorf("stationary session estimate too high: %f kcal", est.MechanicalKcal)
	}
	if est.MechanicalKcal < 0 {
		t.Errorf("estimate must not be negative, got %f", est.MechanicalKcal)
	}
}

func TestEstimateZeroElapsed(t *testing.T) {
	var snap pkg.TrackSnapshot

	est := Estimate(snap, testParams(), nil)

	if est.FusedKcal != 0 || est.MechanicalKcal != 0 {
		t.Errorf("zero-elapsed session should estimate zero, got %+v", est)
	}
}

func TestEstimateGradeIncreasesBurn(t *testing.T) {
	flat := testSnapshot(5000, 0, time.Hour)
	hilly := testSnapshot(5000, 400, time.Hour)

	f := Estimate(flat, testParams(), nil)
	h := Estimate(hilly, testParams(), nil)

	if h.MechanicalKcal <= f.MechanicalKcal {
		t.Errorf("climbing estimate %f should exceed flat %f", h.MechanicalKcal, f.MechanicalKcal)
	}
}

func TestEstimateTerrainMultiplier(t *testing.T) {
	snap := testSnapshot(5000, 50, time.Hour)

	pavement := testParams()
	sand := testParams()
	sand.TerrainMultiplier = 1.8

	p := Estimate(snap, pavement, nil)
	s := Estimate(snap, sand, nil)

	if s.MechanicalKcal <= p.MechanicalKcal {
		t.Errorf("sand estimate %f should exceed pavement %f", s.MechanicalKcal, p.MechanicalKcal)
	}
}

func TestHeartRateGapCapped(t *testing.T) {
	snap := testSnapshot(5000, 50, time.Hour)
	start := snap.StartedAt

	// Two samples 30 minutes apart must not be billed as 30 minutes of energy.
	gapped := []pkg.HeartRateSample{
		{Timestamp: start, BPM: 150},
		{Timestamp: start.Add(30 * time.Minute), BPM: 150},
	}
	dense := hrSeries(start, 5*time.Second, 150, 360) // ~30 minutes dense

	g := Estimate(snap, testParams(), gapped)
	d := Estimate(snap, testParams(), dense)

	if g.HeartRateKcal >= d.HeartRateKcal {
		t.Errorf("gapped series %f should integrate less energy than dense series %f", g.HeartRateKcal, d.HeartRateKcal)
	}
}

func TestEstimateMET(t *testing.T) {
	t.Run("moderate pace", func(t *testing.T) {
		snap := testSnapshot(5600, 0, time.Hour) // ~3.5 mph
		kcal := EstimateMET(snap, testParams())
		if kcal <= 0 {
			t.Fatalf("expected positive MET estimate, got %f", kcal)
		}
	})

	t.Run("load raises burn", func(t *testing.T) {
		snap := testSnapshot(5600, 0, time.Hour)
		light := testParams()
		light.PackWeightKg = 0
		heavy := testParams()
		heavy.PackWeightKg = 25

		if EstimateMET(snap, heavy) <= EstimateMET(snap, light) {
			t.Error("heavier pack should raise the MET estimate")
		}
	})

	t.Run("gender scaling", func(t *testing.T) {
		snap := testSnapshot(5600, 0, time.Hour)
		male := testParams()
		female := testParams()
		female.Gender = pkg.GenderFemale
		unspecified := testParams()
		unspecified.Gender = pkg.GenderUnspecified

		m := EstimateMET(snap, male)
		f := EstimateMET(snap, female)
		u := EstimateMET(snap, unspecified)

		if !(f < u && u < m) {
			t.Errorf("expected female < unspecified < male, got %f %f %f", f, u, m)
		}
	})

	t.Run("steep descent costs energy", func(t *testing.T) {
		gentle := pkg.TrackSnapshot{
			StartedAt:      time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
			UpdatedAt:      time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
			DistanceM:      5000,
			ElevationLossM: 250, // -5% grade
		}
		steep := gentle
		steep.ElevationLossM = 1000 // -20% grade

		if EstimateMET(steep, testParams()) <= EstimateMET(gentle, testParams()) {
			t.Error("braking on a steep descent should cost more than a gentle one")
		}
	})
}
