package pkg

import "time"

// RejectionReason explains why a raw fix was excluded from the track.
type RejectionReason string

const (
	RejectNone             RejectionReason = ""
	RejectPoorAccuracy     RejectionReason = "poor_accuracy"
	RejectImplausibleSpeed RejectionReason = "implausible_speed"
	RejectOutOfOrder       RejectionReason = "out_of_order"
)

// Gender selects the coefficient set for physiological models.
type Gender string

const (
	GenderUnspecified Gender = ""
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
)

// RawFix is a single position reading as delivered by a location source.
// Immutable once created.
type RawFix struct {
	Timestamp          time.Time `json:"timestamp"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Altitude           float64   `json:"altitude"`
	HorizontalAccuracy float64   `json:"horizontal_accuracy"`
	VerticalAccuracy   float64   `json:"vertical_accuracy"`
	Speed              float64   `json:"speed"`
	Bearing            float64   `json:"bearing"`
	Source             string    `json:"source"`
}

// ValidatedFix is the validation pipeline's verdict on a RawFix, derived 1:1
// and never mutated afterwards. Elevation and Speed carry smoothed values.
type ValidatedFix struct {
	Timestamp    time.Time       `json:"timestamp"`
	Latitude     float64         `json:"latitude"`
	Longitude    float64         `json:"longitude"`
	Elevation    float64         `json:"elevation"`
	Speed        float64         `json:"speed"` // m/s, computed from displacement
	Accepted     bool            `json:"accepted"`
	Reason       RejectionReason `json:"rejection_reason,omitempty"`
	PaceValid    bool            `json:"pace_valid"`    // warmup distance gate passed
	SpeedOutlier bool            `json:"speed_outlier"` // recorded but excluded from current pace
}

// HeartRateSample is one heart-rate reading in beats per minute.
type HeartRateSample struct {
	Timestamp time.Time `json:"timestamp"`
	BPM       float64   `json:"bpm"`
}

// StepSample is one step-pulse reading (incremental step count).
type StepSample struct {
	Timestamp time.Time `json:"timestamp"`
	Steps     int       `json:"steps"`
}

// PressureSample is one barometric pressure reading in hectopascals.
type PressureSample struct {
	Timestamp time.Time `json:"timestamp"`
	HPa       float64   `json:"hpa"`
}

// TrackSnapshot is an immutable view of the session track. Snapshots are the
// only thing readers outside the ingest path ever see.
type TrackSnapshot struct {
	StartedAt        time.Time       `json:"started_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DistanceM        float64         `json:"distance_m"`
	ElevationGainM   float64         `json:"elevation_gain_m"`
	ElevationLossM   float64         `json:"elevation_loss_m"`
	CurrentSpeedMS   float64         `json:"current_speed_ms"` // windowed, 0 until warmup gate passes
	AvgSpeedMS       float64         `json:"avg_speed_ms"`
	LastLatitude     float64         `json:"last_latitude"`
	LastLongitude    float64         `json:"last_longitude"`
	LastElevation    float64         `json:"last_elevation"`
	AcceptedFixes    int             `json:"accepted_fixes"`
	RejectedFixes    int             `json:"rejected_fixes"`
	StepCount        int             `json:"step_count"`
	SplitDurations   []time.Duration `json:"split_durations"` // elapsed per completed kilometre
	PaceValid        bool            `json:"pace_valid"`
}

// Elapsed returns the wall time covered by the snapshot.
func (s TrackSnapshot) Elapsed() time.Duration {
	if s.StartedAt.IsZero() || s.UpdatedAt.Before(s.StartedAt) {
		return 0
	}
	return s.UpdatedAt.Sub(s.StartedAt)
}

// CurrentPaceSecPerKm converts the windowed speed to a pace, 0 if unknown.
func (s TrackSnapshot) CurrentPaceSecPerKm() float64 {
	if s.CurrentSpeedMS <= 0 {
		return 0
	}
	return 1000 / s.CurrentSpeedMS
}

// CalorieEstimate is the fused energy-expenditure estimate. Recomputed on
// demand from a snapshot; never persisted incrementally.
type CalorieEstimate struct {
	MechanicalKcal float64 `json:"mechanical_kcal"`
	HeartRateKcal  float64 `json:"heart_rate_kcal"`
	FusedKcal      float64 `json:"fused_kcal"`
	HRCoverage     float64 `json:"hr_coverage"` // 0..1 sampling coverage ratio
}

// ETAEstimate is the arrival estimate with its alternatives. All candidates
// are computed from the same remaining-distance snapshot.
type ETAEstimate struct {
	Primary      time.Duration            `json:"primary"`
	Confidence   float64                  `json:"confidence"` // 0..1
	Method       string                   `json:"method"`
	Alternatives map[string]time.Duration `json:"alternatives,omitempty"`
	RemainingM   float64                  `json:"remaining_m"`
}

// LifecycleState is the persisted session lifecycle. Only the resilience
// supervisor may transition it.
type LifecycleState string

const (
	StateIdle         LifecycleState = "idle"
	StateActive       LifecycleState = "active"
	StateSuspended    LifecycleState = "suspended"
	StateResurrecting LifecycleState = "resurrecting"
	StateStopped      LifecycleState = "stopped"
)

// SessionMeta is the durable metadata accompanying the lifecycle state.
type SessionMeta struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// SessionEvent is a lifecycle or ingest event surfaced to diagnostics and the
// live publish feed.
type SessionEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Reason    string                 `json:"reason,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
