// Package sensors defines the per-modality capability interfaces the ingest
// pipeline consumes, plus the bounded buffering and replay implementations.
//
// A missing capability (no barometer, no heart-rate strap) is a first-class
// not-available state: Available() returns false and the pipeline degrades to
// its documented fallback instead of failing.
package sensors

import (
	"context"

	"github.com/ruckmetrics/ruckd/pkg"
)

// LocationSource is a push stream of raw position fixes.
type LocationSource interface {
	Start(ctx context.Context) error
	Stop()
	Fixes() <-chan pkg.RawFix
	Available() bool
}

// BarometerSource is an optional push stream of pressure samples.
type BarometerSource interface {
	Start(ctx context.Context) error
	Stop()
	Pressures() <-chan pkg.PressureSample
	Available() bool
}

// StepSource is an optional push stream of incremental step counts.
type StepSource interface {
	Start(ctx context.Context) error
	Stop()
	Steps() <-chan pkg.StepSample
	Available() bool
}

// HeartRateSource is an optional push stream of heart-rate samples.
type HeartRateSource interface {
	Start(ctx context.Context) error
	Stop()
	Samples() <-chan pkg.HeartRateSample
	Available() bool
}

// Set bundles the capabilities supplied to a session. Optional members may
// be nil; the accessors fold nil into the not-available state.
type Set struct {
	Location  LocationSource
	Barometer BarometerSource
	Step      StepSource
	HeartRate HeartRateSource
}

// HasBarometer reports whether a barometric stream can be used.
func (s Set) HasBarometer() bool {
	return s.Barometer != nil && s.Barometer.Available()
}

// HasSteps reports whether a step stream can be used.
func (s Set) HasSteps() bool {
	return s.Step != nil && s.Step.Available()
}

// HasHeartRate reports whether a heart-rate stream can be used.
func (s Set) HasHeartRate() bool {
	return s.HeartRate != nil && s.HeartRate.Available()
}

// StopAll stops every present source. Safe on sources that never started.
func (s Set) StopAll() {
	if s.Location != nil {
		s.Location.Stop()
	}
	if s.Barometer != nil {
		s.Barometer.Stop()
	}
	if s.Step != nil {
		s.Step.Stop()
	}
	if s.HeartRate != nil {
		s.HeartRate.Stop()
	}
}
