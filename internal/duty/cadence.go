package duty

import (
	"time"

	"responderd/internal/telemetry"
)

// Cadence is the capture configuration derived from a duty state. A zero
// Interval means capture is disabled entirely.
type Cadence struct {
	Interval       time.Duration
	DistanceMeters float64
	Accuracy       telemetry.Accuracy
}

// Enabled reports whether this cadence requests any capture at all.
func (c Cadence) Enabled() bool {
	return c.Interval > 0
}

// Defaults holds the production cadence table: OnDuty paces for an
// available-but-waiting responder, OnMission for active incident response.
var Defaults = map[State]Cadence{
	OffDuty: {
		Accuracy: telemetry.AccuracyBalanced,
	},
	OnDuty: {
		Interval:       60 * time.Second,
		DistanceMeters: 50,
		Accuracy:       telemetry.AccuracyBalanced,
	},
	OnMission: {
		Interval:       15 * time.Second,
		DistanceMeters: 20,
		Accuracy:       telemetry.AccuracyHigh,
	},
}
