package trip

import (
	"go-trip-recorder/geo"
	"go-trip-recorder/gps"
)

// Gate drops fixes that are too inaccurate, incomplete or out of order. The
// only state it keeps is the timestamp of the last admitted fix.
type Gate struct {
	horizon float64
	lastMs  int64
	hasLast bool
}

// NewGate creates a gate with the given quality horizon in meters. A horizon
// <= 0 selects DefaultQualityHorizonMeters.
func NewGate(horizon float64) *Gate {
	if horizon <= 0 {
		horizon = DefaultQualityHorizonMeters
	}
	return &Gate{horizon: horizon}
}

// Horizon returns the configured quality horizon.
func (g *Gate) Horizon() float64 {
	return g.horizon
}

// Check returns nil when the fix may be admitted, or a *RejectError.
// Accuracy exactly at the horizon passes.
func (g *Gate) Check(f gps.Fix) error {
	if !geo.ValidCoordinate(f.Latitude, f.Longitude) {
		return reject(Malformed, "invalid coordinate %v,%v", f.Latitude, f.Longitude)
	}
	if !geo.Finite(f.AccuracyMeters) || f.AccuracyMeters < 0 {
		return reject(Malformed, "invalid accuracy %v", f.AccuracyMeters)
	}
	if f.TimestampMs <= 0 {
		return reject(Malformed, "missing timestamp")
	}
	if f.AccuracyMeters > g.horizon {
		return reject(LowAccuracy, "accuracy %.4fm exceeds %.4fm", f.AccuracyMeters, g.horizon)
	}
	if g.hasLast && f.TimestampMs <= g.lastMs {
		return reject(OutOfOrder, "timestamp %d not after %d", f.TimestampMs, g.lastMs)
	}
	return nil
}

// MarkAdmitted records ts as the last admitted timestamp.
func (g *Gate) MarkAdmitted(ts int64) {
	g.lastMs = ts
	g.hasLast = true
}

// Reset forgets the last admitted timestamp; called when a trip starts.
func (g *Gate) Reset() {
	g.lastMs = 0
	g.hasLast = false
}
