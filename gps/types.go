package gps

import "time"

// Fix is a raw location sample as reported by a source, before any quality
// gating. Optional values are nil when the device did not report them.
type Fix struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	AccuracyMeters float64  `json:"accuracy_meters"`
	TimestampMs    int64    `json:"timestamp_ms"`
	AltitudeMeters *float64 `json:"altitude_meters,omitempty"`
	HeadingDeg     *float64 `json:"heading_deg,omitempty"`
	SpeedMps       *float64 `json:"speed_mps,omitempty"`
}

// Time returns the fix timestamp as a UTC time.
func (f Fix) Time() time.Time {
	return time.UnixMilli(f.TimestampMs).UTC()
}

// Source produces an unbounded sequence of fixes. A source accepts a single
// subscriber at a time; the returned unsubscribe func releases every resource
// the subscription holds and may be called more than once.
type Source interface {
	Subscribe(onFix func(Fix), onError func(error)) (unsubscribe func(), err error)
}

// ScriptedFix is one step of a replay script: either a fix or an error,
// delivered Offset after the subscription starts.
type ScriptedFix struct {
	Offset time.Duration
	Fix    Fix
	Err    error
}

// Float returns a pointer to v, for filling optional Fix fields.
func Float(v float64) *float64 {
	return &v
}
