// Package trip holds the authoritative trip record and the pure pieces of the
// recording pipeline: quality gating, smoothing and statistics.
package trip

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go-trip-recorder/geo"
)

// DefaultQualityHorizonMeters is the accuracy above which fixes are rejected.
const DefaultQualityHorizonMeters = 50.0

// Point is an admitted sample. Points within a trip have strictly increasing T.
type Point struct {
	T              int64    `json:"t"` // ms since epoch
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	AccuracyMeters float64  `json:"accuracyMeters"`
	AltitudeMeters *float64 `json:"altitudeMeters,omitempty"`
	SpeedMps       float64  `json:"speedMps"`
	HeadingDeg     *float64 `json:"headingDeg"`
}

// Time returns the point timestamp as a UTC time.
func (p Point) Time() time.Time {
	return time.UnixMilli(p.T).UTC()
}

// Stats is a point-in-time statistics snapshot of a trip.
type Stats struct {
	DistanceMeters  float64  `json:"distanceMeters"`
	DurationMs      int64    `json:"durationMs"`
	AvgSpeedKph     float64  `json:"avgSpeedKph"`
	MaxSpeedKph     float64  `json:"maxSpeedKph"`
	CurrentSpeedKph float64  `json:"currentSpeedKph"`
	HeadingDeg      *float64 `json:"headingDeg"`
	PointCount      int      `json:"pointCount"`
}

// Trip is the ordered record of points bracketed by start and end times.
type Trip struct {
	ID                   string  `json:"id"`
	StartedAtMs          int64   `json:"startedAtMs"`
	EndedAtMs            *int64  `json:"endedAtMs"`
	QualityHorizonMeters float64 `json:"qualityHorizonMeters"`
	Points               []Point `json:"points"`
	Stats                Stats   `json:"stats"`
	DriveType            string  `json:"driveType,omitempty"`
	VideoFilename        string  `json:"videoFilename,omitempty"`
}

// Ended reports whether the trip has been finalized.
func (t Trip) Ended() bool {
	return t.EndedAtMs != nil
}

// StartedAt returns the start time in UTC.
func (t Trip) StartedAt() time.Time {
	return time.UnixMilli(t.StartedAtMs).UTC()
}

// Clone returns a deep copy of the trip.
func (t Trip) Clone() Trip {
	cp := t
	if t.EndedAtMs != nil {
		ended := *t.EndedAtMs
		cp.EndedAtMs = &ended
	}
	if t.Stats.HeadingDeg != nil {
		cp.Stats.HeadingDeg = float(*t.Stats.HeadingDeg)
	}
	if t.Points != nil {
		cp.Points = make([]Point, len(t.Points))
		for i, p := range t.Points {
			if p.AltitudeMeters != nil {
				p.AltitudeMeters = float(*p.AltitudeMeters)
			}
			if p.HeadingDeg != nil {
				p.HeadingDeg = float(*p.HeadingDeg)
			}
			cp.Points[i] = p
		}
	}
	return cp
}

// Validate checks the record invariants of CheckRecord and that the stored
// distance matches the points at earthRadius.
func (t Trip) Validate(earthRadius float64) error {
	err := t.CheckRecord()
	if d := Distance(t.Points, earthRadius); math.Abs(d-t.Stats.DistanceMeters) > DistanceTolerance {
		err = errors.Join(err, fmt.Errorf("stats distance %.3fm does not match points %.3fm", t.Stats.DistanceMeters, d))
	}
	return err
}

// CheckRecord checks the invariants that hold independently of the Earth
// radius: ordering, accuracy horizon, start and end bracketing, and speeds.
func (t Trip) CheckRecord() error {
	var errs []error
	if t.ID == "" {
		errs = append(errs, errors.New("missing id"))
	}
	if t.EndedAtMs != nil && *t.EndedAtMs < t.StartedAtMs {
		errs = append(errs, fmt.Errorf("ended %d before started %d", *t.EndedAtMs, t.StartedAtMs))
	}
	horizon := t.QualityHorizonMeters
	if horizon <= 0 {
		horizon = DefaultQualityHorizonMeters
	}
	for i, p := range t.Points {
		if err := checkPoint(p); err != nil {
			errs = append(errs, fmt.Errorf("point %d: %w", i, err))
		}
		if p.AccuracyMeters > horizon {
			errs = append(errs, fmt.Errorf("point %d: accuracy %.2fm exceeds horizon %.2fm", i, p.AccuracyMeters, horizon))
		}
		if i > 0 && p.T <= t.Points[i-1].T {
			errs = append(errs, fmt.Errorf("point %d: timestamp %d not after %d", i, p.T, t.Points[i-1].T))
		}
	}
	if t.Stats.AvgSpeedKph < 0 || t.Stats.MaxSpeedKph < t.Stats.AvgSpeedKph {
		errs = append(errs, fmt.Errorf("speeds out of order: max %.3f avg %.3f", t.Stats.MaxSpeedKph, t.Stats.AvgSpeedKph))
	}
	return errors.Join(errs...)
}

func checkPoint(p Point) error {
	if !geo.ValidCoordinate(p.Lat, p.Lon) {
		return fmt.Errorf("invalid coordinate %v,%v", p.Lat, p.Lon)
	}
	if !geo.Finite(p.AccuracyMeters) || p.AccuracyMeters < 0 {
		return fmt.Errorf("invalid accuracy %v", p.AccuracyMeters)
	}
	if !geo.Finite(p.SpeedMps) || p.SpeedMps < 0 {
		return fmt.Errorf("invalid speed %v", p.SpeedMps)
	}
	if p.HeadingDeg != nil && (!geo.Finite(*p.HeadingDeg) || *p.HeadingDeg < 0 || *p.HeadingDeg >= 360) {
		return fmt.Errorf("invalid heading %v", *p.HeadingDeg)
	}
	if p.AltitudeMeters != nil && !geo.Finite(*p.AltitudeMeters) {
		return fmt.Errorf("invalid altitude %v", *p.AltitudeMeters)
	}
	return nil
}

func float(v float64) *float64 {
	return &v
}
