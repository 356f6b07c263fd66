package trip

import (
	"time"

	"github.com/google/uuid"

	"go-trip-recorder/geo"
)

// Status is the lifecycle state of a trip record.
type Status int

const (
	Idle Status = iota
	Active
	Ended
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Active:
		return "ACTIVE"
	case Ended:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Options configures a new trip record.
type Options struct {
	QualityHorizonMeters float64
	EarthRadiusMeters    float64
	DriveType            string
	VideoFilename        string
	Now                  func() time.Time // defaults to time.Now
	NewID                func() string    // defaults to a random UUID
}

// State is the single writer of a trip record. It is not safe for
// concurrent use; the recorder serializes all access.
type State struct {
	status Status
	trip   Trip
	acc    accumulator
	now    func() time.Time
	radius float64
}

// Begin creates an ACTIVE trip with a fresh id and the current start time.
func Begin(opts Options) *State {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.QualityHorizonMeters <= 0 {
		opts.QualityHorizonMeters = DefaultQualityHorizonMeters
	}
	if opts.EarthRadiusMeters <= 0 {
		opts.EarthRadiusMeters = geo.EarthRadiusMeters
	}

	s := &State{
		status: Active,
		now:    opts.Now,
		radius: opts.EarthRadiusMeters,
		trip: Trip{
			ID:                   opts.NewID(),
			StartedAtMs:          opts.Now().UnixMilli(),
			QualityHorizonMeters: opts.QualityHorizonMeters,
			Points:               []Point{},
			DriveType:            opts.DriveType,
			VideoFilename:        opts.VideoFilename,
		},
	}
	s.acc.radius = s.radius
	return s
}

// Status returns the lifecycle state.
func (s *State) Status() Status {
	if s == nil {
		return Idle
	}
	return s.status
}

// ID returns the trip identifier.
func (s *State) ID() string {
	return s.trip.ID
}

// Len returns the number of admitted points.
func (s *State) Len() int {
	return len(s.trip.Points)
}

// Admit appends p when it keeps the record's invariants, returning a
// *RejectError otherwise. Admits after End fail with ErrClosed.
func (s *State) Admit(p Point) error {
	switch s.Status() {
	case Idle:
		return ErrNotActive
	case Ended:
		return ErrClosed
	}

	if err := checkPoint(p); err != nil {
		return reject(Malformed, "%v", err)
	}
	if p.AccuracyMeters > s.trip.QualityHorizonMeters {
		return reject(LowAccuracy, "accuracy %.4fm exceeds %.4fm", p.AccuracyMeters, s.trip.QualityHorizonMeters)
	}
	if n := len(s.trip.Points); n > 0 && p.T <= s.trip.Points[n-1].T {
		return reject(OutOfOrder, "timestamp %d not after %d", p.T, s.trip.Points[n-1].T)
	}

	s.trip.Points = append(s.trip.Points, p)
	s.acc.add(p)
	s.trip.Stats = s.acc.stats(s.trip, s.nowMs())
	return nil
}

// Stats returns the incrementally maintained statistics, with the duration
// measured up to now while the trip is active.
func (s *State) Stats() Stats {
	if s.status == Active {
		s.trip.Stats = s.acc.stats(s.trip, s.nowMs())
	}
	return s.trip.Stats
}

// Recompute returns statistics recalculated from every point.
func (s *State) Recompute() Stats {
	return Compute(s.trip, s.nowMs(), s.radius)
}

// Snapshot returns a view of the trip that later admits never modify. Points
// are append-only, so the view shares the admitted prefix instead of copying.
func (s *State) Snapshot() Trip {
	t := s.trip
	t.Stats = s.Stats()
	n := len(t.Points)
	t.Points = t.Points[:n:n]
	if t.EndedAtMs != nil {
		ended := *t.EndedAtMs
		t.EndedAtMs = &ended
	}
	return t
}

// End finalizes the trip. The end time never precedes the start or the last
// admitted point. End is terminal.
func (s *State) End() (Trip, error) {
	switch s.Status() {
	case Idle:
		return Trip{}, ErrNotActive
	case Ended:
		return Trip{}, ErrClosed
	}

	ended := s.nowMs()
	if ended < s.trip.StartedAtMs {
		ended = s.trip.StartedAtMs
	}
	if n := len(s.trip.Points); n > 0 && ended < s.trip.Points[n-1].T {
		ended = s.trip.Points[n-1].T
	}
	s.trip.EndedAtMs = &ended
	s.status = Ended
	s.trip.Stats = s.acc.stats(s.trip, ended)

	return s.trip.Clone(), nil
}

func (s *State) nowMs() int64 {
	return s.now().UnixMilli()
}
