package recorder

import (
	"sync"
	"time"

	"go-trip-recorder/gps"
	"go-trip-recorder/trip"
)

// inboxSize bounds how far a source may run ahead of the recording loop.
const inboxSize = 64

type input struct {
	fix gps.Fix
	err error
}

// session is one trip in progress. Only the run goroutine touches trip,
// gate and smoother until done is closed; published and quality are guarded
// by the recorder mutex.
type session struct {
	r        *Recorder
	trip     *trip.State
	gate     *trip.Gate
	smoother *trip.Smoother

	inbox    chan input
	detached chan struct{}
	done     chan struct{}

	unsubscribe func()
	releaseOnce sync.Once

	lost      bool
	published *trip.Trip
	quality   Quality
}

func newSession(r *Recorder, ts *trip.State) *session {
	s := &session{
		r:        r,
		trip:     ts,
		gate:     trip.NewGate(r.cfg.QualityHorizonMeters),
		smoother: trip.NewSmoother(r.cfg.SmoothingWindow, r.cfg.EarthRadiusMeters),
		inbox:    make(chan input, inboxSize),
		detached: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.gate.Reset()
	s.smoother.Reset()
	return s
}

// onFix and onError run on source goroutines. They block while the inbox
// is full and return immediately once the session is detached.
func (s *session) onFix(f gps.Fix) {
	select {
	case s.inbox <- input{fix: f}:
	case <-s.detached:
	}
}

func (s *session) onError(err error) {
	if err == nil {
		return
	}
	select {
	case s.inbox <- input{err: err}:
	case <-s.detached:
	}
}

// release tears down the source subscription once.
func (s *session) release() {
	s.releaseOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// run is the recording loop. It exits when the session is detached, after
// handling whatever the source had already delivered.
func (s *session) run() {
	defer close(s.done)

	lostTimer := time.NewTimer(s.r.cfg.GPSLostAfter)
	defer lostTimer.Stop()

	for {
		select {
		case <-s.detached:
			for {
				select {
				case in := <-s.inbox:
					s.handle(in, lostTimer)
				default:
					return
				}
			}
		case in := <-s.inbox:
			s.handle(in, lostTimer)
		case <-lostTimer.C:
			s.markLost()
		}
	}
}

func (s *session) handle(in input, lostTimer *time.Timer) {
	if in.err != nil {
		s.sourceFailed(in.err)
		return
	}

	f := in.fix
	if err := s.gate.Check(f); err != nil {
		s.rejected(f, err)
		return
	}
	speed, heading := s.smoother.Derive(f)
	p := trip.NewPoint(f, speed, heading)
	if err := s.trip.Admit(p); err != nil {
		s.rejected(f, err)
		return
	}
	s.gate.MarkAdmitted(p.T)
	s.smoother.Push(p)

	if !lostTimer.Stop() {
		select {
		case <-lostTimer.C:
		default:
		}
	}
	lostTimer.Reset(s.r.cfg.GPSLostAfter)

	snap := s.trip.Snapshot()
	s.r.mu.Lock()
	if s.lost {
		s.lost = false
		s.r.logger.Info("gps fix restored", "trip_id", snap.ID)
	}
	s.quality.Admitted++
	s.quality.GPSLost = false
	s.published = &snap
	s.r.mu.Unlock()

	s.r.publish(func() Event { return s.r.sessionEvent(s, PointAdmitted, nil) })
}

func (s *session) rejected(f gps.Fix, err error) {
	reason, _ := trip.ReasonOf(err)
	s.r.mu.Lock()
	s.quality.count(reason)
	s.r.mu.Unlock()
	s.r.logger.Debug("fix rejected",
		"reason", reason,
		"accuracy_m", f.AccuracyMeters,
		"timestamp_ms", f.TimestampMs,
		"error", err,
	)
}

func (s *session) sourceFailed(err error) {
	code := gps.CodeOf(err)
	s.r.logger.Warn("geo source error", "code", code, "terminal", gps.IsTerminal(err), "error", err)
	if gps.IsTerminal(err) {
		// Unsubscribing waits for the source goroutines, which may be
		// blocked delivering to this loop.
		go s.release()
	}
	s.r.publish(func() Event { return s.r.sessionEvent(s, SourceFailed, err) })
}

// markLost reports GPS_LOST once per outage. The trip stays active and the
// published current speed reads zero until the next admit.
func (s *session) markLost() {
	s.r.mu.Lock()
	if s.lost {
		s.r.mu.Unlock()
		return
	}
	s.lost = true
	s.quality.GPSLost = true
	if s.published != nil {
		t := *s.published
		t.Stats.CurrentSpeedKph = 0
		s.published = &t
	}
	s.r.mu.Unlock()

	s.r.logger.Warn("gps lost", "trip_id", s.trip.ID(), "after", s.r.cfg.GPSLostAfter)
	s.r.publish(func() Event { return s.r.sessionEvent(s, GPSLost, nil) })
}
