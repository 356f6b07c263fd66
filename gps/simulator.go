package gps

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go-trip-recorder/geo"
)

// Simulator is a synthetic receiver that wanders around a centre point. It
// reports POSITION_UNAVAILABLE until it has locked, then emits one fix per
// output interval.
type Simulator struct {
	mu             sync.Mutex
	config         SimulatorConfig
	currentLat     float64
	currentLon     float64
	currentAlt     float64
	currentSpeed   float64 // Current speed with jitter applied (knots)
	currentCourse  float64 // Current course with jitter applied (degrees)
	isLocked       bool
	lockTime       time.Time
	lastUpdateTime time.Time
	g              guard
}

// NewSimulator creates a new simulated receiver
func NewSimulator(config SimulatorConfig) (*Simulator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{
		config:        config,
		currentLat:    config.Latitude,
		currentLon:    config.Longitude,
		currentAlt:    config.Altitude,
		currentSpeed:  config.Speed,
		currentCourse: config.Course,
	}, nil
}

// Subscribe starts the simulation clock.
func (s *Simulator) Subscribe(onFix func(Fix), onError func(error)) (func(), error) {
	if err := s.g.acquire(); err != nil {
		return nil, err
	}

	now := time.Now()
	s.mu.Lock()
	s.isLocked = false
	s.lockTime = now.Add(s.config.TimeToLock)
	s.lastUpdateTime = now
	s.mu.Unlock()

	sub := newSubscription(&s.g, nil)
	sub.goRun(func(ctx context.Context) {
		s.run(ctx, onFix, onError)
	})
	return sub.stop, nil
}

// run is the main simulation loop
func (s *Simulator) run(ctx context.Context, onFix func(Fix), onError func(error)) {
	ticker := time.NewTicker(s.config.OutputRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fix, locked := s.update(now)
			if !locked {
				if s.config.NMEAWriter != nil {
					fmt.Fprint(s.config.NMEAWriter, FormatVoidRMC(now))
				}
				if onError != nil {
					onError(NewSourceError(PositionUnavailable, errors.New("simulator acquiring lock")))
				}
				continue
			}
			if s.config.NMEAWriter != nil {
				fmt.Fprint(s.config.NMEAWriter, FormatGGA(fix, s.config.Satellites, DefaultUERE))
				fmt.Fprint(s.config.NMEAWriter, FormatRMC(fix))
			}
			if onFix != nil {
				onFix(fix)
			}
		}
	}
}

// update advances the simulation to now and returns the current fix.
func (s *Simulator) update(now time.Time) (Fix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isLocked && !now.Before(s.lockTime) {
		s.isLocked = true
		s.lastUpdateTime = now
	}
	if !s.isLocked {
		return Fix{}, false
	}

	s.updateSpeedAndCourse()
	s.updatePosition(now)
	s.updateAltitude()

	return Fix{
		Latitude:       s.currentLat,
		Longitude:      s.currentLon,
		AccuracyMeters: s.config.AccuracyMeters,
		TimestampMs:    now.UnixMilli(),
		AltitudeMeters: Float(s.currentAlt),
		HeadingDeg:     Float(s.currentCourse),
		SpeedMps:       Float(s.currentSpeed * knotsToMps),
	}, true
}

// updateSpeedAndCourse applies jitter to speed and course
func (s *Simulator) updateSpeedAndCourse() {
	var speedVariation, courseVariation float64

	if s.config.Jitter == 0.0 {
		speedVariation = 0.0
		courseVariation = 0.0
	} else if s.config.Jitter < 0.2 {
		speedVariation = 0.05
		courseVariation = 2.0
	} else if s.config.Jitter < 0.7 {
		speedVariation = 0.10 + (s.config.Jitter-0.2)*0.40
		courseVariation = 5.0 + (s.config.Jitter-0.2)*20.0
	} else {
		speedVariation = 0.30 + (s.config.Jitter-0.7)*0.67
		courseVariation = 15.0 + (s.config.Jitter-0.7)*50.0
	}

	speedDelta := (rand.Float64() - 0.5) * 2 * s.config.Speed * speedVariation
	s.currentSpeed = s.config.Speed + speedDelta
	if s.currentSpeed < 0 {
		s.currentSpeed = 0
	}

	courseDelta := (rand.Float64() - 0.5) * 2 * courseVariation
	s.currentCourse = geo.NormalizeDegrees(s.config.Course + courseDelta)
}

// updatePosition moves the receiver along its course, keeping it inside the radius
func (s *Simulator) updatePosition(now time.Time) {
	deltaTime := now.Sub(s.lastUpdateTime).Seconds()
	s.lastUpdateTime = now
	if deltaTime <= 0 {
		return
	}

	distanceMeters := s.currentSpeed * knotsToMps * deltaTime
	newLat, newLon := geo.Destination(s.currentLat, s.currentLon, distanceMeters, s.currentCourse, geo.EarthRadiusMeters)

	if s.distanceFromCenter(newLat, newLon) > s.config.Radius {
		if s.config.Jitter > 0.5 {
			// High jitter: bounce off the boundary with a random course change
			s.currentCourse = geo.NormalizeDegrees(s.currentCourse + (rand.Float64()-0.5)*60.0)
			newLat, newLon = geo.Destination(s.currentLat, s.currentLon, distanceMeters, s.currentCourse, geo.EarthRadiusMeters)
		} else {
			// Low jitter: clamp to the boundary
			bearing := geo.Bearing(s.config.Latitude, s.config.Longitude, newLat, newLon)
			newLat, newLon = geo.Destination(s.config.Latitude, s.config.Longitude, s.config.Radius, bearing, geo.EarthRadiusMeters)
		}
	}

	s.currentLat = newLat
	s.currentLon = newLon
}

// updateAltitude applies altitude jitter
func (s *Simulator) updateAltitude() {
	if s.config.AltitudeJitter <= 0 {
		return
	}
	maxChange := 1.0 + (s.config.AltitudeJitter * 20.0)
	newAltitude := s.currentAlt + (rand.Float64()-0.5)*2*maxChange

	minAltitude := s.config.Altitude - 100.0
	maxAltitude := s.config.Altitude + 500.0
	if minAltitude < -50.0 {
		minAltitude = -50.0
	}

	if newAltitude < minAltitude {
		newAltitude = minAltitude
	} else if newAltitude > maxAltitude {
		newAltitude = maxAltitude
	}
	s.currentAlt = newAltitude
}

// distanceFromCenter calculates distance from the configured center point
func (s *Simulator) distanceFromCenter(lat, lon float64) float64 {
	return geo.Distance(s.config.Latitude, s.config.Longitude, lat, lon, geo.EarthRadiusMeters)
}
