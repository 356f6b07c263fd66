package gps

import (
	"io"
	"time"
)

// SimulatorConfig holds all configuration options for the simulated receiver
type SimulatorConfig struct {
	Latitude       float64
	Longitude      float64
	Radius         float64 // in meters
	Altitude       float64 // starting altitude in meters
	Jitter         float64 // GPS jitter factor (0.0-1.0)
	AltitudeJitter float64 // altitude jitter factor (0.0-1.0)
	Speed          float64 // static speed in knots
	Course         float64 // static course in degrees (0-359)
	AccuracyMeters float64 // reported horizontal accuracy
	Satellites     int     // reported in mirrored GGA sentences
	TimeToLock     time.Duration
	OutputRate     time.Duration
	NMEAWriter     io.Writer // optional mirror of every emitted fix as NMEA
}

// DefaultSimulatorConfig returns a configuration with sensible defaults
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Latitude:       37.7749, // San Francisco
		Longitude:      -122.4194,
		Radius:         100.0,
		Altitude:       45.0,
		Jitter:         0.0,
		AltitudeJitter: 0.0,
		Speed:          0.0,
		Course:         0.0,
		AccuracyMeters: 5.0,
		Satellites:     8,
		TimeToLock:     2 * time.Second,
		OutputRate:     1 * time.Second,
	}
}

// Validate checks if the configuration is valid and returns an error if not
func (c *SimulatorConfig) Validate() error {
	if c.Radius < 0 {
		return ErrInvalidRadius
	}
	if c.Jitter < 0.0 || c.Jitter > 1.0 {
		return ErrInvalidJitter
	}
	if c.AltitudeJitter < 0.0 || c.AltitudeJitter > 1.0 {
		return ErrInvalidAltitudeJitter
	}
	if c.Speed < 0.0 {
		return ErrInvalidSpeed
	}
	if c.Course < 0.0 || c.Course >= 360.0 {
		return ErrInvalidCourse
	}
	if c.AccuracyMeters < 0 {
		return ErrInvalidAccuracy
	}
	if c.OutputRate <= 0 {
		return ErrInvalidOutputRate
	}
	return nil
}
