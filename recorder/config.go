package recorder

import (
	"time"

	"go-trip-recorder/geo"
	"go-trip-recorder/trip"
)

// Config tunes the recording pipeline.
type Config struct {
	QualityHorizonMeters float64       // Fixes less accurate than this are rejected
	SmoothingWindow      int           // Admitted points used to smooth speed
	EarthRadiusMeters    float64       // Sphere radius for distance and speed
	GPSLostAfter         time.Duration // Silence before GPS_LOST is reported
}

// DefaultConfig returns the standard recording configuration.
func DefaultConfig() Config {
	return Config{
		QualityHorizonMeters: trip.DefaultQualityHorizonMeters,
		SmoothingWindow:      trip.DefaultSmoothingWindow,
		EarthRadiusMeters:    geo.EarthRadiusMeters,
		GPSLostAfter:         10 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !geo.Finite(c.QualityHorizonMeters) || c.QualityHorizonMeters <= 0 {
		return ErrInvalidHorizon
	}
	if c.SmoothingWindow < 2 {
		return ErrInvalidWindow
	}
	if !geo.Finite(c.EarthRadiusMeters) || c.EarthRadiusMeters <= 0 {
		return ErrInvalidEarthRadius
	}
	if c.GPSLostAfter <= 0 {
		return ErrInvalidGPSLostAfter
	}
	return nil
}
