// Package config loads the trip recorder configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"go-trip-recorder/geo"
	"go-trip-recorder/gps"
	"go-trip-recorder/recorder"
	"go-trip-recorder/store"
)

// Source kinds.
const (
	SourceSerial    = "serial"
	SourceReplay    = "replay"
	SourceSimulator = "simulator"
)

// Recording tunes the recording pipeline.
type Recording struct {
	QualityHorizonMeters float64 `toml:"quality_horizon_meters"`
	SmoothingWindow      int     `toml:"smoothing_window"`
	EarthRadiusMeters    float64 `toml:"earth_radius_meters"`
	GPSLostAfterMs       int64   `toml:"gps_lost_after_ms"`
	DriveType            string  `toml:"drive_type"`
}

// Serial configures an NMEA receiver on a serial port.
type Serial struct {
	Port          string  `toml:"port"`
	Baud          int     `toml:"baud"`
	UERE          float64 `toml:"uere_meters"`
	ReadTimeoutMs int64   `toml:"read_timeout_ms"`
}

// Replay configures playback of a recorded GPX track.
type Replay struct {
	GPXPath        string  `toml:"gpx_path"`
	Speed          float64 `toml:"speed"`
	Loop           bool    `toml:"loop"`
	AccuracyMeters float64 `toml:"accuracy_meters"`
}

// Simulator configures the synthetic receiver.
type Simulator struct {
	Latitude       float64 `toml:"latitude"`
	Longitude      float64 `toml:"longitude"`
	RadiusMeters   float64 `toml:"radius_meters"`
	Altitude       float64 `toml:"altitude_meters"`
	SpeedKnots     float64 `toml:"speed_knots"`
	Course         float64 `toml:"course"`
	Jitter         float64 `toml:"jitter"`
	AltitudeJitter float64 `toml:"altitude_jitter"`
	AccuracyMeters float64 `toml:"accuracy_meters"`
	TimeToLockMs   int64   `toml:"time_to_lock_ms"`
	OutputRateMs   int64   `toml:"output_rate_ms"`
}

// Source selects and configures the geo source.
type Source struct {
	Kind      string    `toml:"kind"`
	Serial    Serial    `toml:"serial"`
	Replay    Replay    `toml:"replay"`
	Simulator Simulator `toml:"simulator"`
}

// Store selects the persistence backing.
type Store struct {
	Backend       string `toml:"backend"`
	Path          string `toml:"path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

// Log contains configuration for log output.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Path   string `toml:"path"`
}

// Web configures the optional HTTP host.
type Web struct {
	Listen string `toml:"listen"`
}

// Config is the application configuration.
type Config struct {
	Recording Recording `toml:"recording"`
	Source    Source    `toml:"source"`
	Store     Store     `toml:"store"`
	Log       Log       `toml:"log"`
	Web       Web       `toml:"web"`
}

// Default returns the built-in configuration.
func Default() Config {
	rec := recorder.DefaultConfig()
	sim := gps.DefaultSimulatorConfig()
	return Config{
		Recording: Recording{
			QualityHorizonMeters: rec.QualityHorizonMeters,
			SmoothingWindow:      rec.SmoothingWindow,
			EarthRadiusMeters:    rec.EarthRadiusMeters,
			GPSLostAfterMs:       rec.GPSLostAfter.Milliseconds(),
		},
		Source: Source{
			Kind: SourceSerial,
			Serial: Serial{
				Port:          "/dev/ttyUSB0",
				Baud:          9600,
				UERE:          gps.DefaultUERE,
				ReadTimeoutMs: 5000,
			},
			Replay: Replay{Speed: 1, AccuracyMeters: 5},
			Simulator: Simulator{
				Latitude:       sim.Latitude,
				Longitude:      sim.Longitude,
				RadiusMeters:   sim.Radius,
				Altitude:       sim.Altitude,
				SpeedKnots:     sim.Speed,
				Course:         sim.Course,
				Jitter:         sim.Jitter,
				AltitudeJitter: sim.AltitudeJitter,
				AccuracyMeters: sim.AccuracyMeters,
				TimeToLockMs:   sim.TimeToLock.Milliseconds(),
				OutputRateMs:   sim.OutputRate.Milliseconds(),
			},
		},
		Store: Store{
			Backend:     store.BackendSQLite,
			Path:        "~/.local/share/trip-recorder/trips.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: store.DefaultRedisPrefix,
		},
		Log: Log{Level: "info", Format: "auto"},
		Web: Web{Listen: "127.0.0.1:8080"},
	}
}

// DefaultPath returns the default configuration file location.
func DefaultPath() (string, error) {
	return expandPath("~/.config/trip-recorder/config.toml")
}

// Load parses the file at path over the defaults. A missing file yields the
// defaults; the returned bool reports whether the file existed.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, false, err
		}
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, false, err
	}

	exists := true
	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return nil, false, fmt.Errorf("read config: %w", err)
	default:
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, exists, nil
}

// Write stores cfg as TOML at path, creating parent directories.
func Write(path string, cfg Config) error {
	resolved, err := expandPath(path)
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) normalize() error {
	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	var err error
	if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	if c.Log.Path, err = expandPath(c.Log.Path); err != nil {
		return fmt.Errorf("log.path: %w", err)
	}
	if c.Source.Replay.GPXPath, err = expandPath(c.Source.Replay.GPXPath); err != nil {
		return fmt.Errorf("source.replay.gpx_path: %w", err)
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	rc := c.RecorderConfig()
	if err := rc.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("recording: %w", err))
	}

	switch c.Source.Kind {
	case SourceSerial:
		if strings.TrimSpace(c.Source.Serial.Port) == "" {
			errs = append(errs, errors.New("source.serial.port is required"))
		}
		if c.Source.Serial.Baud <= 0 {
			errs = append(errs, errors.New("source.serial.baud must be positive"))
		}
	case SourceReplay:
		if c.Source.Replay.Speed <= 0 {
			errs = append(errs, fmt.Errorf("source.replay: %w", gps.ErrInvalidReplaySpeed))
		}
	case SourceSimulator:
		sim := c.SimulatorConfig()
		if err := sim.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("source.simulator: %w", err))
		} else if !geo.ValidCoordinate(sim.Latitude, sim.Longitude) {
			errs = append(errs, errors.New("source.simulator: invalid centre coordinate"))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind: unsupported value %q", c.Source.Kind))
	}

	switch c.Store.Backend {
	case store.BackendSQLite, store.BackendLog:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for %s", c.Store.Backend))
		}
	case store.BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: %w: %q", store.ErrUnknownBackend, c.Store.Backend))
	}

	switch c.Log.Format {
	case "", "auto", "console", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported value %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// RecorderConfig returns the recording pipeline settings.
func (c *Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		QualityHorizonMeters: c.Recording.QualityHorizonMeters,
		SmoothingWindow:      c.Recording.SmoothingWindow,
		EarthRadiusMeters:    c.Recording.EarthRadiusMeters,
		GPSLostAfter:         time.Duration(c.Recording.GPSLostAfterMs) * time.Millisecond,
	}
}

// StoreConfig returns the persistence settings.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Backend:       c.Store.Backend,
		Path:          c.Store.Path,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		RedisPrefix:   c.Store.RedisPrefix,
	}
}

// SimulatorConfig returns the simulated receiver settings.
func (c *Config) SimulatorConfig() gps.SimulatorConfig {
	s := c.Source.Simulator
	cfg := gps.DefaultSimulatorConfig()
	cfg.Latitude = s.Latitude
	cfg.Longitude = s.Longitude
	cfg.Radius = s.RadiusMeters
	cfg.Altitude = s.Altitude
	cfg.Speed = s.SpeedKnots
	cfg.Course = s.Course
	cfg.Jitter = s.Jitter
	cfg.AltitudeJitter = s.AltitudeJitter
	cfg.AccuracyMeters = s.AccuracyMeters
	cfg.TimeToLock = time.Duration(s.TimeToLockMs) * time.Millisecond
	cfg.OutputRate = time.Duration(s.OutputRateMs) * time.Millisecond
	return cfg
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}
