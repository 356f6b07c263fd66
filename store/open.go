package store

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendLog    = "log"
	BackendRedis  = "redis"
)

// Config selects and configures a backing.
type Config struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open returns the backing named by cfg.Backend.
func Open(cfg Config, earthRadius float64, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSQLite:
		s, err := OpenSQLite(cfg.Path, SQLiteOptions{EarthRadiusMeters: earthRadius, Logger: logger})
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendLog:
		l, err := OpenLog(cfg.Path, LogOptions{EarthRadiusMeters: earthRadius, Logger: logger})
		if err != nil {
			return nil, err
		}
		return l, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedis(client, RedisOptions{
			Prefix:            cfg.RedisPrefix,
			EarthRadiusMeters: earthRadius,
			Logger:            logger,
			CloseClient:       true,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
