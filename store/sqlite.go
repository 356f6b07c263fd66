package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"go-trip-recorder/trip"
)

const (
	sqliteBusyCode          = 5
	sqliteConstraintCode    = 19
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS trips (
    id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    point_count INTEGER NOT NULL,
    record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trips_started_at ON trips(started_at DESC);`

// SQLite is a key-value backing in a single SQLite database file.
type SQLite struct {
	db    *sql.DB
	path  string
	codec codec

	mu     sync.Mutex
	closed bool
}

// SQLiteOptions configures OpenSQLite.
type SQLiteOptions struct {
	EarthRadiusMeters float64
	Logger            *slog.Logger
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, opts SQLiteOptions) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, writeFailed(fmt.Errorf("ensure store dir: %w", err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, readFailed(fmt.Errorf("open sqlite db: %w", err))
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, readFailed(fmt.Errorf("apply pragma %q: %w", pragma, execErr))
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, corrupt(fmt.Errorf("apply schema: %w", err))
	}

	return &SQLite{
		db:    db,
		path:  path,
		codec: newCodec(opts.EarthRadiusMeters, opts.Logger),
	}, nil
}

// Path returns the database file location.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLite) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *SQLite) Add(ctx context.Context, t trip.Trip) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := checkID(t.ID); err != nil {
		return err
	}
	data, err := s.codec.encode(t)
	if err != nil {
		return err
	}

	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO trips (id, started_at, point_count, record) VALUES (?, ?, ?, ?)`,
			t.ID, t.StartedAtMs, len(t.Points), string(data))
		return execErr
	})
	if isConstraint(err) {
		return fmt.Errorf("add trip %q: %w", t.ID, ErrDuplicateID)
	}
	if err != nil {
		return writeFailed(fmt.Errorf("insert trip %q: %w", t.ID, err))
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (trip.Trip, error) {
	if err := s.checkOpen(); err != nil {
		return trip.Trip{}, err
	}

	var record string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT record FROM trips WHERE id = ?`, id).Scan(&record)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return trip.Trip{}, fmt.Errorf("get trip %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return trip.Trip{}, readFailed(fmt.Errorf("get trip %q: %w", id, err))
	}

	t, ok := s.codec.decode(id, []byte(record))
	if !ok {
		return trip.Trip{}, fmt.Errorf("get trip %q: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *SQLite) Update(ctx context.Context, id string, t trip.Trip) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if t.ID != id {
		return writeFailed(fmt.Errorf("update trip %q: record id is %q", id, t.ID))
	}
	data, err := s.codec.encode(t)
	if err != nil {
		return err
	}

	var affected int64
	err = retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE trips SET started_at = ?, point_count = ?, record = ? WHERE id = ?`,
			t.StartedAtMs, len(t.Points), string(data), id)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return writeFailed(fmt.Errorf("update trip %q: %w", id, err))
	}
	if affected == 0 {
		return fmt.Errorf("update trip %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return writeFailed(fmt.Errorf("delete trip %q: %w", id, err))
	}
	if affected == 0 {
		return fmt.Errorf("delete trip %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM trips`)
		return execErr
	}); err != nil {
		return writeFailed(fmt.Errorf("clear trips: %w", err))
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]trip.Trip, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var trips []trip.Trip
	err := retryOnBusy(ctx, func() error {
		trips = trips[:0]
		rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM trips ORDER BY started_at DESC, id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id, record string
			if err := rows.Scan(&id, &record); err != nil {
				return err
			}
			if t, ok := s.codec.decode(id, []byte(record)); ok {
				trips = append(trips, t)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, readFailed(fmt.Errorf("list trips: %w", err))
	}
	sortTrips(trips)
	return trips, nil
}

// Stats counts only records that decode, matching List.
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	if err := s.checkOpen(); err != nil {
		return Stats{}, err
	}

	var st Stats
	err := retryOnBusy(ctx, func() error {
		st = Stats{}
		rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM trips`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id, record string
			if err := rows.Scan(&id, &record); err != nil {
				return err
			}
			if t, ok := s.codec.decode(id, []byte(record)); ok {
				st.TripCount++
				st.TotalPoints += len(t.Points)
				st.Bytes += int64(len(record))
			}
		}
		return rows.Err()
	})
	if err != nil {
		return Stats{}, readFailed(fmt.Errorf("trip stats: %w", err))
	}
	return st, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isConstraint(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteConstraintCode {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
