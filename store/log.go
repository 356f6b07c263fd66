package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"go-trip-recorder/trip"
)

const (
	opPut    = "put"
	opDelete = "delete"

	lockRetryDelay = 10 * time.Millisecond
	// compactAfter is the number of superseded entries that triggers a rewrite.
	compactAfter = 64
)

// maxLogLine bounds a single entry; longer lines are skipped on load.
var maxLogLine = 64 << 20

// Log is an ordered-log backing: an append-only JSON-lines file in which the
// last entry for an id wins. A sidecar lock file serializes writers across
// processes.
type Log struct {
	path  string
	lock  *flock.Flock
	codec codec

	mu     sync.Mutex
	closed bool
}

// LogOptions configures OpenLog.
type LogOptions struct {
	EarthRadiusMeters float64
	Logger            *slog.Logger
}

type logEntry struct {
	Op   string          `json:"op"`
	ID   string          `json:"id"`
	Trip json.RawMessage `json:"trip,omitempty"`
}

// logState is the replayed content of the log.
type logState struct {
	records map[string]json.RawMessage
	order   []string
	ordered map[string]bool
	entries int
}

func (s *logState) live() []string {
	ids := make([]string, 0, len(s.records))
	for _, id := range s.order {
		if _, ok := s.records[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// OpenLog opens or creates the log at path.
func OpenLog(path string, opts LogOptions) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, writeFailed(fmt.Errorf("ensure store dir: %w", err))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, readFailed(fmt.Errorf("open trip log %s: %w", path, err))
	}
	_ = f.Close()

	return &Log{
		path:  path,
		lock:  flock.New(path + ".lock"),
		codec: newCodec(opts.EarthRadiusMeters, opts.Logger),
	}, nil
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Close releases the lock file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.lock.Close()
}

// withLock runs fn holding the in-process mutex and the cross-process file
// lock. Shared locks are used for reads.
func (l *Log) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = l.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = l.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil || !ok {
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return readFailed(fmt.Errorf("lock trip log: %w", err))
	}
	defer func() { _ = l.lock.Unlock() }()
	return fn()
}

func (l *Log) load() (*logState, error) {
	state := &logState{records: make(map[string]json.RawMessage), ordered: make(map[string]bool)}

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return nil, readFailed(fmt.Errorf("open trip log: %w", err))
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	line := 0
	for {
		raw, oversized, err := readLogLine(r, maxLogLine)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readFailed(fmt.Errorf("read trip log: %w", err))
		}
		line++
		if oversized {
			state.entries++
			l.codec.logger.Warn("dropping oversized trip log entry", "path", l.path, "line", line, "limit", maxLogLine)
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		state.entries++

		var e logEntry
		if err := json.Unmarshal(raw, &e); err != nil || e.ID == "" {
			l.codec.logger.Warn("dropping malformed trip log entry", "path", l.path, "line", line, "error", err)
			continue
		}
		switch e.Op {
		case opPut:
			if !state.ordered[e.ID] {
				state.ordered[e.ID] = true
				state.order = append(state.order, e.ID)
			}
			state.records[e.ID] = append(json.RawMessage(nil), e.Trip...)
		case opDelete:
			delete(state.records, e.ID)
		default:
			l.codec.logger.Warn("dropping unknown trip log entry", "path", l.path, "line", line, "op", e.Op)
		}
	}
	return state, nil
}

// readLogLine returns the next line without its terminator. Lines longer than
// limit are consumed and reported as oversized with no content. io.EOF is
// returned only when no further line exists.
func readLogLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var (
		line      []byte
		oversized bool
		started   bool
	)
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && started {
				return line, oversized, nil
			}
			return nil, false, err
		}
		started = true
		if !oversized {
			if len(line)+len(chunk) > limit {
				oversized = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, oversized, nil
		}
	}
}

func (l *Log) append(e logEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return writeFailed(fmt.Errorf("encode log entry: %w", err))
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return writeFailed(fmt.Errorf("open trip log: %w", err))
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return writeFailed(fmt.Errorf("append trip log: %w", err))
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return writeFailed(fmt.Errorf("sync trip log: %w", err))
	}
	if err := f.Close(); err != nil {
		return writeFailed(fmt.Errorf("close trip log: %w", err))
	}
	return nil
}

// rewrite replaces the log with one put entry per live record.
func (l *Log) rewrite(state *logState) error {
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return writeFailed(fmt.Errorf("create compacted log: %w", err))
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, id := range state.live() {
		line, err := json.Marshal(logEntry{Op: opPut, ID: id, Trip: state.records[id]})
		if err != nil {
			_ = tmp.Close()
			return writeFailed(fmt.Errorf("encode log entry: %w", err))
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return writeFailed(fmt.Errorf("write compacted log: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return writeFailed(fmt.Errorf("sync compacted log: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return writeFailed(fmt.Errorf("close compacted log: %w", err))
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return writeFailed(fmt.Errorf("replace trip log: %w", err))
	}
	return nil
}

func (l *Log) maybeCompact(state *logState) error {
	if dead := state.entries - len(state.records); dead < compactAfter || dead < len(state.records) {
		return nil
	}
	return l.rewrite(state)
}

func (l *Log) Add(ctx context.Context, t trip.Trip) error {
	if err := checkID(t.ID); err != nil {
		return err
	}
	data, err := l.codec.encode(t)
	if err != nil {
		return err
	}
	return l.withLock(ctx, true, func() error {
		state, err := l.load()
		if err != nil {
			return err
		}
		if _, exists := state.records[t.ID]; exists {
			return fmt.Errorf("add trip %q: %w", t.ID, ErrDuplicateID)
		}
		return l.append(logEntry{Op: opPut, ID: t.ID, Trip: data})
	})
}

func (l *Log) Get(ctx context.Context, id string) (trip.Trip, error) {
	var out trip.Trip
	err := l.withLock(ctx, false, func() error {
		state, err := l.load()
		if err != nil {
			return err
		}
		raw, ok := state.records[id]
		if !ok {
			return fmt.Errorf("get trip %q: %w", id, ErrNotFound)
		}
		t, ok := l.codec.decode(id, raw)
		if !ok {
			return fmt.Errorf("get trip %q: %w", id, ErrNotFound)
		}
		out = t
		return nil
	})
	return out, err
}

func (l *Log) Update(ctx context.Context, id string, t trip.Trip) error {
	if t.ID != id {
		return writeFailed(fmt.Errorf("update trip %q: record id is %q", id, t.ID))
	}
	data, err := l.codec.encode(t)
	if err != nil {
		return err
	}
	return l.withLock(ctx, true, func() error {
		state, err := l.load()
		if err != nil {
			return err
		}
		if _, exists := state.records[id]; !exists {
			return fmt.Errorf("update trip %q: %w", id, ErrNotFound)
		}
		if err := l.append(logEntry{Op: opPut, ID: id, Trip: data}); err != nil {
			return err
		}
		state.records[id] = data
		state.entries++
		return l.maybeCompact(state)
	})
}

func (l *Log) Delete(ctx context.Context, id string) error {
	return l.withLock(ctx, true, func() error {
		state, err := l.load()
		if err != nil {
			return err
		}
		if _, exists := state.records[id]; !exists {
			return fmt.Errorf("delete trip %q: %w", id, ErrNotFound)
		}
		if err := l.append(logEntry{Op: opDelete, ID: id}); err != nil {
			return err
		}
		delete(state.records, id)
		state.entries++
		return l.maybeCompact(state)
	})
}

// Clear empties the log.
func (l *Log) Clear(ctx context.Context) error {
	return l.withLock(ctx, true, func() error {
		return l.rewrite(&logState{records: map[string]json.RawMessage{}})
	})
}

// Compact rewrites the log keeping only live records.
func (l *Log) Compact(ctx context.Context) error {
	return l.withLock(ctx, true, func() error {
		state, err := l.load()
		if err != nil {
			return err
		}
		return l.rewrite(state)
	})
}

func (l *Log) List(ctx context.Context) ([]trip.Trip, error) {
	var trips []trip.Trip
	err := l.withLock(ctx, false, func() error {
		state, err := l.load()
		if err != nil {
			return err
		}
		for _, id := range state.live() {
			if t, ok := l.codec.decode(id, state.records[id]); ok {
				trips = append(trips, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortTrips(trips)
	return trips, nil
}

func (l *Log) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := l.withLock(ctx, false, func() error {
		state, err := l.load()
		if err != nil {
			return err
		}
		for _, id := range state.live() {
			raw := state.records[id]
			t, ok := l.codec.decode(id, raw)
			if !ok {
				continue
			}
			st.TripCount++
			st.TotalPoints += len(t.Points)
			st.Bytes += int64(len(raw))
		}
		return nil
	})
	return st, err
}
