package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"go-trip-recorder/geo"
	"go-trip-recorder/trip"
)

// makeTrip builds a finalized trip with n points one second apart.
func makeTrip(id string, startedAt int64, n int) trip.Trip {
	t := trip.Trip{
		ID:                   id,
		StartedAtMs:          startedAt,
		QualityHorizonMeters: 50,
		Points:               make([]trip.Point, 0, n),
	}
	for i := 0; i < n; i++ {
		t.Points = append(t.Points, trip.Point{
			T:              startedAt + int64(i+1)*1000,
			Lat:            51.5 + float64(i)*0.0001,
			Lon:            -0.12,
			AccuracyMeters: 5,
			SpeedMps:       11,
		})
	}
	ended := startedAt + int64(n+1)*1000
	t.EndedAtMs = &ended
	t.Stats = trip.Compute(t, ended, geo.EarthRadiusMeters)
	return t
}

type backing struct {
	name string
	open func(t *testing.T) Store
}

func backings() []backing {
	return []backing{
		{"sqlite", func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "trips.db"), SQLiteOptions{})
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"log", func(t *testing.T) Store {
			s, err := OpenLog(filepath.Join(t.TempDir(), "trips.jsonl"), LogOptions{})
			if err != nil {
				t.Fatalf("OpenLog failed: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"redis", func(t *testing.T) Store {
			srv := miniredis.RunT(t)
			s := NewRedis(redis.NewClient(&redis.Options{Addr: srv.Addr()}), RedisOptions{CloseClient: true})
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func TestStoreContract(t *testing.T) {
	for _, b := range backings() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			older := makeTrip("older", 1_000_000, 3)
			newer := makeTrip("newer", 2_000_000, 5)
			empty := makeTrip("empty", 1_500_000, 0)
			for _, tr := range []trip.Trip{older, newer, empty} {
				if err := s.Add(ctx, tr); err != nil {
					t.Fatalf("Add(%s) failed: %v", tr.ID, err)
				}
			}

			if err := s.Add(ctx, older); !errors.Is(err, ErrDuplicateID) {
				t.Errorf("Expected ErrDuplicateID, got %v", err)
			}

			got, err := s.Get(ctx, "older")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if len(got.Points) != 3 || got.Points[2].T != older.Points[2].T {
				t.Errorf("Get returned wrong points: %+v", got.Points)
			}
			if got.EndedAtMs == nil || *got.EndedAtMs != *older.EndedAtMs {
				t.Error("EndedAtMs did not survive storage")
			}

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}

			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("Expected 3 trips, got %d", len(list))
			}
			wantOrder := []string{"newer", "empty", "older"}
			for i, id := range wantOrder {
				if list[i].ID != id {
					t.Errorf("List[%d]: expected %s, got %s", i, id, list[i].ID)
				}
			}

			st, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats failed: %v", err)
			}
			if st.TripCount != 3 || st.TotalPoints != 8 {
				t.Errorf("Unexpected stats: %+v", st)
			}
			if st.Bytes <= 0 {
				t.Errorf("Expected positive byte count, got %d", st.Bytes)
			}

			updated := older
			updated.DriveType = "commute"
			if err := s.Update(ctx, "older", updated); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			got, err = s.Get(ctx, "older")
			if err != nil {
				t.Fatalf("Get after update failed: %v", err)
			}
			if got.DriveType != "commute" {
				t.Errorf("Update not applied: %q", got.DriveType)
			}
			if err := s.Update(ctx, "missing", makeTrip("missing", 1, 1)); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound updating missing trip, got %v", err)
			}
			if err := s.Update(ctx, "older", newer); err == nil {
				t.Error("Expected error when record id does not match")
			}

			if err := s.Delete(ctx, "newer"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := s.Delete(ctx, "newer"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound on second delete, got %v", err)
			}
			if _, err := s.Get(ctx, "newer"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Deleted trip still readable: %v", err)
			}

			// Deleted ids may be reused
			if err := s.Add(ctx, newer); err != nil {
				t.Errorf("Re-adding deleted id failed: %v", err)
			}
			list, err = s.List(ctx)
			if err != nil {
				t.Fatalf("List after re-add failed: %v", err)
			}
			seen := make(map[string]bool)
			for _, tr := range list {
				if seen[tr.ID] {
					t.Errorf("List returned %s twice", tr.ID)
				}
				seen[tr.ID] = true
			}
			if len(list) != 3 || list[0].ID != "newer" {
				t.Errorf("Expected 3 trips led by the re-added one, got %+v", list)
			}
			st, err = s.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats after re-add failed: %v", err)
			}
			if st.TripCount != len(list) {
				t.Errorf("Stats counts %d trips, List returns %d", st.TripCount, len(list))
			}

			if err := s.Clear(ctx); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			list, err = s.List(ctx)
			if err != nil {
				t.Fatalf("List after clear failed: %v", err)
			}
			if len(list) != 0 {
				t.Errorf("Expected empty store, got %d trips", len(list))
			}
			st, _ = s.Stats(ctx)
			if st.TripCount != 0 || st.TotalPoints != 0 || st.Bytes != 0 {
				t.Errorf("Expected zero stats after clear, got %+v", st)
			}

			if err := s.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("Second Close failed: %v", err)
			}
			if _, err := s.List(ctx); !errors.Is(err, ErrClosed) {
				t.Errorf("Expected ErrClosed after Close, got %v", err)
			}
		})
	}
}

func TestStoreRejectsInvalidWrites(t *testing.T) {
	for _, b := range backings() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			bad := makeTrip("bad", 1000, 3)
			bad.Points[2].T = bad.Points[0].T
			err := s.Add(ctx, bad)
			if kind, ok := KindOf(err); !ok || kind != WriteFailed {
				t.Errorf("Expected WRITE_FAILED for out-of-order points, got %v", err)
			}

			wrongStats := makeTrip("stats", 1000, 3)
			wrongStats.Stats.DistanceMeters += 10
			if kind, _ := KindOf(s.Add(ctx, wrongStats)); kind != WriteFailed {
				t.Error("Expected WRITE_FAILED for inconsistent distance")
			}

			if kind, _ := KindOf(s.Add(ctx, makeTrip("", 1000, 1))); kind != WriteFailed {
				t.Error("Expected WRITE_FAILED for empty id")
			}

			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(list) != 0 {
				t.Errorf("Rejected writes must not be stored, got %d trips", len(list))
			}
		})
	}
}

func TestSQLiteDropsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trips.db")
	s, err := OpenSQLite(path, SQLiteOptions{})
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer s.Close()

	if err := s.Add(ctx, makeTrip("good", 1000, 2)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO trips (id, started_at, point_count, record) VALUES ('junk', 5, 1, '{not json')`); err != nil {
		t.Fatalf("Insert junk failed: %v", err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List should not fail on malformed records: %v", err)
	}
	if len(list) != 1 || list[0].ID != "good" {
		t.Errorf("Expected only the good trip, got %+v", list)
	}
	if _, err := s.Get(ctx, "junk"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Malformed record should read as not found, got %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.TripCount != len(list) || st.TotalPoints != 2 {
		t.Errorf("Stats should count only readable trips, got %+v for %d listed", st, len(list))
	}
}

func TestSQLiteDurable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trips.db")
	s, err := OpenSQLite(path, SQLiteOptions{})
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := s.Add(ctx, makeTrip("kept", 1000, 4)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLite(path, SQLiteOptions{})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "kept")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if len(got.Points) != 4 {
		t.Errorf("Expected 4 points, got %d", len(got.Points))
	}
}

func TestLogDropsMalformedLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trips.jsonl")
	l, err := OpenLog(path, LogOptions{})
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}
	defer l.Close()

	if err := l.Add(ctx, makeTrip("first", 1000, 2)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("Open log failed: %v", err)
	}
	_, _ = f.WriteString("garbage line\n")
	_, _ = f.WriteString(`{"op":"put","id":"broken","trip":{"id":"broken","points":"nope"}}` + "\n")
	_ = f.Close()

	if err := l.Add(ctx, makeTrip("second", 2000, 2)); err != nil {
		t.Fatalf("Add after garbage failed: %v", err)
	}

	list, err := l.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "second" || list[1].ID != "first" {
		t.Errorf("Unexpected trips: %+v", list)
	}

	if err := l.Compact(ctx); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	list, err = l.List(ctx)
	if err != nil || len(list) != 2 {
		t.Errorf("Compaction lost records: %v %d", err, len(list))
	}
}

func TestLogDurableAndCompacts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trips.jsonl")
	l, err := OpenLog(path, LogOptions{})
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}

	base := makeTrip("churn", 1000, 2)
	if err := l.Add(ctx, base); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	for i := 0; i < compactAfter*2; i++ {
		base.VideoFilename = "clip.mp4"
		if err := l.Update(ctx, "churn", base); err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}
	_ = l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := 0
	for _, c := range data {
		if c == '\n' {
			lines++
		}
	}
	if lines >= compactAfter*2 {
		t.Errorf("Expected the log to be compacted, has %d lines", lines)
	}

	reopened, err := OpenLog(path, LogOptions{})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "churn")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.VideoFilename != "clip.mp4" {
		t.Errorf("Latest update lost: %+v", got)
	}
}

func TestLogReAddAfterDeleteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trips.jsonl")
	l, err := OpenLog(path, LogOptions{})
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}
	if err := l.Add(ctx, makeTrip("other", 500, 2)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	reused := makeTrip("reused", 1000, 2)
	for i := 0; i < 3; i++ {
		if err := l.Add(ctx, reused); err != nil {
			t.Fatalf("Add %d failed: %v", i, err)
		}
		if i < 2 {
			if err := l.Delete(ctx, "reused"); err != nil {
				t.Fatalf("Delete %d failed: %v", i, err)
			}
		}
	}
	_ = l.Close()

	reopened, err := OpenLog(path, LogOptions{})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()
	for _, step := range []string{"reopen", "compact"} {
		if step == "compact" {
			if err := reopened.Compact(ctx); err != nil {
				t.Fatalf("Compact failed: %v", err)
			}
		}
		list, err := reopened.List(ctx)
		if err != nil {
			t.Fatalf("List after %s failed: %v", step, err)
		}
		if len(list) != 2 || list[0].ID != "reused" || list[1].ID != "other" {
			t.Errorf("After %s expected [reused other], got %+v", step, list)
		}
		st, err := reopened.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats after %s failed: %v", step, err)
		}
		if st.TripCount != len(list) {
			t.Errorf("After %s Stats counts %d trips, List returns %d", step, st.TripCount, len(list))
		}
	}
}

func TestLogSkipsOversizedLines(t *testing.T) {
	prev := maxLogLine
	maxLogLine = 4096
	t.Cleanup(func() { maxLogLine = prev })

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trips.jsonl")
	l, err := OpenLog(path, LogOptions{})
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}
	defer l.Close()

	if err := l.Add(ctx, makeTrip("before", 1000, 2)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("Open log failed: %v", err)
	}
	huge := `{"op":"put","id":"huge","trip":{"id":"huge","driveType":"` + strings.Repeat("x", 3*maxLogLine) + `"}}` + "\n"
	if _, err := f.WriteString(huge); err != nil {
		t.Fatalf("Write oversized line failed: %v", err)
	}
	_ = f.Close()
	if err := l.Add(ctx, makeTrip("after", 2000, 2)); err != nil {
		t.Fatalf("Add after oversized line failed: %v", err)
	}

	list, err := l.List(ctx)
	if err != nil {
		t.Fatalf("List should skip oversized lines: %v", err)
	}
	if len(list) != 2 || list[0].ID != "after" || list[1].ID != "before" {
		t.Errorf("Expected [after before], got %+v", list)
	}
	if _, err := l.Get(ctx, "huge"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Oversized entry should read as not found, got %v", err)
	}
}

func TestLogSerializesWriters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trips.jsonl")

	const writers = 4
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		l, err := OpenLog(path, LogOptions{})
		if err != nil {
			t.Fatalf("OpenLog failed: %v", err)
		}
		defer l.Close()
		wg.Add(1)
		go func(i int, l *Log) {
			defer wg.Done()
			errs[i] = l.Add(ctx, makeTrip("same-id", 1000, 2))
		}(i, l)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrDuplicateID):
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("Expected exactly one successful add, got %d", ok)
	}
}

func TestRedisDropsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	s := NewRedis(client, RedisOptions{Prefix: "test:"})
	defer client.Close()

	if err := s.Add(ctx, makeTrip("good", 1000, 2)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	srv.HSet("test:records", "junk", "{")
	if _, err := srv.ZAdd("test:by_start", 9999, "junk"); err != nil {
		t.Fatalf("ZAdd failed: %v", err)
	}
	if _, err := srv.ZAdd("test:by_start", 5000, "dangling"); err != nil {
		t.Fatalf("ZAdd failed: %v", err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != "good" {
		t.Errorf("Expected only the good trip, got %+v", list)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.TripCount != 1 {
		t.Errorf("Malformed record counted: %+v", st)
	}
}

func TestRedisAddIsAtomic(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	s := NewRedis(client, RedisOptions{Prefix: "test:"})
	defer client.Close()

	// A wrong-typed index key makes the index write fail.
	if err := srv.Set("test:by_start", "not a zset"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	tr := makeTrip("atomic", 1000, 2)
	err := s.Add(ctx, tr)
	if kind, ok := KindOf(err); !ok || kind != WriteFailed {
		t.Fatalf("Expected WRITE_FAILED, got %v", err)
	}
	if srv.Exists("test:records") {
		t.Errorf("Record written without its index entry: %v", srv.Keys())
	}

	srv.Del("test:by_start")
	if err := s.Add(ctx, tr); err != nil {
		t.Fatalf("Retrying Add failed: %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != "atomic" {
		t.Errorf("Expected the retried trip, got %+v", list)
	}
}

func TestStoreReadsAfterRadiusChange(t *testing.T) {
	const radius = 6_378_137.0
	dir := t.TempDir()
	srv := miniredis.RunT(t)
	backings := []struct {
		name string
		open func(t *testing.T, radius float64) Store
	}{
		{"sqlite", func(t *testing.T, radius float64) Store {
			s, err := OpenSQLite(filepath.Join(dir, "trips.db"), SQLiteOptions{EarthRadiusMeters: radius})
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			return s
		}},
		{"log", func(t *testing.T, radius float64) Store {
			s, err := OpenLog(filepath.Join(dir, "trips.jsonl"), LogOptions{EarthRadiusMeters: radius})
			if err != nil {
				t.Fatalf("OpenLog failed: %v", err)
			}
			return s
		}},
		{"redis", func(t *testing.T, radius float64) Store {
			client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
			return NewRedis(client, RedisOptions{EarthRadiusMeters: radius, CloseClient: true})
		}},
	}

	for _, b := range backings {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			kept := makeTrip("kept", 1000, 4)

			s := b.open(t, 0)
			if err := s.Add(ctx, kept); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			s = b.open(t, radius)
			defer s.Close()
			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(list) != 1 || list[0].ID != "kept" {
				t.Fatalf("Expected the stored trip after the radius change, got %+v", list)
			}
			if list[0].Stats.DistanceMeters != kept.Stats.DistanceMeters {
				t.Errorf("Stored distance changed: expected %v, got %v", kept.Stats.DistanceMeters, list[0].Stats.DistanceMeters)
			}
			if _, err := s.Get(ctx, "kept"); err != nil {
				t.Errorf("Get failed: %v", err)
			}
			st, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats failed: %v", err)
			}
			if st.TripCount != 1 {
				t.Errorf("Expected 1 trip in stats, got %+v", st)
			}

			fresh := makeTrip("fresh", 2000, 4)
			if kind, _ := KindOf(s.Add(ctx, fresh)); kind != WriteFailed {
				t.Error("Writes should still check distance against the configured radius")
			}
			fresh.Stats = trip.Compute(fresh, *fresh.EndedAtMs, radius)
			if err := s.Add(ctx, fresh); err != nil {
				t.Errorf("Add at the configured radius failed: %v", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Backend: "log", Path: filepath.Join(dir, "t.jsonl")}, 0, nil)
	if err != nil {
		t.Fatalf("Open log failed: %v", err)
	}
	if _, ok := s.(*Log); !ok {
		t.Errorf("Expected *Log, got %T", s)
	}
	_ = s.Close()

	s, err = Open(Config{Path: filepath.Join(dir, "t.db")}, 0, nil)
	if err != nil {
		t.Fatalf("Open default failed: %v", err)
	}
	if _, ok := s.(*SQLite); !ok {
		t.Errorf("Expected *SQLite by default, got %T", s)
	}
	_ = s.Close()

	if _, err := Open(Config{Backend: "floppy"}, 0, nil); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
}
