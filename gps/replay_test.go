package gps

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu    sync.Mutex
	fixes []Fix
	errs  []error
	done  chan struct{}
	want  int
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) onFix(f Fix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixes = append(c.fixes, f)
	c.check()
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
	c.check()
}

func (c *collector) check() {
	if len(c.fixes)+len(c.errs) == c.want {
		close(c.done)
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for replay events")
	}
}

func TestReplaySourceOrder(t *testing.T) {
	script := []ScriptedFix{
		{Offset: 0, Fix: Fix{Latitude: 1, Longitude: 1, AccuracyMeters: 5, TimestampMs: 1000}},
		{Offset: 5 * time.Millisecond, Err: NewSourceError(Timeout, nil)},
		{Offset: 10 * time.Millisecond, Fix: Fix{Latitude: 2, Longitude: 2, AccuracyMeters: 5, TimestampMs: 2000}},
	}
	src := NewReplaySource(script, ReplayOptions{})

	c := newCollector(3)
	unsubscribe, err := src.Subscribe(c.onFix, c.onError)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()
	c.wait(t)

	if len(c.fixes) != 2 || c.fixes[0].TimestampMs != 1000 || c.fixes[1].TimestampMs != 2000 {
		t.Errorf("Unexpected fixes: %+v", c.fixes)
	}
	if len(c.errs) != 1 || CodeOf(c.errs[0]) != Timeout {
		t.Errorf("Expected one TIMEOUT error, got %v", c.errs)
	}
}

func TestReplaySourceSingleSubscriber(t *testing.T) {
	src := NewReplaySource(nil, ReplayOptions{})

	unsubscribe, err := src.Subscribe(nil, nil)
	if err != nil {
		t.Fatalf("First subscribe failed: %v", err)
	}

	if _, err := src.Subscribe(nil, nil); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("Expected ErrAlreadySubscribed, got %v", err)
	}

	unsubscribe()
	unsubscribe() // second call is a no-op

	again, err := src.Subscribe(nil, nil)
	if err != nil {
		t.Fatalf("Subscribe after unsubscribe should succeed: %v", err)
	}
	again()
}

func TestReplaySourceUnsubscribeStopsDelivery(t *testing.T) {
	script := []ScriptedFix{
		{Offset: 0, Fix: Fix{TimestampMs: 1}},
		{Offset: time.Hour, Fix: Fix{TimestampMs: 2}},
	}
	src := NewReplaySource(script, ReplayOptions{})

	c := newCollector(1)
	unsubscribe, err := src.Subscribe(c.onFix, c.onError)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	c.wait(t)

	finished := make(chan struct{})
	go func() {
		unsubscribe()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe should interrupt a pending step")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.fixes) != 1 {
		t.Errorf("Expected exactly 1 fix, got %d", len(c.fixes))
	}
}

func TestReplaySourceSpeed(t *testing.T) {
	script := []ScriptedFix{
		{Offset: 0, Fix: Fix{TimestampMs: 1}},
		{Offset: 400 * time.Millisecond, Fix: Fix{TimestampMs: 2}},
	}
	src := NewReplaySource(script, ReplayOptions{Speed: 20})

	c := newCollector(2)
	start := time.Now()
	unsubscribe, err := src.Subscribe(c.onFix, c.onError)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()
	c.wait(t)

	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("20x replay of a 400ms script took %v", elapsed)
	}
}

func TestReplaySourceLoop(t *testing.T) {
	script := []ScriptedFix{
		{Offset: 0, Fix: Fix{TimestampMs: 1000}},
		{Offset: time.Millisecond, Fix: Fix{TimestampMs: 2000}},
	}
	src := NewReplaySource(script, ReplayOptions{Speed: 1000, Loop: true})

	c := newCollector(4)
	unsubscribe, err := src.Subscribe(c.onFix, c.onError)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	c.wait(t)
	unsubscribe()

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 1; i < 4; i++ {
		if c.fixes[i].TimestampMs <= c.fixes[i-1].TimestampMs {
			t.Errorf("Looped timestamps must keep increasing: %d then %d", c.fixes[i-1].TimestampMs, c.fixes[i].TimestampMs)
		}
	}
}

func TestNewReplayFromTrack(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	ele := 50.0
	points := []TrackPoint{
		{Lat: 1, Lon: 1, Elevation: &ele, Time: base},
		{Lat: 2, Lon: 2, Time: base.Add(2 * time.Second)},
	}

	src := NewReplayFromTrack(points, 8, ReplayOptions{})
	if src.Len() != 2 {
		t.Fatalf("Expected 2 steps, got %d", src.Len())
	}
	if src.script[1].Offset != 2*time.Second {
		t.Errorf("Expected offset 2s from timestamps, got %v", src.script[1].Offset)
	}
	if src.script[0].Fix.AltitudeMeters == nil || *src.script[0].Fix.AltitudeMeters != 50 {
		t.Error("Elevation should become altitude")
	}
	if src.script[1].Fix.AccuracyMeters != 8 {
		t.Errorf("Expected accuracy 8, got %f", src.script[1].Fix.AccuracyMeters)
	}

	// Without sequential timestamps points are spaced one second apart
	unordered := []TrackPoint{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}, {Lat: 3, Lon: 3}}
	src = NewReplayFromTrack(unordered, 8, ReplayOptions{})
	if src.script[2].Offset != 2*time.Second {
		t.Errorf("Expected index-based offset 2s, got %v", src.script[2].Offset)
	}
	if src.script[2].Fix.TimestampMs <= src.script[1].Fix.TimestampMs {
		t.Error("Synthesized timestamps should increase")
	}
}
