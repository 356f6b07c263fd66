package gps

import (
	"context"
	"time"
)

// ReplayOptions tunes how a scripted sequence is played back.
type ReplayOptions struct {
	Speed float64 // Replay speed multiplier (1.0 = real-time, 2.0 = 2x speed, etc.)
	Loop  bool    // Restart from the first step once the script is exhausted
}

// ReplaySource emits a scripted sequence of fixes and errors at scheduled
// offsets. It is the deterministic counterpart of the live sources.
type ReplaySource struct {
	script []ScriptedFix
	opts   ReplayOptions
	g      guard
}

// NewReplaySource creates a replay source over script. Steps are played in
// slice order; offsets are relative to the moment Subscribe is called.
func NewReplaySource(script []ScriptedFix, opts ReplayOptions) *ReplaySource {
	if opts.Speed <= 0 {
		opts.Speed = 1.0
	}
	cp := make([]ScriptedFix, len(script))
	copy(cp, script)
	return &ReplaySource{script: cp, opts: opts}
}

// Len returns the number of scripted steps.
func (r *ReplaySource) Len() int {
	return len(r.script)
}

// Subscribe starts playback. Only one subscriber may be attached at a time.
func (r *ReplaySource) Subscribe(onFix func(Fix), onError func(error)) (func(), error) {
	if err := r.g.acquire(); err != nil {
		return nil, err
	}

	sub := newSubscription(&r.g, nil)
	sub.goRun(func(ctx context.Context) {
		r.play(ctx, onFix, onError)
	})
	return sub.stop, nil
}

func (r *ReplaySource) play(ctx context.Context, onFix func(Fix), onError func(error)) {
	if len(r.script) == 0 {
		return
	}

	span := r.cycleSpan()
	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for cycle := 0; ; cycle++ {
		cycleOffset := time.Duration(cycle) * span.offset
		for _, step := range r.script {
			due := start.Add(time.Duration(float64(step.Offset+cycleOffset) / r.opts.Speed))
			if wait := time.Until(due); wait > 0 {
				timer.Reset(wait)
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			} else if ctx.Err() != nil {
				return
			}

			if step.Err != nil {
				if onError != nil {
					onError(step.Err)
				}
				continue
			}
			fix := step.Fix
			fix.TimestampMs += int64(cycle) * span.timestampMs
			if onFix != nil {
				onFix(fix)
			}
		}
		if !r.opts.Loop {
			return
		}
	}
}

type replaySpan struct {
	offset      time.Duration
	timestampMs int64
}

// cycleSpan is how far offsets and fix timestamps shift on each loop so a
// looped replay still produces strictly increasing timestamps.
func (r *ReplaySource) cycleSpan() replaySpan {
	var span replaySpan
	var first, last int64
	seen := false
	for _, step := range r.script {
		if step.Offset > span.offset {
			span.offset = step.Offset
		}
		if step.Err != nil {
			continue
		}
		if !seen {
			first = step.Fix.TimestampMs
			seen = true
		}
		last = step.Fix.TimestampMs
	}
	span.offset += time.Second
	span.timestampMs = last - first + 1000
	return span
}

// NewReplayFromTrack builds a replay script from recorded track points. Point
// timestamps become the schedule when they are sequential; otherwise points
// are spaced one second apart. Every fix is reported with the given accuracy.
func NewReplayFromTrack(points []TrackPoint, accuracyMeters float64, opts ReplayOptions) *ReplaySource {
	script := make([]ScriptedFix, 0, len(points))
	sequential := hasSequentialTimestamps(points)

	for i, p := range points {
		var offset time.Duration
		ts := p.Time
		if sequential {
			offset = p.Time.Sub(points[0].Time)
		} else {
			offset = time.Duration(i) * time.Second
			ts = time.Now().Add(offset)
		}
		fix := Fix{
			Latitude:       p.Lat,
			Longitude:      p.Lon,
			AccuracyMeters: accuracyMeters,
			TimestampMs:    ts.UnixMilli(),
		}
		if p.Elevation != nil {
			fix.AltitudeMeters = Float(*p.Elevation)
		}
		script = append(script, ScriptedFix{Offset: offset, Fix: fix})
	}
	return NewReplaySource(script, opts)
}

// hasSequentialTimestamps checks if the track points have strictly increasing timestamps
func hasSequentialTimestamps(points []TrackPoint) bool {
	if len(points) < 2 {
		return false
	}
	for i := 0; i < len(points)-1; i++ {
		if points[i].Time.IsZero() || !points[i+1].Time.After(points[i].Time) {
			return false
		}
	}
	return true
}
