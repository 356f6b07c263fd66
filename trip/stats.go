package trip

import (
	"go-trip-recorder/geo"
)

// Numerical agreement required between incremental and full statistics.
const (
	DistanceTolerance = 0.01 // meters
	DurationTolerance = 1    // milliseconds
)

const mpsToKph = 3.6

// Distance sums the great-circle distance between consecutive points.
func Distance(points []Point, earthRadius float64) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += geo.Distance(points[i-1].Lat, points[i-1].Lon, points[i].Lat, points[i].Lon, earthRadius)
	}
	return total
}

// Duration is the time from start to end, or to nowMs while the trip is active.
func Duration(t Trip, nowMs int64) int64 {
	end := nowMs
	if t.EndedAtMs != nil {
		end = *t.EndedAtMs
	}
	if d := end - t.StartedAtMs; d > 0 {
		return d
	}
	return 0
}

// AvgSpeedKph is distance over duration; 0 when the duration is 0.
func AvgSpeedKph(distanceMeters float64, durationMs int64) float64 {
	if durationMs <= 0 {
		return 0
	}
	return (distanceMeters / 1000) / (float64(durationMs) / 3600000)
}

// MaxSpeedKph is the highest admitted point speed, floored at avgKph. Smoothed
// point speeds can sit below the trip average when a slow segment is short and
// a fast one long; max never reports below avg.
func MaxSpeedKph(points []Point, avgKph float64) float64 {
	var peak float64
	for _, p := range points {
		if p.SpeedMps > peak {
			peak = p.SpeedMps
		}
	}
	return floorAtAvg(peak*mpsToKph, avgKph)
}

func floorAtAvg(peakKph, avgKph float64) float64 {
	if peakKph < avgKph {
		return avgKph
	}
	return peakKph
}

// CurrentSpeedKph is the speed of the last admitted point, 0 for no points.
func CurrentSpeedKph(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].SpeedMps * mpsToKph
}

// Compute recalculates every statistic from the points in O(n).
func Compute(t Trip, nowMs int64, earthRadius float64) Stats {
	var acc accumulator
	acc.radius = earthRadius
	for _, p := range t.Points {
		acc.add(p)
	}
	return acc.stats(t, nowMs)
}

// accumulator maintains the statistics in O(1) per admitted point. It adds
// segment distances in the same order as Distance, so the two agree exactly.
type accumulator struct {
	radius      float64
	distance    float64
	maxSpeedMps float64
	last        Point
	count       int
}

func (a *accumulator) add(p Point) {
	if a.count > 0 {
		a.distance += geo.Distance(a.last.Lat, a.last.Lon, p.Lat, p.Lon, a.radius)
	}
	if p.SpeedMps > a.maxSpeedMps {
		a.maxSpeedMps = p.SpeedMps
	}
	a.last = p
	a.count++
}

func (a *accumulator) stats(t Trip, nowMs int64) Stats {
	duration := Duration(t, nowMs)
	avg := AvgSpeedKph(a.distance, duration)
	s := Stats{
		DistanceMeters: a.distance,
		DurationMs:     duration,
		AvgSpeedKph:    avg,
		MaxSpeedKph:    floorAtAvg(a.maxSpeedMps*mpsToKph, avg),
		PointCount:     a.count,
	}
	if a.count > 0 {
		s.CurrentSpeedKph = a.last.SpeedMps * mpsToKph
		if a.last.HeadingDeg != nil {
			s.HeadingDeg = float(*a.last.HeadingDeg)
		}
	}
	return s
}
