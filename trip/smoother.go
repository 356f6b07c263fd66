package trip

import (
	"math"

	"go-trip-recorder/geo"
	"go-trip-recorder/gps"
)

// DefaultSmoothingWindow is the number of admitted points the smoother keeps.
const DefaultSmoothingWindow = 3

// Smoother derives speed and heading for a candidate fix from a ring buffer
// of the most recently admitted points.
type Smoother struct {
	radius float64
	buf    []Point
	next   int
	count  int
}

// NewSmoother creates a smoother over the last window admitted points.
// Windows below 2 are raised to 2.
func NewSmoother(window int, earthRadius float64) *Smoother {
	if window < 2 {
		window = 2
	}
	return &Smoother{radius: earthRadius, buf: make([]Point, window)}
}

// Window returns the ring buffer capacity.
func (s *Smoother) Window() int {
	return len(s.buf)
}

// Push records an admitted point, evicting the oldest when full.
func (s *Smoother) Push(p Point) {
	s.buf[s.next] = p
	s.next = (s.next + 1) % len(s.buf)
	if s.count < len(s.buf) {
		s.count++
	}
}

// Reset empties the window; called when a trip starts.
func (s *Smoother) Reset() {
	for i := range s.buf {
		s.buf[i] = Point{}
	}
	s.next = 0
	s.count = 0
}

// Derive returns the smoothed speed in m/s and the heading for f. Speed is
// the mean of the segment speeds across the window followed by f; segments
// with a non-positive time step are skipped. Heading is the forward azimuth
// from the newest window point to f, nil when there is no previous point or
// no displacement.
func (s *Smoother) Derive(f gps.Fix) (float64, *float64) {
	if s.count == 0 {
		return 0, nil
	}

	pts := s.ordered()
	type node struct {
		lat, lon float64
		t        int64
	}
	nodes := make([]node, 0, len(pts)+1)
	for _, p := range pts {
		nodes = append(nodes, node{p.Lat, p.Lon, p.T})
	}
	nodes = append(nodes, node{f.Latitude, f.Longitude, f.TimestampMs})

	var sum float64
	var segments int
	for i := 0; i+1 < len(nodes); i++ {
		dt := nodes[i+1].t - nodes[i].t
		if dt <= 0 {
			continue
		}
		d := geo.Distance(nodes[i].lat, nodes[i].lon, nodes[i+1].lat, nodes[i+1].lon, s.radius)
		v := d / (float64(dt) / 1000)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		segments++
	}

	speed := 0.0
	if segments > 0 {
		speed = sum / float64(segments)
	}
	if math.IsNaN(speed) || speed < 0 {
		speed = 0
	}

	last := pts[len(pts)-1]
	if geo.Distance(last.Lat, last.Lon, f.Latitude, f.Longitude, s.radius) == 0 {
		return speed, nil
	}
	heading := geo.Bearing(last.Lat, last.Lon, f.Latitude, f.Longitude)
	return speed, &heading
}

// ordered returns the buffered points oldest first.
func (s *Smoother) ordered() []Point {
	out := make([]Point, 0, s.count)
	start := (s.next - s.count + len(s.buf)) % len(s.buf)
	for i := 0; i < s.count; i++ {
		out = append(out, s.buf[(start+i)%len(s.buf)])
	}
	return out
}

// NewPoint builds the admitted point for a fix with derived speed and
// heading. Non-finite optional readings are dropped.
func NewPoint(f gps.Fix, speedMps float64, headingDeg *float64) Point {
	p := Point{
		T:              f.TimestampMs,
		Lat:            f.Latitude,
		Lon:            f.Longitude,
		AccuracyMeters: f.AccuracyMeters,
		SpeedMps:       speedMps,
		HeadingDeg:     headingDeg,
	}
	if f.AltitudeMeters != nil && geo.Finite(*f.AltitudeMeters) {
		p.AltitudeMeters = float(*f.AltitudeMeters)
	}
	return p
}
