package export

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"go-trip-recorder/trip"
)

// ToGeoJSON returns a FeatureCollection holding one LineString feature for
// the whole track followed by one Point feature per admitted point.
// Coordinates are [lon, lat].
func ToGeoJSON(t trip.Trip) (*geojson.FeatureCollection, error) {
	if len(t.Points) == 0 {
		return nil, ErrNoData
	}

	fc := geojson.NewFeatureCollection()

	line := make(orb.LineString, len(t.Points))
	for i, p := range t.Points {
		line[i] = orb.Point{p.Lon, p.Lat}
	}
	track := geojson.NewFeature(line)
	track.Properties["name"] = tripName(t.ID)
	track.Properties["startTime"] = formatTime(t.StartedAtMs)
	if t.EndedAtMs != nil {
		track.Properties["endTime"] = formatTime(*t.EndedAtMs)
	} else {
		track.Properties["endTime"] = nil
	}
	track.Properties["stats"] = statsProperties(t.Stats)
	if t.DriveType != "" {
		track.Properties["driveType"] = t.DriveType
	}
	if t.VideoFilename != "" {
		track.Properties["videoFilename"] = t.VideoFilename
	}
	fc.Append(track)

	for i, p := range t.Points {
		f := geojson.NewFeature(orb.Point{p.Lon, p.Lat})
		f.Properties["timestamp"] = formatTime(p.T)
		f.Properties["speed"] = p.SpeedMps
		f.Properties["accuracy"] = p.AccuracyMeters
		f.Properties["pointIndex"] = i
		if p.AltitudeMeters != nil {
			f.Properties["altitude"] = *p.AltitudeMeters
		}
		if p.HeadingDeg != nil {
			f.Properties["heading"] = *p.HeadingDeg
		}
		fc.Append(f)
	}
	return fc, nil
}

// MarshalGeoJSON encodes t as GeoJSON bytes.
func MarshalGeoJSON(t trip.Trip) ([]byte, error) {
	fc, err := ToGeoJSON(t)
	if err != nil {
		return nil, err
	}
	return fc.MarshalJSON()
}

// ParseGeoJSON decodes GeoJSON bytes produced by MarshalGeoJSON into a trip.
func ParseGeoJSON(data []byte, earthRadius float64) (trip.Trip, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return trip.Trip{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return FromGeoJSON(fc, earthRadius)
}

// FromGeoJSON rebuilds a trip from a FeatureCollection in the ToGeoJSON
// layout. Point features carry the per-point data; when none are present the
// LineString coordinates are used with zero speed and accuracy. Embedded
// statistics are kept when they hold over a sphere of earthRadius meters
// (zero meaning geo.EarthRadiusMeters) and recomputed otherwise.
func FromGeoJSON(fc *geojson.FeatureCollection, earthRadius float64) (trip.Trip, error) {
	if fc == nil {
		return trip.Trip{}, ErrInvalidDocument
	}

	var track *geojson.Feature
	type indexed struct {
		index int
		point trip.Point
	}
	var points []indexed

	for i, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.LineString:
			if track == nil {
				track = f
			}
		case orb.Point:
			p, idx, err := pointFromFeature(g, f.Properties, len(points))
			if err != nil {
				return trip.Trip{}, fmt.Errorf("feature %d: %w", i, err)
			}
			points = append(points, indexed{index: idx, point: p})
		}
	}
	if track == nil {
		return trip.Trip{}, fmt.Errorf("%w: no LineString feature", ErrInvalidDocument)
	}

	t := trip.Trip{ID: idFromName(stringProp(track.Properties, "name"))}
	t.DriveType = stringProp(track.Properties, "driveType")
	t.VideoFilename = stringProp(track.Properties, "videoFilename")

	if len(points) > 0 {
		sort.SliceStable(points, func(a, b int) bool { return points[a].index < points[b].index })
		t.Points = make([]trip.Point, len(points))
		for i, ip := range points {
			t.Points[i] = ip.point
		}
	} else {
		line := track.Geometry.(orb.LineString)
		t.Points = make([]trip.Point, len(line))
		for i, c := range line {
			t.Points[i] = trip.Point{Lon: c[0], Lat: c[1]}
		}
	}
	if len(t.Points) == 0 {
		return trip.Trip{}, ErrNoData
	}

	if s := stringProp(track.Properties, "startTime"); s != "" {
		started, err := parseTime(s)
		if err != nil {
			return trip.Trip{}, err
		}
		t.StartedAtMs = started
	} else {
		t.StartedAtMs = t.Points[0].T
	}
	if s := stringProp(track.Properties, "endTime"); s != "" {
		ended, err := parseTime(s)
		if err != nil {
			return trip.Trip{}, err
		}
		t.EndedAtMs = &ended
	}
	t.QualityHorizonMeters = horizonFor(t.Points)

	radius := radiusOrDefault(earthRadius)
	if raw, ok := track.Properties["stats"].(map[string]interface{}); ok {
		t.Stats = statsFromProperties(raw)
		if t.Validate(radius) == nil {
			return t, nil
		}
	}
	end := t.Points[len(t.Points)-1].T
	if t.EndedAtMs != nil {
		end = *t.EndedAtMs
	}
	t.Stats = trip.Compute(t, end, radius)
	return t, nil
}

func pointFromFeature(g orb.Point, props geojson.Properties, fallbackIndex int) (trip.Point, int, error) {
	p := trip.Point{Lon: g[0], Lat: g[1]}

	ts := stringProp(props, "timestamp")
	if ts == "" {
		return p, 0, fmt.Errorf("%w: point without timestamp", ErrInvalidDocument)
	}
	var err error
	if p.T, err = parseTime(ts); err != nil {
		return p, 0, err
	}
	p.SpeedMps, _ = numberProp(props, "speed")
	p.AccuracyMeters, _ = numberProp(props, "accuracy")
	if v, ok := numberProp(props, "altitude"); ok {
		p.AltitudeMeters = &v
	}
	if v, ok := numberProp(props, "heading"); ok {
		p.HeadingDeg = &v
	}

	idx := fallbackIndex
	if v, ok := numberProp(props, "pointIndex"); ok {
		idx = int(v)
	}
	return p, idx, nil
}

func statsProperties(s trip.Stats) map[string]interface{} {
	m := map[string]interface{}{
		"distanceMeters":  s.DistanceMeters,
		"durationMs":      s.DurationMs,
		"avgSpeedKph":     s.AvgSpeedKph,
		"maxSpeedKph":     s.MaxSpeedKph,
		"currentSpeedKph": s.CurrentSpeedKph,
		"pointCount":      s.PointCount,
		"headingDeg":      nil,
	}
	if s.HeadingDeg != nil {
		m["headingDeg"] = *s.HeadingDeg
	}
	return m
}

func statsFromProperties(m map[string]interface{}) trip.Stats {
	var s trip.Stats
	s.DistanceMeters, _ = numberProp(m, "distanceMeters")
	if v, ok := numberProp(m, "durationMs"); ok {
		s.DurationMs = int64(v)
	}
	s.AvgSpeedKph, _ = numberProp(m, "avgSpeedKph")
	s.MaxSpeedKph, _ = numberProp(m, "maxSpeedKph")
	s.CurrentSpeedKph, _ = numberProp(m, "currentSpeedKph")
	if v, ok := numberProp(m, "pointCount"); ok {
		s.PointCount = int(v)
	}
	if v, ok := numberProp(m, "headingDeg"); ok {
		s.HeadingDeg = &v
	}
	return s
}

func stringProp(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberProp(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
