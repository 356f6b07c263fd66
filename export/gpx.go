package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go-trip-recorder/geo"
	"go-trip-recorder/trip"
)

// gpxDocument represents the root GPX document structure
type gpxDocument struct {
	XMLName  xml.Name    `xml:"gpx"`
	Version  string      `xml:"version,attr"`
	Creator  string      `xml:"creator,attr"`
	Xmlns    string      `xml:"xmlns,attr"`
	Metadata gpxMetadata `xml:"metadata"`
	Track    gpxTrack    `xml:"trk"`
}

type gpxMetadata struct {
	Name string `xml:"name"`
	Time string `xml:"time"`
}

type gpxTrack struct {
	Name    string     `xml:"name"`
	Segment gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

// gpxPoint keeps numbers as preformatted strings so encoding/xml never
// switches to exponent notation.
type gpxPoint struct {
	Lat        string        `xml:"lat,attr"`
	Lon        string        `xml:"lon,attr"`
	Ele        string        `xml:"ele,omitempty"`
	Time       string        `xml:"time"`
	Extensions gpxExtensions `xml:"extensions"`
}

type gpxExtensions struct {
	Speed    string `xml:"speed"`
	Accuracy string `xml:"accuracy"`
	Heading  string `xml:"heading,omitempty"`
}

// WriteGPX writes t as a GPX 1.1 document.
func WriteGPX(w io.Writer, t trip.Trip) error {
	if len(t.Points) == 0 {
		return ErrNoData
	}

	doc := gpxDocument{
		Version: "1.1",
		Creator: Creator,
		Xmlns:   "http://www.topografix.com/GPX/1/1",
		Metadata: gpxMetadata{
			Name: tripName(t.ID),
			Time: formatTime(t.StartedAtMs),
		},
		Track: gpxTrack{Name: tripName(t.ID)},
	}

	points := make([]gpxPoint, len(t.Points))
	for i, p := range t.Points {
		gp := gpxPoint{
			Lat:  formatFloat(p.Lat),
			Lon:  formatFloat(p.Lon),
			Time: formatTime(p.T),
			Extensions: gpxExtensions{
				Speed:    formatFloat(p.SpeedMps),
				Accuracy: formatFloat(p.AccuracyMeters),
			},
		}
		if p.AltitudeMeters != nil {
			gp.Ele = formatFloat(*p.AltitudeMeters)
		}
		if p.HeadingDeg != nil {
			gp.Extensions.Heading = formatFloat(*p.HeadingDeg)
		}
		points[i] = gp
	}
	doc.Track.Segment.Points = points

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode GPX data: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("failed to write GPX: %w", err)
	}
	return nil
}

// ToGPX returns t as a GPX 1.1 document.
func ToGPX(t trip.Trip) (string, error) {
	var buf bytes.Buffer
	if err := WriteGPX(&buf, t); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseGPX reads a GPX document written by WriteGPX, or any GPX 1.1 track,
// back into a finalized trip. Missing extensions read as zero speed and
// accuracy; the end time is the last point's time. Statistics are computed
// over a sphere of earthRadius meters, zero meaning geo.EarthRadiusMeters.
func ParseGPX(r io.Reader, earthRadius float64) (trip.Trip, error) {
	var doc gpxDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return trip.Trip{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if len(doc.Track.Segment.Points) == 0 {
		return trip.Trip{}, ErrNoData
	}

	t := trip.Trip{ID: idFromName(doc.Metadata.Name)}
	if t.ID == "" {
		t.ID = idFromName(doc.Track.Name)
	}

	t.Points = make([]trip.Point, 0, len(doc.Track.Segment.Points))
	for i, gp := range doc.Track.Segment.Points {
		p, err := parseGPXPoint(gp)
		if err != nil {
			return trip.Trip{}, fmt.Errorf("trkpt %d: %w", i, err)
		}
		t.Points = append(t.Points, p)
	}

	if strings.TrimSpace(doc.Metadata.Time) != "" {
		started, err := parseTime(doc.Metadata.Time)
		if err != nil {
			return trip.Trip{}, err
		}
		t.StartedAtMs = started
	} else {
		t.StartedAtMs = t.Points[0].T
	}

	ended := t.Points[len(t.Points)-1].T
	if ended < t.StartedAtMs {
		ended = t.StartedAtMs
	}
	t.EndedAtMs = &ended
	t.QualityHorizonMeters = horizonFor(t.Points)
	t.Stats = trip.Compute(t, ended, radiusOrDefault(earthRadius))
	return t, nil
}

func parseGPXPoint(gp gpxPoint) (trip.Point, error) {
	var p trip.Point
	var err error
	if p.Lat, err = parseNumber("lat", gp.Lat); err != nil {
		return p, err
	}
	if p.Lon, err = parseNumber("lon", gp.Lon); err != nil {
		return p, err
	}
	if p.T, err = parseTime(gp.Time); err != nil {
		return p, err
	}
	if s := strings.TrimSpace(gp.Ele); s != "" {
		ele, err := parseNumber("ele", s)
		if err != nil {
			return p, err
		}
		p.AltitudeMeters = &ele
	}
	if s := strings.TrimSpace(gp.Extensions.Speed); s != "" {
		if p.SpeedMps, err = parseNumber("speed", s); err != nil {
			return p, err
		}
	}
	if s := strings.TrimSpace(gp.Extensions.Accuracy); s != "" {
		if p.AccuracyMeters, err = parseNumber("accuracy", s); err != nil {
			return p, err
		}
	}
	if s := strings.TrimSpace(gp.Extensions.Heading); s != "" {
		h, err := parseNumber("heading", s)
		if err != nil {
			return p, err
		}
		p.HeadingDeg = &h
	}
	return p, nil
}

func parseNumber(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !geo.Finite(v) {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidDocument, field, s)
	}
	return v, nil
}
