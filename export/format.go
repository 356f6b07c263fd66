// Package export serializes trips to GPX 1.1 and GeoJSON and parses them back.
package export

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-trip-recorder/geo"
	"go-trip-recorder/trip"
)

// Format names an interchange format.
type Format string

const (
	FormatGPX     Format = "gpx"
	FormatGeoJSON Format = "geojson"
)

// ParseFormat resolves a format name or file extension.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "gpx", "xml":
		return FormatGPX, nil
	case "geojson", "json":
		return FormatGeoJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Detect picks the format of a document from its file name, falling back to
// its content: a JSON object is GeoJSON, anything else is treated as GPX.
func Detect(filename string, data []byte) Format {
	if ext := filepath.Ext(filename); ext != "" {
		if f, err := ParseFormat(ext); err == nil {
			return f
		}
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return FormatGeoJSON
	}
	return FormatGPX
}

// Parse decodes a document in format f. Statistics are computed over a
// sphere of earthRadius meters; zero selects geo.EarthRadiusMeters.
func Parse(f Format, data []byte, earthRadius float64) (trip.Trip, error) {
	switch f {
	case FormatGPX:
		return ParseGPX(bytes.NewReader(data), earthRadius)
	case FormatGeoJSON:
		return ParseGeoJSON(data, earthRadius)
	}
	return trip.Trip{}, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Write encodes t to w in format f.
func Write(w io.Writer, f Format, t trip.Trip) error {
	switch f {
	case FormatGPX:
		return WriteGPX(w, t)
	case FormatGeoJSON:
		data, err := MarshalGeoJSON(t)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// ContentType returns the media type of f.
func (f Format) ContentType() string {
	if f == FormatGeoJSON {
		return "application/geo+json"
	}
	return "application/gpx+xml"
}

// Creator is written into the creator attribute of every GPX document.
const Creator = "go-trip-recorder"

// timeLayout is ISO-8601 UTC with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(timeLayout)
}

func parseTime(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: time %q", ErrInvalidDocument, s)
	}
	return t.UnixMilli(), nil
}

// formatFloat writes v with full precision, '.' as the decimal point and no
// exponent.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func tripName(id string) string {
	return "Trip " + id
}

func idFromName(name string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "Trip "))
}

func radiusOrDefault(r float64) float64 {
	if r <= 0 {
		return geo.EarthRadiusMeters
	}
	return r
}

// horizonFor returns a quality horizon that every point of an imported trip
// satisfies.
func horizonFor(points []trip.Point) float64 {
	h := trip.DefaultQualityHorizonMeters
	for _, p := range points {
		if p.AccuracyMeters > h {
			h = p.AccuracyMeters
		}
	}
	return h
}
