package gps

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"
)

// TrackPoint is a point read from a GPX track or route.
type TrackPoint struct {
	Lat       float64   `xml:"lat,attr"`
	Lon       float64   `xml:"lon,attr"`
	Elevation *float64  `xml:"ele"`
	Time      time.Time `xml:"time"`
}

// gpxDocument is the subset of GPX 1.1 needed to read tracks and routes.
type gpxDocument struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
	Routes  []gpxRoute `xml:"rte"`
}

type gpxTrack struct {
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []TrackPoint `xml:"trkpt"`
}

type gpxRoute struct {
	Points []TrackPoint `xml:"rtept"`
}

// ReadGPXFile reads and parses a GPX file, returning its track points.
func ReadGPXFile(filename string) ([]TrackPoint, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPX file %s: %w", filename, err)
	}
	defer file.Close()

	points, err := ReadGPX(file)
	if err != nil {
		return nil, fmt.Errorf("GPX file %s: %w", filename, err)
	}
	return points, nil
}

// ReadGPX parses a GPX document. Track points from every segment are
// returned in document order; routes are used only when there is no track.
func ReadGPX(r io.Reader) ([]TrackPoint, error) {
	var doc gpxDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}

	var points []TrackPoint
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			points = append(points, seg.Points...)
		}
	}

	// Fall back to the first route
	if len(points) == 0 && len(doc.Routes) > 0 {
		points = append(points, doc.Routes[0].Points...)
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("no track points or route points found")
	}
	return points, nil
}
