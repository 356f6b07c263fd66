package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"go-trip-recorder/trip"
)

func formatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return humanize.SIWithDigits(meters, 2, "m")
}

func formatDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func formatStart(ms int64) string {
	started := time.UnixMilli(ms)
	return fmt.Sprintf("%s (%s)", started.Local().Format("2006-01-02 15:04"), humanize.Time(started))
}

func formatSpeed(kph float64) string {
	return fmt.Sprintf("%.1f km/h", kph)
}

func renderTripSummary(t trip.Trip) string {
	rows := [][]string{
		{"Trip", t.ID},
		{"Started", formatStart(t.StartedAtMs)},
		{"Duration", formatDuration(t.Stats.DurationMs)},
		{"Points", humanize.Comma(int64(t.Stats.PointCount))},
		{"Distance", formatDistance(t.Stats.DistanceMeters)},
		{"Avg speed", formatSpeed(t.Stats.AvgSpeedKph)},
		{"Max speed", formatSpeed(t.Stats.MaxSpeedKph)},
	}
	if t.DriveType != "" {
		rows = append(rows, []string{"Drive type", t.DriveType})
	}
	if t.VideoFilename != "" {
		rows = append(rows, []string{"Video", t.VideoFilename})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}
