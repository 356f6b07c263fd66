package gps

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const knotsToMps = 0.514444

// Sentence is a checksum-verified NMEA 0183 sentence split into fields.
type Sentence struct {
	Talker string // e.g. "GP", "GN"
	Type   string // e.g. "RMC", "GGA"
	Fields []string
}

// calculateChecksum calculates the NMEA checksum for a sentence
func calculateChecksum(sentence string) string {
	var checksum byte
	for i := 1; i < len(sentence); i++ { // Skip the '$' character
		checksum ^= sentence[i]
	}
	return fmt.Sprintf("%02X", checksum)
}

// formatNMEA formats a complete NMEA sentence with checksum
func formatNMEA(sentence string) string {
	checksum := calculateChecksum(sentence)
	return fmt.Sprintf("%s*%s\r\n", sentence, checksum)
}

// ParseSentence verifies the checksum of a single NMEA line and splits it.
// Lines without a checksum are accepted as-is.
func ParseSentence(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if len(line) < 7 || line[0] != '$' {
		return Sentence{}, ErrInvalidSentence
	}

	body := line
	if star := strings.LastIndexByte(line, '*'); star >= 0 {
		body = line[:star]
		want := strings.ToUpper(line[star+1:])
		if got := calculateChecksum(body); got != want {
			return Sentence{}, fmt.Errorf("%w: got %s want %s", ErrChecksumMismatch, got, want)
		}
	}

	fields := strings.Split(body[1:], ",")
	if len(fields[0]) < 5 {
		return Sentence{}, ErrInvalidSentence
	}
	addr := fields[0]
	return Sentence{
		Talker: addr[:len(addr)-3],
		Type:   addr[len(addr)-3:],
		Fields: fields[1:],
	}, nil
}

// rmcData is the decoded content of an RMC sentence.
type rmcData struct {
	when      time.Time
	valid     bool
	lat, lon  float64
	speedMps  *float64
	courseDeg *float64
}

// ggaData is the decoded content of a GGA sentence.
type ggaData struct {
	timeOfDay string
	quality   int
	hdop      float64
	altitude  *float64
}

func parseRMC(s Sentence) (rmcData, error) {
	if len(s.Fields) < 9 {
		return rmcData{}, fmt.Errorf("%w: RMC has %d fields", ErrInvalidSentence, len(s.Fields))
	}
	f := s.Fields
	var d rmcData
	d.valid = f[1] == "A"
	if !d.valid {
		return d, nil
	}

	when, err := parseDateTime(f[8], f[0])
	if err != nil {
		return rmcData{}, err
	}
	d.when = when

	if d.lat, err = parseCoordinate(f[2], f[3]); err != nil {
		return rmcData{}, err
	}
	if d.lon, err = parseCoordinate(f[4], f[5]); err != nil {
		return rmcData{}, err
	}
	if f[6] != "" {
		knots, err := strconv.ParseFloat(f[6], 64)
		if err != nil {
			return rmcData{}, fmt.Errorf("%w: speed %q", ErrInvalidSentence, f[6])
		}
		d.speedMps = Float(knots * knotsToMps)
	}
	if f[7] != "" {
		course, err := strconv.ParseFloat(f[7], 64)
		if err != nil {
			return rmcData{}, fmt.Errorf("%w: course %q", ErrInvalidSentence, f[7])
		}
		d.courseDeg = Float(course)
	}
	return d, nil
}

func parseGGA(s Sentence) (ggaData, error) {
	if len(s.Fields) < 9 {
		return ggaData{}, fmt.Errorf("%w: GGA has %d fields", ErrInvalidSentence, len(s.Fields))
	}
	f := s.Fields
	d := ggaData{timeOfDay: f[0]}
	if f[5] != "" {
		q, err := strconv.Atoi(f[5])
		if err != nil {
			return ggaData{}, fmt.Errorf("%w: quality %q", ErrInvalidSentence, f[5])
		}
		d.quality = q
	}
	if f[7] != "" {
		hdop, err := strconv.ParseFloat(f[7], 64)
		if err != nil {
			return ggaData{}, fmt.Errorf("%w: hdop %q", ErrInvalidSentence, f[7])
		}
		d.hdop = hdop
	}
	if f[8] != "" {
		alt, err := strconv.ParseFloat(f[8], 64)
		if err != nil {
			return ggaData{}, fmt.Errorf("%w: altitude %q", ErrInvalidSentence, f[8])
		}
		d.altitude = Float(alt)
	}
	return d, nil
}

// parseCoordinate converts NMEA (D)DDMM.MMMM plus hemisphere into decimal degrees.
func parseCoordinate(value, hemisphere string) (float64, error) {
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		dot = len(value)
	}
	if dot < 3 {
		return 0, fmt.Errorf("%w: coordinate %q", ErrInvalidSentence, value)
	}
	deg, err := strconv.Atoi(value[:dot-2])
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q", ErrInvalidSentence, value)
	}
	min, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q", ErrInvalidSentence, value)
	}
	v := float64(deg) + min/60
	switch hemisphere {
	case "N", "E":
	case "S", "W":
		v = -v
	default:
		return 0, fmt.Errorf("%w: hemisphere %q", ErrInvalidSentence, hemisphere)
	}
	return v, nil
}

// parseDateTime combines an RMC date (DDMMYY) and time (HHMMSS[.sss]) into UTC.
func parseDateTime(date, clock string) (time.Time, error) {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, fmt.Errorf("%w: date/time %q %q", ErrInvalidSentence, date, clock)
	}
	t, err := time.Parse("020106150405", date+clock[:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date/time %q %q", ErrInvalidSentence, date, clock)
	}
	if len(clock) > 7 && clock[6] == '.' {
		frac, err := strconv.ParseFloat("0"+clock[6:], 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: time %q", ErrInvalidSentence, clock)
		}
		t = t.Add(time.Duration(math.Round(frac*1000)) * time.Millisecond)
	}
	return t.UTC(), nil
}

// splitCoordinate converts decimal degrees to NMEA degrees, minutes and hemisphere.
func splitCoordinate(v float64, pos, neg string) (int, float64, string) {
	hem := pos
	if v < 0 {
		hem = neg
	}
	abs := math.Abs(v)
	deg := int(abs)
	return deg, (abs - float64(deg)) * 60, hem
}

// FormatRMC generates an RMC (Recommended Minimum) sentence for a fix
func FormatRMC(fix Fix) string {
	ts := fix.Time()
	timeStr := ts.Format("150405.00") // HHMMSS.ss
	dateStr := ts.Format("020106")    // DDMMYY

	latDeg, latMin, latHem := splitCoordinate(fix.Latitude, "N", "S")
	lonDeg, lonMin, lonHem := splitCoordinate(fix.Longitude, "E", "W")

	speed := ""
	if fix.SpeedMps != nil {
		speed = fmt.Sprintf("%.2f", *fix.SpeedMps/knotsToMps)
	}
	course := ""
	if fix.HeadingDeg != nil {
		course = fmt.Sprintf("%.1f", *fix.HeadingDeg)
	}

	sentence := fmt.Sprintf("$GPRMC,%s,A,%02d%09.6f,%s,%03d%09.6f,%s,%s,%s,%s,,,A",
		timeStr,
		latDeg, latMin, latHem,
		lonDeg, lonMin, lonHem,
		speed, course, dateStr)

	return formatNMEA(sentence)
}

// FormatVoidRMC generates an RMC sentence when there's no GPS fix
func FormatVoidRMC(ts time.Time) string {
	ts = ts.UTC()
	sentence := fmt.Sprintf("$GPRMC,%s,V,,,,,,,%s,,,N", ts.Format("150405.00"), ts.Format("020106"))
	return formatNMEA(sentence)
}

// FormatGGA generates a GGA (Global Positioning System Fix Data) sentence.
// HDOP is derived from the fix accuracy and the given user equivalent range error.
func FormatGGA(fix Fix, satellites int, uere float64) string {
	ts := fix.Time()
	latDeg, latMin, latHem := splitCoordinate(fix.Latitude, "N", "S")
	lonDeg, lonMin, lonHem := splitCoordinate(fix.Longitude, "E", "W")

	if uere <= 0 {
		uere = DefaultUERE
	}
	hdop := fix.AccuracyMeters / uere
	altitude := ""
	altUnit := ""
	if fix.AltitudeMeters != nil {
		altitude = fmt.Sprintf("%.1f", *fix.AltitudeMeters)
		altUnit = "M"
	}

	sentence := fmt.Sprintf("$GPGGA,%s,%02d%09.6f,%s,%03d%09.6f,%s,1,%02d,%.2f,%s,%s,0.0,M,,",
		ts.Format("150405.00"),
		latDeg, latMin, latHem,
		lonDeg, lonMin, lonHem,
		satellites, hdop,
		altitude, altUnit)

	return formatNMEA(sentence)
}
