// Package geo holds the spherical-earth helpers shared by the smoother,
// the statistics and the simulated source.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used unless a caller overrides it.
const EarthRadiusMeters = 6371000.0

// Distance calculates the great-circle distance in meters between two points
// using the Haversine formula on a sphere of the given radius. A radius <= 0
// selects EarthRadiusMeters.
func Distance(lat1, lon1, lat2, lon2, radius float64) float64 {
	if radius <= 0 {
		radius = EarthRadiusMeters
	}

	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	deltaLat := toRadians(lat2 - lat1)
	deltaLon := toRadians(lon2 - lon1)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	d := radius * c
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

// Bearing calculates the forward azimuth from point 1 to point 2 in degrees,
// normalized to [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	deltaLonRad := toRadians(lon2 - lon1)

	y := math.Sin(deltaLonRad) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLonRad)

	return NormalizeDegrees(math.Atan2(y, x) * 180 / math.Pi)
}

// Destination calculates the point reached by travelling distance meters from
// (lat, lon) along the given bearing.
func Destination(lat, lon, distance, bearing, radius float64) (newLat, newLon float64) {
	if radius <= 0 {
		radius = EarthRadiusMeters
	}

	latRad := toRadians(lat)
	lonRad := toRadians(lon)
	bearingRad := toRadians(bearing)
	angularDistance := distance / radius

	newLatRad := math.Asin(math.Sin(latRad)*math.Cos(angularDistance) +
		math.Cos(latRad)*math.Sin(angularDistance)*math.Cos(bearingRad))

	newLonRad := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angularDistance)*math.Cos(latRad),
		math.Cos(angularDistance)-math.Sin(latRad)*math.Sin(newLatRad))

	newLat = newLatRad * 180.0 / math.Pi
	newLon = newLonRad * 180.0 / math.Pi

	// Keep longitude in -180..180
	for newLon > 180 {
		newLon -= 360
	}
	for newLon < -180 {
		newLon += 360
	}

	return newLat, newLon
}

// NormalizeDegrees maps any angle onto [0, 360). NaN and infinities map to 0.
func NormalizeDegrees(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// ValidCoordinate reports whether lat/lon are finite and inside the WGS84 range.
func ValidCoordinate(lat, lon float64) bool {
	if !Finite(lat) || !Finite(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
