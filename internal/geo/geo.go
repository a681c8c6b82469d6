// Geographic helpers shared by mission arrival checks and diagnostics
package geo

import (
	"fmt"
	"math"
)

const earthRadiusM = 6371000.0

// DistanceMeters calculates the haversine distance between two lat/lon points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// WithinRadius reports whether the two points are at most radiusM apart.
func WithinRadius(lat1, lon1, lat2, lon2, radiusM float64) bool {
	return DistanceMeters(lat1, lon1, lat2, lon2) <= radiusM
}

// FormatDistance renders a distance in meters as "NNN m" or "N.N km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// EstimateETAMinutes estimates travel time at the given average speed,
// rounded up to whole minutes.
func EstimateETAMinutes(meters, averageSpeedKmh float64) int {
	if averageSpeedKmh <= 0 {
		averageSpeedKmh = 40
	}
	return int(math.Ceil(meters / 1000 / averageSpeedKmh * 60))
}
