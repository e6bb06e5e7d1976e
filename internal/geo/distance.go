// Package geo computes straight-line distances between coordinates.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinate is returned for NaN or infinite coordinates.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point is a longitude/latitude pair in degrees.
type Point struct {
	Lng float64
	Lat float64
}

// DistanceKm returns the great-circle distance between a and b in kilometers.
func DistanceKm(a, b Point) (float64, error) {
	if !finite(a) || !finite(b) {
		return 0, ErrInvalidCoordinate
	}

	dLat := deg2rad(b.Lat - a.Lat)
	dLng := deg2rad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(deg2rad(a.Lat))*math.Cos(deg2rad(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c, nil
}

func finite(p Point) bool {
	return !math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0) &&
		!math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0)
}

func deg2rad(deg float64) float64 {
	return deg * math.Pi / 180
}
