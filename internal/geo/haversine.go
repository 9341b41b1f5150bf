package geo

import (
	"math"
	"sort"
)

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Valid reports whether the point lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Ranked pairs an item with its distance from the search origin.
type Ranked[T any] struct {
	Item       T
	DistanceKm float64
}

// Within keeps the items located no further than radiusKm from origin,
// nearest first. Ties keep input order.
func Within[T any](origin Point, radiusKm float64, items []T, at func(T) Point) []Ranked[T] {
	out := make([]Ranked[T], 0, len(items))
	for _, item := range items {
		d := Haversine(origin, at(item))
		if d <= radiusKm {
			out = append(out, Ranked[T]{Item: item, DistanceKm: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}
