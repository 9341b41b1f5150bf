package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKnownDistances(t *testing.T) {
	tirana := Point{Lat: 41.3275, Lng: 19.8187}
	durres := Point{Lat: 41.3246, Lng: 19.4565}
	paris := Point{Lat: 48.8566, Lng: 2.3522}
	london := Point{Lat: 51.5074, Lng: -0.1278}

	assert.InDelta(t, 30.3, Haversine(tirana, durres), 0.5)
	assert.InDelta(t, 343.5, Haversine(paris, london), 1.0)
	assert.Zero(t, Haversine(paris, paris))
	assert.InDelta(t, Haversine(paris, london), Haversine(london, paris), 1e-9)
}

func TestHaversineAntipodal(t *testing.T) {
	d := Haversine(Point{0, 0}, Point{0, 180})
	assert.InDelta(t, 20015.1, d, 1.0)
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 41, Lng: 19}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: -181}.Valid())
}

type place struct {
	name string
	pos  Point
}

func TestWithinFiltersAndSorts(t *testing.T) {
	origin := Point{Lat: 41.3275, Lng: 19.8187}
	places := []place{
		{"durres", Point{Lat: 41.3246, Lng: 19.4565}},
		{"centre", Point{Lat: 41.3280, Lng: 19.8190}},
		{"shkoder", Point{Lat: 42.0683, Lng: 19.5126}},
		{"kamez", Point{Lat: 41.3817, Lng: 19.7606}},
	}

	got := Within(origin, 40, places, func(p place) Point { return p.pos })
	require.Len(t, got, 3)
	assert.Equal(t, "centre", got[0].Item.name)
	assert.Equal(t, "kamez", got[1].Item.name)
	assert.Equal(t, "durres", got[2].Item.name)
	assert.LessOrEqual(t, got[1].DistanceKm, got[2].DistanceKm)
}

func TestWithinEmpty(t *testing.T) {
	got := Within(Point{}, 10, []place(nil), func(p place) Point { return p.pos })
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
