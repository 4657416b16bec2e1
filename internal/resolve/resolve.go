// Package resolve maps a city query to a single dataset record.
//
// Phases run in a fixed order and stop at the first match:
//
//  1. administrative code, exact string match
//  2. name, case-insensitive exact match
//  3. coordinates within CoordinateTolerance degrees on both axes
//  4. nearest city by great-circle distance, when coordinates were given
//
// Phases 3 and 4 scan the store in its iteration order, so ties go to the
// first city encountered. Resolve has no side effects; callers report misses
// to an unresolved-query sink themselves.
package resolve

import (
	"errors"
	"math"

	"github.com/chadmayfield/rainfalld/internal/dataset"
	"github.com/chadmayfield/rainfalld/internal/geo"
)

// CoordinateTolerance is the per-axis tolerance, in degrees, for an exact
// coordinate match.
const CoordinateTolerance = 0.0001

var (
	// ErrNotFound means no phase produced a city.
	ErrNotFound = errors.New("city not found")

	// ErrInvalidQuery marks malformed or insufficient query input.
	ErrInvalidQuery = errors.New("invalid query")
)

// Query describes the city being looked up. Empty strings and nil
// coordinates mean the field was not supplied.
type Query struct {
	Code string
	Name string
	Lat  *float64
	Lon  *float64
}

// Coordinates returns the query point when both coordinates are present.
func (q Query) Coordinates() (lat, lon float64, ok bool) {
	if q.Lat == nil || q.Lon == nil {
		return 0, 0, false
	}
	return *q.Lat, *q.Lon, true
}

// Method names the phase that produced a match.
type Method string

const (
	MethodCode        Method = "code"
	MethodName        Method = "name"
	MethodCoordinates Method = "coordinates"
	MethodNearest     Method = "nearest"
)

// Match is a resolved city. DistanceKm is only set for MethodNearest.
type Match struct {
	City       *dataset.City
	Method     Method
	DistanceKm float64
}

// Resolve runs the lookup phases against s.
func Resolve(s *dataset.Store, q Query) (Match, error) {
	if q.Code != "" {
		if c, ok := s.ByCode(q.Code); ok {
			return Match{City: c, Method: MethodCode}, nil
		}
	}

	if q.Name != "" {
		if c, ok := s.ByName(q.Name); ok {
			return Match{City: c, Method: MethodName}, nil
		}
	}

	lat, lon, ok := q.Coordinates()
	if !ok {
		return Match{}, ErrNotFound
	}

	if c := exactCoordinates(s, lat, lon); c != nil {
		return Match{City: c, Method: MethodCoordinates}, nil
	}

	if c, d := nearest(s, lat, lon); c != nil {
		return Match{City: c, Method: MethodNearest, DistanceKm: d}, nil
	}

	return Match{}, ErrNotFound
}

func exactCoordinates(s *dataset.Store, lat, lon float64) *dataset.City {
	for c := range s.All() {
		clat, clon, ok := c.Coordinates()
		if !ok {
			continue
		}
		if math.Abs(clat-lat) < CoordinateTolerance && math.Abs(clon-lon) < CoordinateTolerance {
			return c
		}
	}
	return nil
}

// nearest returns the city with the strictly smallest distance to the point.
// Cities without both coordinates are not candidates.
func nearest(s *dataset.Store, lat, lon float64) (*dataset.City, float64) {
	var (
		best     *dataset.City
		bestDist = math.Inf(1)
	)
	for c := range s.All() {
		clat, clon, ok := c.Coordinates()
		if !ok {
			continue
		}
		if d := geo.DistanceKm(lat, lon, clat, clon); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}
