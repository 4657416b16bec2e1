package resolve

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadmayfield/rainfalld/internal/dataset"
	"github.com/chadmayfield/rainfalld/internal/geo"
)

func ptr(v float64) *float64 { return &v }

func city(name, code string, lat, lon float64) dataset.City {
	return dataset.City{Name: name, Code: code, Latitude: ptr(lat), Longitude: ptr(lon)}
}

func testStore() *dataset.Store {
	return dataset.NewStore([]dataset.City{
		city("São Paulo", "3550308", -23.5505, -46.6333),
		city("Rio de Janeiro", "3304557", -22.9068, -43.1729),
		city("Salvador", "2927408", -12.9777, -38.5016),
		city("Campinas", "3509502", -22.9056, -47.0608),
		{Name: "Nowhere", Code: "9999999"},
	})
}

func TestResolve_ByCodeForEveryCity(t *testing.T) {
	s := testStore()
	for c := range s.All() {
		m, err := Resolve(s, Query{Code: c.Code})
		require.NoError(t, err, c.Name)
		assert.Same(t, c, m.City)
		assert.Equal(t, MethodCode, m.Method)
	}
}

func TestResolve_ByNameIgnoresCase(t *testing.T) {
	s := testStore()
	for c := range s.All() {
		for _, name := range []string{c.Name, strings.ToUpper(c.Name), strings.ToLower(c.Name)} {
			m, err := Resolve(s, Query{Name: name})
			require.NoError(t, err, name)
			assert.Same(t, c, m.City, name)
			assert.Equal(t, MethodName, m.Method)
		}
	}
}

func TestResolve_CodeBeforeName(t *testing.T) {
	s := testStore()
	m, err := Resolve(s, Query{Code: "3304557", Name: "Salvador"})
	require.NoError(t, err)
	assert.Equal(t, "Rio de Janeiro", m.City.Name)
}

func TestResolve_UnknownCodeFallsThroughToName(t *testing.T) {
	s := testStore()
	m, err := Resolve(s, Query{Code: "0000000", Name: "salvador"})
	require.NoError(t, err)
	assert.Equal(t, "Salvador", m.City.Name)
	assert.Equal(t, MethodName, m.Method)
}

func TestResolve_ExactCoordinates(t *testing.T) {
	s := testStore()
	m, err := Resolve(s, Query{Lat: ptr(-22.90685), Lon: ptr(-43.17285)})
	require.NoError(t, err)
	assert.Equal(t, "Rio de Janeiro", m.City.Name)
	assert.Equal(t, MethodCoordinates, m.Method)
	assert.Zero(t, m.DistanceKm)
}

func TestResolve_ToleranceIsStrict(t *testing.T) {
	s := dataset.NewStore([]dataset.City{city("A", "1", 0, 0)})
	m, err := Resolve(s, Query{Lat: ptr(0.0002), Lon: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, MethodNearest, m.Method, "0.0002 is outside the tolerance")
}

func TestResolve_ExactCoordinatesFirstInOrder(t *testing.T) {
	s := dataset.NewStore([]dataset.City{
		city("Beta", "2", 10.00005, 10),
		city("Alpha", "1", 10, 10.00005),
	})
	m, err := Resolve(s, Query{Lat: ptr(10), Lon: ptr(10)})
	require.NoError(t, err)
	assert.Equal(t, "Alpha", m.City.Name, "iteration order is by name")
}

func TestResolve_Nearest(t *testing.T) {
	s := dataset.NewStore([]dataset.City{
		city("A", "1", 0, 0),
		city("B", "2", 10, 10),
	})
	m, err := Resolve(s, Query{Lat: ptr(1), Lon: ptr(1)})
	require.NoError(t, err)
	assert.Equal(t, "A", m.City.Name)
	assert.Equal(t, MethodNearest, m.Method)
	assert.InDelta(t, geo.DistanceKm(1, 1, 0, 0), m.DistanceKm, 1e-9)
}

func TestResolve_NearestMatchesBruteForce(t *testing.T) {
	s := testStore()
	points := [][2]float64{{-15.78, -47.93}, {-3.73, -38.52}, {-30.03, -51.22}, {-22.0, -45.0}}
	for _, p := range points {
		m, err := Resolve(s, Query{Lat: ptr(p[0]), Lon: ptr(p[1])})
		require.NoError(t, err)

		var best *dataset.City
		bestDist := 0.0
		for c := range s.All() {
			lat, lon, ok := c.Coordinates()
			if !ok {
				continue
			}
			d := geo.DistanceKm(p[0], p[1], lat, lon)
			if best == nil || d < bestDist {
				best, bestDist = c, d
			}
		}
		assert.Same(t, best, m.City, fmt.Sprint(p))
	}
}

func TestResolve_NearestTieGoesToFirst(t *testing.T) {
	s := dataset.NewStore([]dataset.City{
		city("East", "2", 0, 1),
		city("West", "1", 0, -1),
	})
	m, err := Resolve(s, Query{Lat: ptr(0), Lon: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, "East", m.City.Name)
}

func TestResolve_NearestSkipsMissingCoordinates(t *testing.T) {
	lat := 0.0
	s := dataset.NewStore([]dataset.City{
		{Name: "Aaa", Code: "1", Latitude: &lat},
		city("Zzz", "2", 50, 50),
	})
	m, err := Resolve(s, Query{Lat: ptr(0), Lon: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, "Zzz", m.City.Name)
}

func TestResolve_NotFound(t *testing.T) {
	s := testStore()
	tests := []struct {
		name string
		q    Query
	}{
		{"empty query", Query{}},
		{"unknown code", Query{Code: "123"}},
		{"unknown name", Query{Name: "Atlantis"}},
		{"latitude only", Query{Name: "Atlantis", Lat: ptr(-23.55)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(s, tt.q)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestResolve_NoCandidatesWithCoordinates(t *testing.T) {
	s := dataset.NewStore([]dataset.City{{Name: "Nowhere"}})
	_, err := Resolve(s, Query{Lat: ptr(0), Lon: ptr(0)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAutocomplete(t *testing.T) {
	s := dataset.NewStore([]dataset.City{
		{Name: "São Paulo"},
		{Name: "Sao Gonçalo"},
		{Name: "Vassouras"},
		{Name: "São José dos Campos"},
		{Name: "Osasco"},
		{Name: "Alto Sao Joao"},
	})

	got, err := Autocomplete(s, "sao", DefaultAutocompleteOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"Alto Sao Joao", "Sao Gonçalo"}, got)

	got, err = Autocomplete(s, "SÃO", DefaultAutocompleteOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"São José dos Campos", "São Paulo"}, got)
}

func TestAutocomplete_TooShort(t *testing.T) {
	s := testStore()
	for _, prefix := range []string{"", "s", " s ", "ã"} {
		_, err := Autocomplete(s, prefix, DefaultAutocompleteOptions())
		assert.ErrorIs(t, err, ErrPrefixTooShort, prefix)
		assert.ErrorIs(t, err, ErrInvalidQuery, prefix)
	}
}

func TestAutocomplete_Limit(t *testing.T) {
	var cities []dataset.City
	for i := 0; i < 30; i++ {
		cities = append(cities, dataset.City{Name: fmt.Sprintf("Sao City %02d", i)})
	}
	s := dataset.NewStore(cities)

	got, err := Autocomplete(s, "sao", DefaultAutocompleteOptions())
	require.NoError(t, err)
	require.Len(t, got, 20)
	assert.Equal(t, "Sao City 00", got[0])
	assert.Equal(t, "Sao City 19", got[19])
}

func TestSuggest(t *testing.T) {
	s := testStore()
	assert.Equal(t, []string{"Salvador"}, Suggest(s, "salvadr", 5))
	assert.Equal(t, []string{"Campinas"}, Suggest(s, "CAMPINA", 5))
	assert.Empty(t, Suggest(s, "Atlantis", 5))
	assert.Empty(t, Suggest(s, "", 5))
	assert.Empty(t, Suggest(s, "salvador", 0))
}
