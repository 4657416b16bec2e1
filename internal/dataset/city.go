package dataset

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// City is one record of the rainfall dataset. Records are built once at load
// time and never modified afterwards.
type City struct {
	Name      string
	Code      string
	Latitude  *float64
	Longitude *float64
	State     string
	Daily     DailySeries
}

// Coordinates returns the city position. ok is false when either coordinate
// is missing from the source.
func (c *City) Coordinates() (lat, lon float64, ok bool) {
	if c.Latitude == nil || c.Longitude == nil {
		return 0, 0, false
	}
	return *c.Latitude, *c.Longitude, true
}

// DailySeries maps a YYYY-MM-DD date to the rainfall reading for that day.
// Keys are expected in YYYY-MM-DD form; the first seven characters are used
// as the month key without further validation.
type DailySeries map[string]Amount

// Amount is a daily rainfall reading kept verbatim from the source. The
// source is not validated at load time; Millimeters reports whether the
// reading is numeric.
type Amount struct {
	raw string
}

// Millimeters builds a numeric reading.
func Millimeters(v float64) Amount {
	return Amount{raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// RawAmount builds a reading from arbitrary source text, such as "N/A".
func RawAmount(s string) Amount {
	return Amount{raw: s}
}

// Millimeters parses the reading. Non-numeric and non-finite readings
// report ok=false.
func (a Amount) Millimeters() (float64, bool) {
	return parseNumber(a.raw)
}

func parseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// String returns the reading as it appeared in the source.
func (a Amount) String() string { return a.raw }

// UnmarshalJSON accepts any JSON value. Strings are unquoted; every other
// value keeps its literal text.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		a.raw = s
		return nil
	}
	a.raw = string(b)
	return nil
}

// MarshalJSON writes numeric readings as numbers and everything else as a string.
func (a Amount) MarshalJSON() ([]byte, error) {
	if v, ok := a.Millimeters(); ok {
		return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
	}
	return json.Marshal(a.raw)
}
