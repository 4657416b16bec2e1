package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SourceError reports a source unit that could not be parsed. The unit is
// skipped and the remaining units still load.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error { return e.Err }

// Source is one unit of raw input, typically a file.
type Source struct {
	Name   string
	Reader io.Reader
}

// sourceRecord mirrors a city entry in the source JSON.
type sourceRecord struct {
	Code      json.RawMessage `json:"codigo_ibge"`
	Latitude  *Amount         `json:"latitude"`
	Longitude *Amount         `json:"longitude"`
	State     string          `json:"estado"`
	Daily     DailySeries     `json:"dados"`
}

func (r *sourceRecord) city(name string) City {
	c := City{
		Name:  name,
		Code:  codeString(r.Code),
		State: r.State,
		Daily: r.Daily,
	}
	if r.Latitude != nil {
		if v, ok := parseNumber(r.Latitude.raw); ok {
			c.Latitude = &v
		}
	}
	if r.Longitude != nil {
		if v, ok := parseNumber(r.Longitude.raw); ok {
			c.Longitude = &v
		}
	}
	return c
}

// codeString renders a code the way it compares: strings unquoted, numbers
// by their literal text, null as empty.
func codeString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// Load parses every source in order and builds a Store from the records
// that decoded. A source that fails to parse is skipped and reported in the
// returned slice; it never fails the whole load.
func Load(sources []Source) (*Store, []SourceError) {
	var (
		cities []City
		loaded []string
		errs   []SourceError
	)
	for _, src := range sources {
		cs, err := decodeSource(src.Reader)
		if err != nil {
			errs = append(errs, SourceError{Source: src.Name, Err: err})
			continue
		}
		cities = append(cities, cs...)
		loaded = append(loaded, src.Name)
	}

	s := NewStore(cities)
	s.sources = loaded
	s.errors = errs
	return s, errs
}

// decodeSource reads a top-level object of city name to record, keeping the
// document order of the keys.
func decodeSource(r io.Reader) ([]City, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("document is not an object of cities")
	}

	var cities []City
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading city name: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}

		var rec sourceRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("city %q: %w", name, err)
		}
		cities = append(cities, rec.city(name))
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("closing document: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after document")
	}
	return cities, nil
}

// Loader produces a fresh Store.
type Loader interface {
	Load(ctx context.Context) (*Store, error)
}

// DirLoader loads every file in Dir whose name matches Pattern, in lexical
// filename order.
type DirLoader struct {
	Dir     string
	Pattern string
}

// Load reads the matching files. It fails only if the directory itself can't
// be listed or the pattern is malformed; unreadable or malformed files are
// recorded on the returned Store.
func (l DirLoader) Load(ctx context.Context) (*Store, error) {
	if _, err := filepath.Match(l.Pattern, ""); err != nil {
		return nil, fmt.Errorf("dataset pattern %q: %w", l.Pattern, err)
	}

	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing dataset directory: %w", err)
	}

	var (
		sources  []Source
		readErrs []SourceError
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(l.Pattern, e.Name()); !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.Dir, e.Name()))
		if err != nil {
			readErrs = append(readErrs, SourceError{Source: e.Name(), Err: err})
			continue
		}
		sources = append(sources, Source{Name: e.Name(), Reader: bytes.NewReader(data)})
	}

	s, _ := Load(sources)
	if len(readErrs) > 0 {
		s.errors = append(readErrs, s.errors...)
	}
	return s, nil
}

// String describes the loader for logs.
func (l DirLoader) String() string {
	return strings.TrimSuffix(l.Dir, "/") + "/" + l.Pattern
}
