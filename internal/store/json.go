package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONStore implements Store as a single JSON array on disk. Every save
// rewrites the whole file through a temporary file and rename.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

type jsonEntry struct {
	ID        int64     `json:"id"`
	Name      *string   `json:"name"`
	Code      *string   `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// NewJSONStore prepares a JSON file store at path. The file is created on the
// first save.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("json store path is required")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	s := &JSONStore{path: path}
	if _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) read() ([]jsonEntry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading unresolved log: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []jsonEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding unresolved log: %w", err)
	}
	return entries, nil
}

func (s *JSONStore) write(entries []jsonEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding unresolved log: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".unresolved-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing unresolved log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing unresolved log: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing unresolved log: %w", err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (e jsonEntry) toQuery() UnresolvedQuery {
	q := UnresolvedQuery{ID: e.ID, CreatedAt: e.Timestamp.UTC()}
	if e.Name != nil {
		q.Name = *e.Name
	}
	if e.Code != nil {
		q.Code = *e.Code
	}
	return q
}

func (s *JSONStore) SaveUnresolved(ctx context.Context, q *UnresolvedQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	var next int64 = 1
	if n := len(entries); n > 0 {
		next = entries[n-1].ID + 1
	}
	entries = append(entries, jsonEntry{
		ID:        next,
		Name:      optional(q.Name),
		Code:      optional(q.Code),
		Timestamp: q.CreatedAt.UTC(),
	})
	if err := s.write(entries); err != nil {
		return err
	}
	q.ID = next
	return nil
}

func (s *JSONStore) GetUnresolved(ctx context.Context, limit int) ([]UnresolvedQuery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	result := make([]UnresolvedQuery, len(entries))
	for i, e := range entries {
		result[i] = e.toQuery()
	}
	return result, nil
}

func (s *JSONStore) GetUnresolvedByCode(ctx context.Context, code string) ([]UnresolvedQuery, error) {
	all, err := s.GetUnresolved(ctx, 0)
	if err != nil {
		return nil, err
	}
	var result []UnresolvedQuery
	for _, q := range all {
		if q.Code != "" && q.Code == code {
			result = append(result, q)
		}
	}
	return result, nil
}

func (s *JSONStore) CountUnresolved(ctx context.Context) (int, error) {
	all, err := s.GetUnresolved(ctx, 0)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (s *JSONStore) Close() error { return nil }
