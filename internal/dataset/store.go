package dataset

import (
	"iter"
	"sort"
	"strings"
	"time"
)

// Store is an immutable, indexed snapshot of the dataset. A reload builds a
// new Store; an existing one is never modified, so any number of readers may
// share it without locking.
type Store struct {
	cities   []*City
	byCode   map[string]*City
	byName   map[string]*City
	sources  []string
	errors   []SourceError
	loadedAt time.Time
}

// NewStore indexes cities given in load order. When two records share a
// name (case-insensitively) the first one is kept and later ones are
// dropped. When two kept records share a code the first one owns the code
// index entry.
//
// Iteration order is ascending by lowercased name, ties broken by load order.
func NewStore(cities []City) *Store {
	s := &Store{
		byCode:   make(map[string]*City, len(cities)),
		byName:   make(map[string]*City, len(cities)),
		loadedAt: time.Now().UTC(),
	}

	for i := range cities {
		c := cities[i]
		key := nameKey(c.Name)
		if _, dup := s.byName[key]; dup {
			continue
		}
		s.byName[key] = &c
		if c.Code != "" {
			if _, dup := s.byCode[c.Code]; !dup {
				s.byCode[c.Code] = &c
			}
		}
		s.cities = append(s.cities, &c)
	}

	sort.SliceStable(s.cities, func(i, j int) bool {
		return nameKey(s.cities[i].Name) < nameKey(s.cities[j].Name)
	})
	return s
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

// ByCode returns the city with the given administrative code.
func (s *Store) ByCode(code string) (*City, bool) {
	c, ok := s.byCode[code]
	return c, ok
}

// ByName returns the city whose name equals name, ignoring case.
func (s *Store) ByName(name string) (*City, bool) {
	c, ok := s.byName[nameKey(name)]
	return c, ok
}

// All yields every city in iteration order.
func (s *Store) All() iter.Seq[*City] {
	return func(yield func(*City) bool) {
		for _, c := range s.cities {
			if !yield(c) {
				return
			}
		}
	}
}

// Len returns the number of cities in the store.
func (s *Store) Len() int { return len(s.cities) }

// Sources returns the names of the source units that loaded successfully.
func (s *Store) Sources() []string { return append([]string(nil), s.sources...) }

// Errors returns the source units that were skipped while loading.
func (s *Store) Errors() []SourceError { return append([]SourceError(nil), s.errors...) }

// LoadedAt returns when the store was built.
func (s *Store) LoadedAt() time.Time { return s.loadedAt }
