package resolve

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/chadmayfield/rainfalld/internal/dataset"
)

// ErrPrefixTooShort is returned by Autocomplete for prefixes below the
// minimum length.
var ErrPrefixTooShort = fmt.Errorf("%w: prefix too short", ErrInvalidQuery)

// AutocompleteOptions bounds an autocomplete lookup.
type AutocompleteOptions struct {
	Limit     int
	MinLength int
}

// DefaultAutocompleteOptions returns at most 20 names for prefixes of two
// or more characters.
func DefaultAutocompleteOptions() AutocompleteOptions {
	return AutocompleteOptions{Limit: 20, MinLength: 2}
}

// Autocomplete returns city names containing prefix, ignoring case, in
// store iteration order. Length is counted in runes after trimming spaces.
func Autocomplete(s *dataset.Store, prefix string, opts AutocompleteOptions) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if utf8.RuneCountInString(prefix) < opts.MinLength {
		return nil, ErrPrefixTooShort
	}

	needle := strings.ToLower(prefix)
	names := make([]string, 0, max(opts.Limit, 0))
	for c := range s.All() {
		if len(names) >= opts.Limit {
			break
		}
		if strings.Contains(strings.ToLower(c.Name), needle) {
			names = append(names, c.Name)
		}
	}
	return names, nil
}

// MaxSuggestionDistance is the largest edit distance Suggest accepts.
const MaxSuggestionDistance = 3

// Suggest returns up to limit city names close to name, nearest first. It is
// meant for "did you mean" hints after a failed name lookup.
func Suggest(s *dataset.Store, name string, limit int) []string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || limit <= 0 {
		return nil
	}

	type candidate struct {
		name string
		dist int
	}
	var candidates []candidate
	for c := range s.All() {
		d := levenshtein.ComputeDistance(name, strings.ToLower(c.Name))
		if d <= MaxSuggestionDistance {
			candidates = append(candidates, candidate{name: c.Name, dist: d})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].dist < candidates[j].dist
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}
