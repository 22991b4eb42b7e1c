// Package registry maps an organ category to the ordered extractors run for it.
// List order is merge precedence: later extractors overwrite earlier keys.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"registrar/internal/domain"
)

// UnknownExtractorError reports an extractor id that no definition resolves.
type UnknownExtractorError struct {
	Category domain.Category
	ID       string
}

func (e *UnknownExtractorError) Error() string {
	return fmt.Sprintf("unknown extractor %q for category %s", e.ID, e.Category)
}

// Resolver reports whether an extractor id has a runnable definition.
type Resolver interface {
	Has(id string) bool
}

// Registry is immutable after construction and safe for concurrent reads.
type Registry struct {
	entries map[domain.Category][]string
}

var defaultEntries = map[domain.Category][]string{
	domain.CategoryLung: {
		"LungCancerNonnested", "LungCancerStaging", "LungCancerMargins",
		"LungCancerLN", "LungCancerBiomarkers", "LungCancerOthernested",
	},
	domain.CategoryColorectal: {
		"ColonCancerNonnested", "ColonCancerStaging", "ColonCancerMargins",
		"ColonCancerLN", "ColonCancerBiomarkers",
	},
	domain.CategoryProstate: {
		"ProstateCancerNonnested", "ProstateCancerStaging", "ProstateCancerMargins", "ProstateCancerLN",
	},
	domain.CategoryEsophagus: {
		"EsophagusCancerNonnested", "EsophagusCancerStaging", "EsophagusCancerMargins", "EsophagusCancerLN",
	},
	domain.CategoryBreast: {
		"BreastCancerNonnested", "DCIS", "BreastCancerGrading", "BreastCancerStaging",
		"BreastCancerMargins", "BreastCancerLN", "BreastCancerBiomarkers",
	},
	domain.CategoryPancreas: {
		"PancreasCancerNonnested", "PancreasCancerStaging", "PancreasCancerMargins", "PancreasCancerLN",
	},
	domain.CategoryThyroid: {
		"ThyroidCancerNonnested", "ThyroidCancerStaging", "ThyroidCancerMargins", "ThyroidCancerLN",
	},
	domain.CategoryCervix: {
		"CervixCancerNonnested", "CervixCancerStaging", "CervixCancerMargins", "CervixCancerLN",
	},
	domain.CategoryLiver: {
		"LiverCancerNonnested", "LiverCancerExtent", "LiverCancerVascularInvasion",
		"LiverCancerStaging", "LiverCancerMargins", "LiverCancerLN",
	},
	domain.CategoryStomach: {
		"StomachCancerNonnested", "StomachCancerStaging", "StomachCancerMargins", "StomachCancerLN",
	},
}

// Default returns the built-in organ table.
func Default() *Registry {
	r, _ := New(defaultEntries)
	return r
}

// New copies entries into a registry under their canonical category. Categories
// must be known; duplicate ids within one category are rejected.
func New(entries map[domain.Category][]string) (*Registry, error) {
	out := make(map[domain.Category][]string, len(entries))
	for key, ids := range entries {
		cat, err := domain.ParseCategory(string(key))
		if err != nil {
			return nil, err
		}
		if _, dup := out[cat]; dup {
			return nil, fmt.Errorf("category %s listed more than once", cat)
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if id == "" {
				return nil, fmt.Errorf("category %s: empty extractor id", cat)
			}
			if seen[id] {
				return nil, fmt.Errorf("category %s: duplicate extractor %s", cat, id)
			}
			seen[id] = true
		}
		out[cat] = append([]string(nil), ids...)
	}
	return &Registry{entries: out}, nil
}

// LoadFile reads a YAML mapping of category to extractor list. Categories in
// the file replace the built-in entries for those categories; an empty list
// disables a category.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding registry file: %w", err)
	}
	merged := make(map[domain.Category][]string, len(defaultEntries))
	for cat, ids := range defaultEntries {
		merged[cat] = ids
	}
	for key, ids := range raw {
		cat, err := domain.ParseCategory(key)
		if err != nil {
			return nil, fmt.Errorf("registry file: %w", err)
		}
		if len(ids) == 0 {
			delete(merged, cat)
			continue
		}
		merged[cat] = ids
	}
	return New(merged)
}

// Lookup returns a copy of the extractor list for a category, in order.
func (r *Registry) Lookup(cat domain.Category) ([]string, bool) {
	ids, ok := r.entries[cat]
	if !ok {
		return nil, false
	}
	return append([]string(nil), ids...), true
}

// Categories returns the mapped categories in canonical order.
func (r *Registry) Categories() []domain.Category {
	var out []domain.Category
	for _, c := range domain.Categories() {
		if _, ok := r.entries[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Entries returns a deep copy of the whole table.
func (r *Registry) Entries() map[domain.Category][]string {
	out := make(map[domain.Category][]string, len(r.entries))
	for c, ids := range r.entries {
		out[c] = append([]string(nil), ids...)
	}
	return out
}

// Resolve checks every id against res and returns the joined
// UnknownExtractorErrors, or nil when all ids resolve.
func (r *Registry) Resolve(res Resolver) error {
	cats := make([]domain.Category, 0, len(r.entries))
	for c := range r.entries {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	var errs []error
	for _, c := range cats {
		for _, id := range r.entries[c] {
			if !res.Has(id) {
				errs = append(errs, &UnknownExtractorError{Category: c, ID: id})
			}
		}
	}
	return errors.Join(errs...)
}
