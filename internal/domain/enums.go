package domain

import (
	"fmt"
	"strings"
)

// Category is the organ a primary cancer arises from, as assigned by classification.
type Category string

const (
	CategoryStomach    Category = "stomach"
	CategoryColorectal Category = "colorectal"
	CategoryBreast     Category = "breast"
	CategoryEsophagus  Category = "esophagus"
	CategoryLung       Category = "lung"
	CategoryProstate   Category = "prostate"
	CategoryThyroid    Category = "thyroid"
	CategoryPancreas   Category = "pancreas"
	CategoryCervix     Category = "cervix"
	CategoryLiver      Category = "liver"
	CategoryOthers     Category = "others"
)

// organCategories lists the implemented organs in classifier enum order.
var organCategories = []Category{
	CategoryStomach,
	CategoryColorectal,
	CategoryBreast,
	CategoryEsophagus,
	CategoryLung,
	CategoryProstate,
	CategoryThyroid,
	CategoryPancreas,
	CategoryCervix,
	CategoryLiver,
}

// OrganCategories returns the implemented organ categories, excluding "others".
func OrganCategories() []Category {
	out := make([]Category, len(organCategories))
	copy(out, organCategories)
	return out
}

// Categories returns every category the classifier may emit, "others" last.
func Categories() []Category {
	return append(OrganCategories(), CategoryOthers)
}

// IsOrgan reports whether c is one of the implemented organ categories.
func (c Category) IsOrgan() bool {
	for _, o := range organCategories {
		if c == o {
			return true
		}
	}
	return false
}

// ParseCategory canonicalizes a category emitted by a backend. "other" is
// accepted as an alias of "others".
func ParseCategory(s string) (Category, error) {
	v := Category(strings.ToLower(strings.TrimSpace(s)))
	if v == "other" {
		return CategoryOthers, nil
	}
	if v == CategoryOthers || v.IsOrgan() {
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// CategoryStrings returns Categories as plain strings, for schema enums.
func CategoryStrings(withOthers bool) []string {
	cats := OrganCategories()
	if withOthers {
		cats = Categories()
	}
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
