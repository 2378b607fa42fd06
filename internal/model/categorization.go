package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/bryan-buckman/curio/internal/apperr"
)

// CategoryEntry is one category with its subcategories.
type CategoryEntry struct {
	Category      string   `json:"category"`
	Subcategories []string `json:"subcategories"`
}

// Categorization is the multi-valued, two-level categorization of an item.
type Categorization []CategoryEntry

// UnmarshalJSON accepts only a list of category objects. Bare strings and
// other shapes are rejected rather than coerced.
func (c *Categorization) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*c = nil
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return apperr.Validation(apperr.ReasonInvalidCategorization, "categorization must be a list of {category, subcategories}")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var entries []CategoryEntry
	if err := dec.Decode(&entries); err != nil {
		return apperr.Validation(apperr.ReasonInvalidCategorization, "malformed categorization: %v", err)
	}
	*c = entries
	return nil
}

// Validate trims names and rejects empty or repeated categories and
// subcategories.
func (c Categorization) Validate() error {
	seen := make(map[string]bool, len(c))
	for i := range c {
		name := strings.TrimSpace(c[i].Category)
		if name == "" {
			return apperr.Validation(apperr.ReasonInvalidCategorization, "category %d has an empty name", i)
		}
		if seen[name] {
			return apperr.Validation(apperr.ReasonInvalidCategorization, "category %q repeated", name)
		}
		seen[name] = true
		c[i].Category = name

		subs := make(map[string]bool, len(c[i].Subcategories))
		for j, s := range c[i].Subcategories {
			s = strings.TrimSpace(s)
			if s == "" {
				return apperr.Validation(apperr.ReasonInvalidCategorization, "category %q has an empty subcategory", name)
			}
			if subs[s] {
				return apperr.Validation(apperr.ReasonInvalidCategorization, "subcategory %q repeated under %q", s, name)
			}
			subs[s] = true
			c[i].Subcategories[j] = s
		}
	}
	return nil
}

// Categories returns the top-level category names.
func (c Categorization) Categories() []string {
	out := make([]string, 0, len(c))
	for _, e := range c {
		out = append(out, e.Category)
	}
	return out
}
