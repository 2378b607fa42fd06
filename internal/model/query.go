package model

import (
	"strings"

	"github.com/bryan-buckman/curio/internal/apperr"
)

// Sort is one of the fixed orderings of a search.
type Sort string

const (
	SortNewest        Sort = "newest"
	SortOldest        Sort = "oldest"
	SortTitleAsc      Sort = "title_asc"
	SortTitleDesc     Sort = "title_desc"
	SortDurationAsc   Sort = "duration_asc"
	SortDurationDesc  Sort = "duration_desc"
	SortAddedDesc     Sort = "added_desc"
	SortAddedAsc      Sort = "added_asc"
	SortPublishedDesc Sort = "published_desc"
	SortPublishedAsc  Sort = "published_asc"
)

// Sorts lists every accepted sort key.
var Sorts = []Sort{
	SortNewest, SortOldest,
	SortTitleAsc, SortTitleDesc,
	SortDurationAsc, SortDurationDesc,
	SortAddedDesc, SortAddedAsc,
	SortPublishedDesc, SortPublishedAsc,
}

// ParseSort validates s; the empty string maps to def.
func ParseSort(s string, def Sort) (Sort, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	for _, known := range Sorts {
		if Sort(s) == known {
			return known, nil
		}
	}
	return "", apperr.Validation(apperr.ReasonInvalidSort, "unknown sort %q", s)
}

// Dimension names a filter/facet dimension.
type Dimension string

const (
	DimSource      Dimension = "source"
	DimCategory    Dimension = "category"
	DimSubcategory Dimension = "subcategory"
	DimChannel     Dimension = "channel"
	DimLanguage    Dimension = "language"
	DimVariantType Dimension = "variant_type"
	DimHasAudio    Dimension = "has_audio"
	DimText        Dimension = "text"
)

// FacetDimensions are the dimensions counted by the facet aggregator.
var FacetDimensions = []Dimension{
	DimSource, DimCategory, DimSubcategory, DimChannel, DimLanguage, DimVariantType, DimHasAudio,
}

// Filter is the applied filter set. Values within a dimension are OR'd and
// dimensions are AND'd.
type Filter struct {
	Sources        []string
	Categories     []string
	Subcategories  []string
	ParentCategory string
	Channels       []string
	Languages      []string
	VariantTypes   []Variant
	HasAudio       *bool
	Text           string
}

// Normalize trims values, drops blanks and validates enumerated dimensions.
func (f *Filter) Normalize() error {
	f.Sources = cleanValues(f.Sources, true)
	f.Categories = cleanValues(f.Categories, false)
	f.Subcategories = cleanValues(f.Subcategories, false)
	f.Channels = cleanValues(f.Channels, false)
	f.ParentCategory = strings.TrimSpace(f.ParentCategory)
	f.Text = strings.TrimSpace(f.Text)

	langs := cleanValues(f.Languages, true)
	for i, l := range langs {
		norm, err := NormalizeLanguage(l)
		if err != nil {
			return err
		}
		langs[i] = norm
	}
	f.Languages = langs

	for _, v := range f.VariantTypes {
		if !v.Valid() {
			return apperr.Validation(apperr.ReasonInvalidVariant, "unknown variant %q", v)
		}
	}
	return nil
}

// TextTokens splits the free-text query into lower-cased tokens.
func (f Filter) TextTokens() []string {
	return strings.Fields(strings.ToLower(f.Text))
}

// Empty reports whether no dimension is constrained.
func (f Filter) Empty() bool {
	return len(f.Sources) == 0 && len(f.Categories) == 0 && len(f.Subcategories) == 0 &&
		len(f.Channels) == 0 && len(f.Languages) == 0 && len(f.VariantTypes) == 0 &&
		f.HasAudio == nil && strings.TrimSpace(f.Text) == ""
}

func cleanValues(in []string, lower bool) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// SearchRequest is a filter/sort/page request.
type SearchRequest struct {
	Filter Filter
	Sort   Sort
	Page   int
	Size   int
}

// Pagination is the page metadata returned with every search.
type Pagination struct {
	Page       int  `json:"page"`
	Size       int  `json:"size"`
	TotalCount int  `json:"total_count"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewPagination derives page metadata from a total count.
func NewPagination(page, size, total int) Pagination {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return Pagination{
		Page:       page,
		Size:       size,
		TotalCount: total,
		TotalPages: pages,
		HasNext:    page < pages,
		HasPrev:    page > 1,
	}
}

// ItemView is an item hydrated with its best-available summary.
type ItemView struct {
	Item
	SummaryVariant Variant `json:"summary_variant,omitempty"`
	SummaryHTML    string  `json:"summary_html"`
	SummaryText    string  `json:"summary_text"`
}

// SearchResult is one page of hydrated items.
type SearchResult struct {
	Items      []ItemView `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// FacetRequest scopes facet counts by the applied filter. SubcategoryParent
// asks for subcategory counts within one category; it falls back to
// Filter.ParentCategory.
type FacetRequest struct {
	Filter            Filter
	SubcategoryParent string
}

// FacetValue is one candidate value with its match count.
type FacetValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Facets maps a dimension name to its value counts.
type Facets map[string][]FacetValue
