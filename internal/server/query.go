package server

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
)

// values returns every value of key, also splitting comma-separated lists.
func values(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// rawValues returns every value of key as sent. Category names may contain
// commas, so they are not split.
func rawValues(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseFilter(q url.Values) (model.Filter, error) {
	f := model.Filter{
		Sources:        values(q, "source"),
		Categories:     rawValues(q, "category"),
		Subcategories:  rawValues(q, "subcategory"),
		ParentCategory: q.Get("parent_category"),
		Channels:       rawValues(q, "channel"),
		Languages:      values(q, "language"),
		Text:           q.Get("q"),
	}
	variants, err := model.ParseVariants(values(q, "variant_type"))
	if err != nil {
		return f, err
	}
	f.VariantTypes = variants
	if raw := strings.TrimSpace(q.Get("has_audio")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, apperr.Validation(apperr.ReasonInvalidFilter, "has_audio must be true or false, got %q", raw)
		}
		f.HasAudio = &b
	}
	if err := f.Normalize(); err != nil {
		return f, err
	}
	return f, nil
}

func parseInt(q url.Values, key, reason string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(reason, "%s must be an integer, got %q", key, raw)
	}
	return n, nil
}

func parseSearch(q url.Values) (model.SearchRequest, error) {
	f, err := parseFilter(q)
	if err != nil {
		return model.SearchRequest{}, err
	}
	page, err := parseInt(q, "page", apperr.ReasonInvalidPage)
	if err != nil {
		return model.SearchRequest{}, err
	}
	size, err := parseInt(q, "size", apperr.ReasonInvalidSize)
	if err != nil {
		return model.SearchRequest{}, err
	}
	return model.SearchRequest{Filter: f, Sort: model.Sort(q.Get("sort")), Page: page, Size: size}, nil
}
