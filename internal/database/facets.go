package database

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
	"golang.org/x/sync/errgroup"
)

// facetQuery describes how one dimension is grouped and counted.
type facetQuery struct {
	dim     model.Dimension
	exclude []model.Dimension
	// join and joinArgs come before the WHERE clause.
	join      string
	joinArgs  []any
	value     string
	extra     []string
	extraArgs []any
	isBool    bool
}

// Facets counts, per dimension, the items that match every applied filter
// except that dimension's own.
func (s *sqlStore) Facets(ctx context.Context, req model.FacetRequest) (model.Facets, error) {
	if err := req.Filter.Normalize(); err != nil {
		return nil, err
	}
	queries := s.facetQueries(req)

	out := make(model.Facets, len(queries))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, fq := range queries {
		g.Go(func() error {
			values, err := s.countFacet(gctx, req.Filter, fq)
			if err != nil {
				return apperr.Infra("facet "+string(fq.dim), err)
			}
			mu.Lock()
			out[string(fq.dim)] = values
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) facetQueries(req model.FacetRequest) []facetQuery {
	parent := req.SubcategoryParent
	if parent == "" {
		parent = req.Filter.ParentCategory
	}
	subcategory := facetQuery{
		dim:     model.DimSubcategory,
		exclude: []model.Dimension{model.DimSubcategory},
		join:    " JOIN item_categories fc ON fc.item_id = i.item_id",
		value:   "fc.subcategory",
		extra:   []string{"fc.subcategory <> ''"},
	}
	// Scoped pass when a parent is known, global pass across parents otherwise.
	if parent != "" {
		subcategory.extra = append(subcategory.extra, "fc.category = ?")
		subcategory.extraArgs = []any{parent}
	}

	return []facetQuery{
		{dim: model.DimSource, exclude: []model.Dimension{model.DimSource}, value: "i.source"},
		{
			dim:     model.DimCategory,
			exclude: []model.Dimension{model.DimCategory, model.DimSubcategory},
			join:    " JOIN item_categories fc ON fc.item_id = i.item_id",
			value:   "fc.category",
		},
		subcategory,
		{dim: model.DimChannel, exclude: []model.Dimension{model.DimChannel}, value: "i.channel_name", extra: []string{"i.channel_name <> ''"}},
		{dim: model.DimLanguage, exclude: []model.Dimension{model.DimLanguage}, value: "i.language", extra: []string{"i.language <> ''"}},
		{
			dim:      model.DimVariantType,
			exclude:  []model.Dimension{model.DimVariantType},
			join:     " JOIN summaries fs ON fs.item_id = i.item_id AND fs.is_latest = ?",
			joinArgs: []any{true},
			value:    "fs.variant",
		},
		{dim: model.DimHasAudio, exclude: []model.Dimension{model.DimHasAudio}, value: "i.has_audio", isBool: true},
	}
}

func (s *sqlStore) countFacet(ctx context.Context, f model.Filter, fq facetQuery) ([]model.FacetValue, error) {
	where := compileFilter(f, fq.exclude...)
	if len(fq.extra) > 0 {
		where.add(strings.Join(fq.extra, " AND "), fq.extraArgs...)
	}
	query := "SELECT " + fq.value + ", COUNT(DISTINCT i.item_id) FROM items i" + fq.join + where.sql() +
		" GROUP BY " + fq.value + " ORDER BY 2 DESC, 1 ASC LIMIT ?"
	args := append(append([]any{}, fq.joinArgs...), where.args...)
	args = append(args, s.opts.FacetMaxValues)

	rows, err := s.query(ctx, s.conn, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []model.FacetValue{}
	for rows.Next() {
		var fv model.FacetValue
		if fq.isBool {
			var b bool
			if err := rows.Scan(&b, &fv.Count); err != nil {
				return nil, err
			}
			fv.Value = strconv.FormatBool(b)
		} else if err := rows.Scan(&fv.Value, &fv.Count); err != nil {
			return nil, err
		}
		values = append(values, fv)
	}
	return values, rows.Err()
}
