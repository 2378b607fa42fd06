package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
)

// clause accumulates AND'd conditions with their arguments in order.
type clause struct {
	conds []string
	args  []any
}

func (c *clause) add(cond string, args ...any) {
	c.conds = append(c.conds, cond)
	c.args = append(c.args, args...)
}

func (c *clause) sql() string {
	if len(c.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.conds, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(token string) string {
	return "%" + likeEscaper.Replace(token) + "%"
}

// compileFilter turns f into conditions over items aliased as i, skipping
// the dimensions in exclude. f must already be normalized.
func compileFilter(f model.Filter, exclude ...model.Dimension) *clause {
	skip := make(map[model.Dimension]bool, len(exclude))
	for _, d := range exclude {
		skip[d] = true
	}
	c := &clause{}

	if len(f.Sources) > 0 && !skip[model.DimSource] {
		c.add("i.source IN ("+placeholders(len(f.Sources))+")", stringArgs(f.Sources)...)
	}
	if len(f.Channels) > 0 && !skip[model.DimChannel] {
		c.add("i.channel_name IN ("+placeholders(len(f.Channels))+")", stringArgs(f.Channels)...)
	}
	if len(f.Languages) > 0 && !skip[model.DimLanguage] {
		c.add("i.language IN ("+placeholders(len(f.Languages))+")", stringArgs(f.Languages)...)
	}
	if f.HasAudio != nil && !skip[model.DimHasAudio] {
		c.add("i.has_audio = ?", *f.HasAudio)
	}
	if len(f.VariantTypes) > 0 && !skip[model.DimVariantType] {
		c.add("EXISTS (SELECT 1 FROM summaries vs WHERE vs.item_id = i.item_id AND vs.is_latest = ? AND vs.variant IN ("+
			placeholders(len(f.VariantTypes))+"))", append([]any{true}, variantArgs(f.VariantTypes)...)...)
	}

	var cats, subs []string
	if !skip[model.DimCategory] {
		cats = f.Categories
	}
	if !skip[model.DimSubcategory] {
		subs = f.Subcategories
	}
	compileCategories(c, cats, subs, f.ParentCategory)

	if !skip[model.DimText] {
		for _, tok := range f.TextTokens() {
			p := likePattern(tok)
			c.add(`(LOWER(i.title) LIKE ? ESCAPE '\' OR LOWER(COALESCE(i.topics, '')) LIKE ? ESCAPE '\'`+
				` OR EXISTS (SELECT 1 FROM summaries ts WHERE ts.item_id = i.item_id AND ts.is_latest = ?`+
				` AND (LOWER(ts.text) LIKE ? ESCAPE '\' OR LOWER(ts.html) LIKE ? ESCAPE '\')))`,
				p, p, true, p, p)
		}
	}
	return c
}

// compileCategories handles the two-level hierarchy. When parent is among
// the selected categories its term narrows to the selected subcategories;
// when it is not, the parent-scoped subcategories form their own AND'd
// group; with no parent, subcategories match under any category.
func compileCategories(c *clause, cats, subs []string, parent string) {
	const exists = "EXISTS (SELECT 1 FROM item_categories ic WHERE ic.item_id = i.item_id AND "
	subsConsumed := false
	if len(cats) > 0 {
		terms := make([]string, 0, len(cats))
		var args []any
		for _, cat := range cats {
			if parent != "" && cat == parent && len(subs) > 0 {
				terms = append(terms, "(ic.category = ? AND ic.subcategory IN ("+placeholders(len(subs))+"))")
				args = append(args, cat)
				args = append(args, stringArgs(subs)...)
				subsConsumed = true
				continue
			}
			terms = append(terms, "ic.category = ?")
			args = append(args, cat)
		}
		c.add(exists+"("+strings.Join(terms, " OR ")+"))", args...)
	}
	if len(subs) == 0 || subsConsumed {
		return
	}
	if parent != "" {
		c.add(exists+"ic.category = ? AND ic.subcategory IN ("+placeholders(len(subs))+"))",
			append([]any{parent}, stringArgs(subs)...)...)
		return
	}
	c.add(exists+"ic.subcategory IN ("+placeholders(len(subs))+"))", stringArgs(subs)...)
}

func orderBy(sort model.Sort) string {
	var key string
	switch sort {
	case model.SortOldest:
		key = "i.indexed_at ASC"
	case model.SortTitleAsc:
		key = "LOWER(i.title) ASC"
	case model.SortTitleDesc:
		key = "LOWER(i.title) DESC"
	case model.SortDurationAsc:
		key = "(i.duration_seconds IS NULL) ASC, i.duration_seconds ASC"
	case model.SortDurationDesc:
		key = "(i.duration_seconds IS NULL) ASC, i.duration_seconds DESC"
	case model.SortAddedDesc:
		key = "i.created_at DESC"
	case model.SortAddedAsc:
		key = "i.created_at ASC"
	case model.SortPublishedDesc:
		key = "(i.published_at IS NULL) ASC, i.published_at DESC"
	case model.SortPublishedAsc:
		key = "(i.published_at IS NULL) ASC, i.published_at ASC"
	default:
		key = "i.indexed_at DESC"
	}
	return " ORDER BY " + key + ", i.item_id ASC"
}

// normalizeSearch validates the request and resolves defaults.
func (s *sqlStore) normalizeSearch(req model.SearchRequest) (model.SearchRequest, error) {
	if err := req.Filter.Normalize(); err != nil {
		return req, err
	}
	sort, err := model.ParseSort(string(req.Sort), s.opts.DefaultSort)
	if err != nil {
		return req, err
	}
	req.Sort = sort
	if req.Page < 0 {
		return req, apperr.Validation(apperr.ReasonInvalidPage, "page must be positive, got %d", req.Page)
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.Size < 0 || req.Size > s.opts.MaxPageSize {
		return req, apperr.Validation(apperr.ReasonInvalidSize, "size must be between 1 and %d, got %d", s.opts.MaxPageSize, req.Size)
	}
	if req.Size == 0 {
		req.Size = s.opts.DefaultPageSize
	}
	return req, nil
}

// Search returns one page of items matching the filter, each joined to its
// best-available latest summary.
func (s *sqlStore) Search(ctx context.Context, req model.SearchRequest) (*model.SearchResult, error) {
	req, err := s.normalizeSearch(req)
	if err != nil {
		return nil, err
	}
	where := compileFilter(req.Filter)

	var total int
	if err := s.queryRow(ctx, s.conn, "SELECT COUNT(*) FROM items i"+where.sql(), where.args...).Scan(&total); err != nil {
		return nil, apperr.Infra("count items", err)
	}
	result := &model.SearchResult{
		Items:      []model.ItemView{},
		Pagination: model.NewPagination(req.Page, req.Size, total),
	}
	// Compare pages before multiplying so huge page numbers cannot overflow.
	if req.Page > result.Pagination.TotalPages {
		return result, nil
	}
	offset := (req.Page - 1) * req.Size

	rank, rankArgs := variantRank("p.variant", model.PreferenceOrder(req.Filter.VariantTypes, s.opts.PreferredVariants))
	query := "SELECT " + itemColumns + ", s.variant, s.html, s.text FROM items i" +
		" LEFT JOIN summaries s ON s.id = (SELECT p.id FROM summaries p WHERE p.item_id = i.item_id AND p.is_latest = ?" +
		" ORDER BY " + rank + " LIMIT 1)" +
		where.sql() + orderBy(req.Sort) + " LIMIT ? OFFSET ?"
	args := append([]any{true}, rankArgs...)
	args = append(args, where.args...)
	args = append(args, req.Size, offset)

	rows, err := s.query(ctx, s.conn, query, args...)
	if err != nil {
		return nil, apperr.Infra("search items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var variant, html, text sql.NullString
		it, err := scanItem(rows, &variant, &html, &text)
		if err != nil {
			return nil, apperr.Infra("search items", err)
		}
		result.Items = append(result.Items, model.ItemView{
			Item:           *it,
			SummaryVariant: model.Variant(variant.String),
			SummaryHTML:    html.String,
			SummaryText:    text.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Infra("search items", err)
	}
	return result, nil
}
