package database

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
)

// stepClock advances one second per reading so timestamps are strictly ordered.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newSQLiteStore(t *testing.T) *sqlStore {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "curio.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.now = newStepClock().now
	return db.sqlStore
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

// A trigger aborts the delete of the second item, so the call fails midway.
func TestSQLiteDeleteItemsReturnsPartialResults(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	seed(t, s, seedItem{n: 1}, seedItem{n: 2})
	_, err := s.conn.ExecContext(ctx, `CREATE TRIGGER block_delete BEFORE DELETE ON items
		WHEN OLD.item_id = '`+itemID(2)+`' BEGIN SELECT RAISE(ABORT, 'delete blocked'); END`)
	require.NoError(t, err)

	res, err := s.DeleteItems(ctx, []string{itemID(1), itemID(2), itemID(3)})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInfrastructure))
	assert.Equal(t, []model.DeleteResult{{ItemID: itemID(1), Deleted: true}}, res)

	gone, err := s.GetItem(ctx, itemID(1))
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := s.GetItem(ctx, itemID(2))
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func ptr[T any](v T) *T { return &v }

func itemID(n int) string { return fmt.Sprintf("item%07d", n) }

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type seedItem struct {
	n        int
	title    string
	channel  string
	language string
	duration *int
	cats     model.Categorization
	topics   []string
}

func seed(t *testing.T, s *sqlStore, items ...seedItem) {
	t.Helper()
	ctx := context.Background()
	for _, it := range items {
		up := model.ItemUpsert{
			ItemID:          itemID(it.n),
			Title:           ptr(it.title),
			ChannelName:     ptr(it.channel),
			Language:        ptr(it.language),
			DurationSeconds: it.duration,
			IndexedAt:       ptr(baseTime.Add(time.Duration(it.n) * time.Hour)),
		}
		if it.cats != nil {
			up.Categorization = ptr(it.cats)
		}
		if it.topics != nil {
			up.Topics = ptr(it.topics)
		}
		_, err := s.UpsertItem(ctx, up)
		require.NoError(t, err)
	}
}

func ids(views []model.ItemView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ItemID
	}
	return out
}

func text(s string) model.RevisionContent { return model.RevisionContent{Text: s} }

func runStoreSuite(t *testing.T, newStore func(t *testing.T) *sqlStore) {
	ctx := context.Background()

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		up := model.ItemUpsert{
			ItemID:         itemID(1),
			Title:          ptr("Intro to Go"),
			Language:       ptr("EN"),
			Categorization: &model.Categorization{{Category: "Tech", Subcategories: []string{"Go"}}},
			Topics:         &[]string{"go", "concurrency"},
		}
		_, err := s.UpsertItem(ctx, up)
		require.NoError(t, err)
		first, err := s.GetItem(ctx, itemID(1))
		require.NoError(t, err)
		require.NotNil(t, first)

		_, err = s.UpsertItem(ctx, up)
		require.NoError(t, err)
		second, err := s.GetItem(ctx, itemID(1))
		require.NoError(t, err)

		assert.Equal(t, "en", second.Language)
		assert.Equal(t, first.Title, second.Title)
		assert.Equal(t, first.Categorization, second.Categorization)
		assert.Equal(t, first.Topics, second.Topics)
		assert.Equal(t, model.DefaultSource, second.Source)
		assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
		assert.True(t, first.IndexedAt.Equal(second.IndexedAt))
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

		res, err := s.Search(ctx, model.SearchRequest{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Pagination.TotalCount)
	})

	t.Run("UpsertMergesFields", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertItem(ctx, model.ItemUpsert{ItemID: itemID(1), Title: ptr("T")})
		require.NoError(t, err)
		_, err = s.UpsertItem(ctx, model.ItemUpsert{ItemID: "yt:" + itemID(1), ChannelName: ptr("C")})
		require.NoError(t, err)

		it, err := s.GetItem(ctx, itemID(1))
		require.NoError(t, err)
		assert.Equal(t, "T", it.Title)
		assert.Equal(t, "C", it.ChannelName)
		assert.Equal(t, "yt:"+itemID(1), it.Key())
	})

	t.Run("UpsertRejectsInvalidInput", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertItem(ctx, model.ItemUpsert{ItemID: "short"})
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
		assert.Equal(t, apperr.ReasonInvalidItemID, apperr.ReasonOf(err))

		_, err = s.UpsertItem(ctx, model.ItemUpsert{
			ItemID:         itemID(2),
			Categorization: &model.Categorization{{Category: "A"}, {Category: "A"}},
		})
		assert.Equal(t, apperr.ReasonInvalidCategorization, apperr.ReasonOf(err))

		_, err = s.UpsertItem(ctx, model.ItemUpsert{ItemID: itemID(3), Language: ptr("eng")})
		assert.Equal(t, apperr.ReasonInvalidLanguage, apperr.ReasonOf(err))

		for _, n := range []int{2, 3} {
			it, err := s.GetItem(ctx, itemID(n))
			require.NoError(t, err)
			assert.Nil(t, it)
		}
	})

	t.Run("RevisionsAreSequentialWithSingleLatest", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, seedItem{n: 1, title: "A"})
		const n = 5
		for i := 1; i <= n; i++ {
			rev, err := s.AddRevision(ctx, itemID(1), model.VariantComprehensive, text(fmt.Sprintf("body %d", i)))
			require.NoError(t, err)
			assert.Equal(t, i, rev)
		}
		history, err := s.ListRevisions(ctx, itemID(1), model.VariantComprehensive)
		require.NoError(t, err)
		require.Len(t, history, n)
		latest := 0
		for i, r := range history {
			assert.Equal(t, n-i, r.Revision)
			if r.IsLatest {
				latest++
				assert.Equal(t, n, r.Revision)
			}
		}
		assert.Equal(t, 1, latest)

		got, err := s.GetLatest(ctx, itemID(1), model.VariantComprehensive)
		require.NoError(t, err)
		assert.Equal(t, "body 5", got.Text)
		assert.Equal(t, ContentHash(text("body 5")), got.ContentHash)
	})

	t.Run("ConcurrentRevisionsSerialize", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, seedItem{n: 1, title: "A"})
		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.AddRevision(ctx, itemID(1), model.VariantBulletPoints, text(fmt.Sprintf("c%d", i)))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		history, err := s.ListRevisions(ctx, itemID(1), model.VariantBulletPoints)
		require.NoError(t, err)
		require.Len(t, history, writers)
		seen := map[int]bool{}
		latest := 0
		for _, r := range history {
			assert.False(t, seen[r.Revision], "duplicate revision %d", r.Revision)
			seen[r.Revision] = true
			if r.IsLatest {
				latest++
				assert.Equal(t, writers, r.Revision)
			}
		}
		assert.Equal(t, 1, latest)
	})

	t.Run("ConcurrentIngestOfNewItem", func(t *testing.T) {
		s := newStore(t)
		revs := []model.PendingRevision{{Variant: model.VariantComprehensive, Content: text("same body")}}
		const writers = 6
		var wg sync.WaitGroup
		results := make(chan *model.IngestResult, writers)
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.ApplyIngest(ctx, model.ItemUpsert{ItemID: itemID(1), Title: ptr("A")}, revs)
				errs <- err
				results <- res
			}()
		}
		wg.Wait()
		close(errs)
		close(results)
		for err := range errs {
			require.NoError(t, err)
		}

		itemsCreated, revisionsCreated := 0, 0
		for res := range results {
			require.Len(t, res.Variants, 1)
			assert.Equal(t, 1, res.Variants[0].Revision)
			if res.Created {
				itemsCreated++
			}
			if res.Variants[0].Created {
				revisionsCreated++
			}
		}
		assert.Equal(t, 1, itemsCreated)
		assert.Equal(t, 1, revisionsCreated)

		history, err := s.ListRevisions(ctx, itemID(1), model.VariantComprehensive)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.True(t, history[0].IsLatest)
	})

	t.Run("AddRevisionErrors", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AddRevision(ctx, itemID(9), model.VariantComprehensive, text("x"))
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

		seed(t, s, seedItem{n: 1})
		_, err = s.AddRevision(ctx, itemID(1), model.Variant("poem"), text("x"))
		assert.Equal(t, apperr.ReasonInvalidVariant, apperr.ReasonOf(err))
		_, err = s.AddRevision(ctx, itemID(1), model.VariantComprehensive, model.RevisionContent{HTML: "  "})
		assert.Equal(t, apperr.ReasonEmptyContent, apperr.ReasonOf(err))
	})

	t.Run("GetLatestAnyFollowsPreference", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, seedItem{n: 1})
		_, err := s.AddRevision(ctx, itemID(1), model.VariantAudio, text("narration"))
		require.NoError(t, err)
		_, err = s.AddRevision(ctx, itemID(1), model.VariantExecutive, text("exec"))
		require.NoError(t, err)

		r, err := s.GetLatestAny(ctx, itemID(1), []model.Variant{model.VariantComprehensive, model.VariantAudio, model.VariantExecutive})
		require.NoError(t, err)
		assert.Equal(t, model.VariantAudio, r.Variant)

		r, err = s.GetLatestAny(ctx, itemID(1), []model.Variant{model.VariantComprehensive})
		require.NoError(t, err)
		assert.Nil(t, r)

		all, err := s.ListLatest(ctx, itemID(1))
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, model.VariantExecutive, all[0].Variant)

		it, err := s.GetItem(ctx, itemID(1))
		require.NoError(t, err)
		assert.True(t, it.HasAudio)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, seedItem{n: 1, cats: model.Categorization{{Category: "History"}}}, seedItem{n: 2})
		_, err := s.AddRevision(ctx, itemID(1), model.VariantComprehensive, text("x"))
		require.NoError(t, err)

		deleted, err := s.DeleteItem(ctx, itemID(1))
		require.NoError(t, err)
		assert.True(t, deleted)

		it, err := s.GetItem(ctx, itemID(1))
		require.NoError(t, err)
		assert.Nil(t, it)
		r, err := s.GetLatest(ctx, itemID(1), model.VariantComprehensive)
		require.NoError(t, err)
		assert.Nil(t, r)
		history, err := s.ListRevisions(ctx, itemID(1), model.VariantComprehensive)
		require.NoError(t, err)
		assert.Empty(t, history)

		facets, err := s.Facets(ctx, model.FacetRequest{})
		require.NoError(t, err)
		assert.Empty(t, facets["category"])

		deleted, err = s.DeleteItem(ctx, itemID(1))
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("DeleteItemsValidatesFirst", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, seedItem{n: 1}, seedItem{n: 2})
		_, err := s.DeleteItems(ctx, []string{itemID(1), "bad"})
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
		it, err := s.GetItem(ctx, itemID(1))
		require.NoError(t, err)
		assert.NotNil(t, it)

		res, err := s.DeleteItems(ctx, []string{itemID(1), "yt:" + itemID(7)})
		require.NoError(t, err)
		assert.Equal(t, []model.DeleteResult{
			{ItemID: itemID(1), Deleted: true},
			{ItemID: itemID(7), Deleted: false},
		}, res)
	})

	t.Run("ApplyIngestSkipsUnchangedContent", func(t *testing.T) {
		s := newStore(t)
		up := model.ItemUpsert{ItemID: itemID(1), Title: ptr("A")}
		revs := []model.PendingRevision{
			{Variant: model.VariantComprehensive, Content: model.RevisionContent{HTML: "<p>a</p>", Text: "a"}},
			{Variant: model.VariantAudioFR, Content: text("bonjour")},
		}
		res, err := s.ApplyIngest(ctx, up, revs)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, "yt:"+itemID(1), res.Key)
		assert.Equal(t, []model.VariantOutcome{
			{Variant: model.VariantComprehensive, Revision: 1, Created: true},
			{Variant: model.VariantAudioFR, Revision: 1, Created: true},
		}, res.Variants)

		res, err = s.ApplyIngest(ctx, up, revs[:1])
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, []model.VariantOutcome{{Variant: model.VariantComprehensive, Revision: 1, Created: false}}, res.Variants)

		changed := []model.PendingRevision{{Variant: model.VariantComprehensive, Content: text("b")}}
		res, err = s.ApplyIngest(ctx, up, changed)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Variants[0].Revision)
		assert.True(t, res.Variants[0].Created)

		it, err := s.GetItem(ctx, itemID(1))
		require.NoError(t, err)
		assert.True(t, it.HasAudio)
	})

	t.Run("SearchEmptyFilterUsesDefaultSort", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, seedItem{n: 1}, seedItem{n: 2}, seedItem{n: 3})
		res, err := s.Search(ctx, model.SearchRequest{})
		require.NoError(t, err)
		assert.Equal(t, []string{itemID(3), itemID(2), itemID(1)}, ids(res.Items))
		assert.Equal(t, model.Pagination{Page: 1, Size: 24, TotalCount: 3, TotalPages: 1}, res.Pagination)
	})

	t.Run("SearchSubcategoryWithParent", func(t *testing.T) {
		s := newStore(t)
		for i := 1; i <= 3; i++ {
			seed(t, s, seedItem{n: i, cats: model.Categorization{{Category: "History", Subcategories: []string{"Modern History"}}}})
		}
		for i := 4; i <= 5; i++ {
			seed(t, s, seedItem{n: i, cats: model.Categorization{{Category: "History", Subcategories: []string{"Ancient"}}}})
		}
		seed(t, s, seedItem{n: 6, cats: model.Categorization{{Category: "Science", Subcategories: []string{"Modern History"}}}})

		res, err := s.Search(ctx, model.SearchRequest{Filter: model.Filter{
			Categories:     []string{"History"},
			Subcategories:  []string{"Modern History"},
			ParentCategory: "History",
		}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{itemID(1), itemID(2), itemID(3)}, ids(res.Items))

		// Parent not among the selected categories: the scoped group is AND'd.
		res, err = s.Search(ctx, model.SearchRequest{Filter: model.Filter{
			Subcategories:  []string{"Modern History", "Ancient"},
			ParentCategory: "History",
		}})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Pagination.TotalCount)

		// Legacy: no parent matches under any category.
		res, err = s.Search(ctx, model.SearchRequest{Filter: model.Filter{Subcategories: []string{"Modern History"}}})
		require.NoError(t, err)
		assert.Equal(t, 4, res.Pagination.TotalCount)

		// Other selected categories stay OR'd with the narrowed parent.
		res, err = s.Search(ctx, model.SearchRequest{Filter: model.Filter{
			Categories:     []string{"History", "Science"},
			Subcategories:  []string{"Ancient"},
			ParentCategory: "History",
		}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{itemID(4), itemID(5), itemID(6)}, ids(res.Items))
	})

	t.Run("SearchFallsBackToAvailableVariant", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, seedItem{n: 1}, seedItem{n: 2})
		_, err := s.AddRevision(ctx, itemID(1), model.VariantAudio, text("narrated"))
		require.NoError(t, err)
		_, err = s.AddRevision(ctx, itemID(2), model.VariantComprehensive, model.RevisionContent{HTML: "<p>full</p>", Text: "full"})
		require.NoError(t, err)
		_, err = s.AddRevision(ctx, itemID(2), model.VariantAudio, text("narrated"))
		require.NoError(t, err)

		res, err := s.Search(ctx, model.SearchRequest{Sort: model.SortOldest})
		require.NoError(t, err)
		require.Len(t, res.Items, 2)
		assert.Equal(t, model.VariantAudio, res.Items[0].SummaryVariant)
		assert.Equal(t, "narrated", res.Items[0].SummaryText)
		assert.Equal(t, model.VariantComprehensive, res.Items[1].SummaryVariant)
		assert.Equal(t, "<p>full</p>", res.Items[1].SummaryHTML)

		// A variant filter moves that variant to the front of the preference.
		res, err = s.Search(ctx, model.SearchRequest{Sort: model.SortOldest, Filter: model.Filter{VariantTypes: []model.Variant{model.VariantAudio}}})
		require.NoError(t, err)
		require.Len(t, res.Items, 2)
		assert.Equal(t, model.VariantAudio, res.Items[1].SummaryVariant)
	})

	t.Run("SearchPaginationIsDeterministic", func(t *testing.T) {
		s := newStore(t)
		for i := 1; i <= 5; i++ {
			seed(t, s, seedItem{n: i, title: "Same"})
		}
		page := func(p int) *model.SearchResult {
			res, err := s.Search(ctx, model.SearchRequest{Sort: model.SortTitleAsc, Page: p, Size: 2})
			require.NoError(t, err)
			return res
		}
		p2, p1 := page(2), page(1)
		assert.Equal(t, []string{itemID(1), itemID(2)}, ids(p1.Items))
		assert.Equal(t, []string{itemID(3), itemID(4)}, ids(p2.Items))
		assert.True(t, p2.Pagination.HasNext)
		assert.True(t, p2.Pagination.HasPrev)

		p4 := page(4)
		assert.Empty(t, p4.Items)
		assert.Equal(t, model.Pagination{Page: 4, Size: 2, TotalCount: 5, TotalPages: 3, HasPrev: true}, p4.Pagination)

		// (page-1)*size would overflow here.
		far := page(math.MaxInt/2 + 2)
		assert.Empty(t, far.Items)
		assert.Equal(t, 3, far.Pagination.TotalPages)
		assert.False(t, far.Pagination.HasNext)
	})

	t.Run("SearchValidatesBounds", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Search(ctx, model.SearchRequest{Size: 101})
		assert.Equal(t, apperr.ReasonInvalidSize, apperr.ReasonOf(err))
		_, err = s.Search(ctx, model.SearchRequest{Page: -1})
		assert.Equal(t, apperr.ReasonInvalidPage, apperr.ReasonOf(err))
		_, err = s.Search(ctx, model.SearchRequest{Sort: "random"})
		assert.Equal(t, apperr.ReasonInvalidSort, apperr.ReasonOf(err))
		_, err = s.Search(ctx, model.SearchRequest{Filter: model.Filter{Languages: []string{"english"}}})
		assert.Equal(t, apperr.ReasonInvalidLanguage, apperr.ReasonOf(err))
	})

	t.Run("SearchSortsNullsLast", func(t *testing.T) {
		s := newStore(t)
		seed(t, s,
			seedItem{n: 1, duration: ptr(300)},
			seedItem{n: 2},
			seedItem{n: 3, duration: ptr(60)},
		)
		for sort, want := range map[model.Sort][]string{
			model.SortDurationAsc:  {itemID(3), itemID(1), itemID(2)},
			model.SortDurationDesc: {itemID(1), itemID(3), itemID(2)},
			model.SortAddedAsc:     {itemID(1), itemID(2), itemID(3)},
		} {
			res, err := s.Search(ctx, model.SearchRequest{Sort: sort})
			require.NoError(t, err)
			assert.Equal(t, want, ids(res.Items), string(sort))
		}
	})

	t.Run("SearchText", func(t *testing.T) {
		s := newStore(t)
		seed(t, s,
			seedItem{n: 1, title: "Rust ownership explained"},
			seedItem{n: 2, title: "Cooking pasta", topics: []string{"Italian", "R&D"}},
			seedItem{n: 3, title: "100% real"},
		)
		_, err := s.AddRevision(ctx, itemID(2), model.VariantComprehensive, text("The borrow checker of sauces"))
		require.NoError(t, err)

		search := func(q string) []string {
			res, err := s.Search(ctx, model.SearchRequest{Sort: model.SortOldest, Filter: model.Filter{Text: q}})
			require.NoError(t, err)
			return ids(res.Items)
		}
		assert.Equal(t, []string{itemID(1)}, search("RUST"))
		assert.Equal(t, []string{itemID(2)}, search("borrow italian"))
		assert.Equal(t, []string{itemID(2)}, search("r&d"))
		assert.Empty(t, search("rust pasta"))
		assert.Equal(t, []string{itemID(3)}, search("%"))
		assert.Len(t, search("   "), 3)
	})

	t.Run("FacetsExcludeOwnDimension", func(t *testing.T) {
		s := newStore(t)
		seed(t, s,
			seedItem{n: 1, channel: "A", language: "en", cats: model.Categorization{{Category: "History", Subcategories: []string{"Modern"}}}},
			seedItem{n: 2, channel: "A", language: "fr", cats: model.Categorization{{Category: "History", Subcategories: []string{"Ancient"}}}},
			seedItem{n: 3, channel: "B", language: "en", cats: model.Categorization{{Category: "Science", Subcategories: []string{"Modern"}}}},
		)
		_, err := s.AddRevision(ctx, itemID(3), model.VariantAudio, text("x"))
		require.NoError(t, err)

		facets, err := s.Facets(ctx, model.FacetRequest{Filter: model.Filter{Categories: []string{"History"}}})
		require.NoError(t, err)
		assert.Equal(t, []model.FacetValue{{Value: "History", Count: 2}, {Value: "Science", Count: 1}}, facets["category"])
		assert.Equal(t, []model.FacetValue{{Value: "A", Count: 2}}, facets["channel"])
		assert.Equal(t, []model.FacetValue{{Value: "en", Count: 1}, {Value: "fr", Count: 1}}, facets["language"])
		assert.Equal(t, []model.FacetValue{{Value: "Ancient", Count: 1}, {Value: "Modern", Count: 1}}, facets["subcategory"])
		assert.Equal(t, []model.FacetValue{{Value: "false", Count: 2}}, facets["has_audio"])
		assert.Empty(t, facets["variant_type"])

		facets, err = s.Facets(ctx, model.FacetRequest{Filter: model.Filter{HasAudio: ptr(true)}})
		require.NoError(t, err)
		assert.Equal(t, []model.FacetValue{{Value: "false", Count: 2}, {Value: "true", Count: 1}}, facets["has_audio"])
		assert.Equal(t, []model.FacetValue{{Value: "audio", Count: 1}}, facets["variant_type"])
		assert.Equal(t, []model.FacetValue{{Value: "yt", Count: 1}}, facets["source"])
	})

	t.Run("FacetsSubcategoryScopedAndGlobal", func(t *testing.T) {
		s := newStore(t)
		seed(t, s,
			seedItem{n: 1, cats: model.Categorization{{Category: "History", Subcategories: []string{"Modern"}}}},
			seedItem{n: 2, cats: model.Categorization{{Category: "Science", Subcategories: []string{"Modern", "Physics"}}}},
		)
		global, err := s.Facets(ctx, model.FacetRequest{})
		require.NoError(t, err)
		assert.Equal(t, []model.FacetValue{{Value: "Modern", Count: 2}, {Value: "Physics", Count: 1}}, global["subcategory"])

		scoped, err := s.Facets(ctx, model.FacetRequest{SubcategoryParent: "Science"})
		require.NoError(t, err)
		assert.Equal(t, []model.FacetValue{{Value: "Modern", Count: 1}, {Value: "Physics", Count: 1}}, scoped["subcategory"])

		viaFilter, err := s.Facets(ctx, model.FacetRequest{Filter: model.Filter{ParentCategory: "History"}})
		require.NoError(t, err)
		assert.Equal(t, []model.FacetValue{{Value: "Modern", Count: 1}}, viaFilter["subcategory"])
	})

	t.Run("FacetsOnEmptyStore", func(t *testing.T) {
		s := newStore(t)
		facets, err := s.Facets(ctx, model.FacetRequest{Filter: model.Filter{Text: "nothing"}})
		require.NoError(t, err)
		for _, dim := range model.FacetDimensions {
			v, ok := facets[string(dim)]
			assert.True(t, ok, dim)
			assert.NotNil(t, v, dim)
			assert.Empty(t, v, dim)
		}
	})

	t.Run("Channels", func(t *testing.T) {
		s := newStore(t)
		id, created, err := s.UpsertChannel(ctx, "Go Talks", "https://example.com/feed", "")
		require.NoError(t, err)
		assert.True(t, created)
		again, created, err := s.UpsertChannel(ctx, "Renamed", "https://example.com/feed", "yt")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, id, again)

		fetched := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
		require.NoError(t, s.MarkChannelError(ctx, id, "boom"))
		chans, err := s.ListChannels(ctx)
		require.NoError(t, err)
		require.Len(t, chans, 1)
		assert.Equal(t, "boom", chans[0].LastError)
		assert.Equal(t, model.DefaultSource, chans[0].Source)

		require.NoError(t, s.MarkChannelFetched(ctx, id, fetched))
		chans, err = s.ListChannels(ctx)
		require.NoError(t, err)
		assert.Empty(t, chans[0].LastError)
		assert.True(t, chans[0].LastFetched.Equal(fetched))

		ok, err := s.DeleteChannel(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.DeleteChannel(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
