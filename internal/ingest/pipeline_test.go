package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/database"
	"github.com/bryan-buckman/curio/internal/model"
)

func newStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "ingest.db"), database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func str(s string) *string { return &s }

type failingWriter struct{ calls int }

func (f *failingWriter) ApplyIngest(context.Context, model.ItemUpsert, []model.PendingRevision) (*model.IngestResult, error) {
	f.calls++
	return nil, apperr.Infra("apply ingest", errors.New("connection refused"))
}

func TestIngestReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newStore(t)
	p := New(db, nil)

	payload := model.IngestPayload{
		ItemID:   "dQw4w9WgXcQ",
		Title:    str("  Never Gonna  "),
		Language: str("EN"),
		SummaryVariants: []model.IngestVariant{
			{Variant: "comprehensive", HTML: str("<p>hi</p>"), Text: str("hi")},
			{Variant: "audio", Text: str("narration")},
		},
	}
	res, err := p.Ingest(ctx, payload)
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.Len(t, res.Variants, 2)
	assert.True(t, res.Variants[0].Created)

	res, err = p.Ingest(ctx, payload)
	require.NoError(t, err)
	assert.False(t, res.Created)
	for _, v := range res.Variants {
		assert.False(t, v.Created, v.Variant)
		assert.Equal(t, 1, v.Revision)
	}

	it, err := db.GetItem(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna", it.Title)
	assert.Equal(t, "en", it.Language)
	assert.True(t, it.HasAudio)
}

func TestIngestRejectsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	db := newStore(t)
	p := New(db, nil)

	_, err := p.Ingest(ctx, model.IngestPayload{
		ItemID:          "dQw4w9WgXcQ",
		Title:           str("x"),
		SummaryVariants: []model.IngestVariant{{Variant: "haiku", Text: str("x")}},
	})
	assert.Equal(t, apperr.ReasonInvalidVariant, apperr.ReasonOf(err))

	it, err := db.GetItem(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestIngestManyReportsPerItem(t *testing.T) {
	ctx := context.Background()
	p := New(newStore(t), nil)

	out := p.IngestMany(ctx, []model.IngestPayload{
		{ItemID: "aaaaaaaaaaa", Title: str("one")},
		{ItemID: "bad"},
		{ItemID: "bbbbbbbbbbb", Title: str("two")},
	})
	require.Len(t, out, 3)
	assert.NotNil(t, out[0].Result)
	assert.Equal(t, apperr.ReasonInvalidItemID, out[1].Reason)
	assert.Error(t, out[1].Err)
	assert.Equal(t, "bbbbbbbbbbb", out[2].ItemID)
}

func TestIngestSurfacesStoreFailure(t *testing.T) {
	w := &failingWriter{}
	p := New(w, nil)
	_, err := p.Ingest(context.Background(), model.IngestPayload{ItemID: "aaaaaaaaaaa"})
	assert.True(t, apperr.IsKind(err, apperr.KindInfrastructure))
	assert.Equal(t, 1, w.calls)
}

func TestDecode(t *testing.T) {
	one, batch, err := Decode(strings.NewReader(`{"item_id":"aaaaaaaaaaa","categorization":[{"category":"History","subcategories":["Modern"]}]}`))
	require.NoError(t, err)
	assert.False(t, batch)
	require.Len(t, one, 1)
	assert.Equal(t, model.Categorization{{Category: "History", Subcategories: []string{"Modern"}}}, *one[0].Categorization)

	many, batch, err := Decode(strings.NewReader(`[{"item_id":"aaaaaaaaaaa"},{"item_id":"bbbbbbbbbbb"}]`))
	require.NoError(t, err)
	assert.True(t, batch)
	assert.Len(t, many, 2)

	_, _, err = Decode(strings.NewReader(`{"item_id":"aaaaaaaaaaa","categorization":"History"}`))
	assert.Equal(t, apperr.ReasonInvalidCategorization, apperr.ReasonOf(err))

	_, _, err = Decode(strings.NewReader(`{"item_id":"aaaaaaaaaaa","colour":"red"}`))
	assert.Equal(t, apperr.ReasonInvalidPayload, apperr.ReasonOf(err))

	_, _, err = Decode(strings.NewReader(`  `))
	assert.Equal(t, apperr.ReasonInvalidPayload, apperr.ReasonOf(err))
}
