package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestIngestThenSearch(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CURIO_DATABASE_PATH", filepath.Join(dir, "cli.db"))
	t.Setenv("CURIO_LOG_LEVEL", "error")

	payload := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(payload, []byte(`[
		{"item_id":"aaaaaaaaaa1","title":"Rome","categorization":[{"category":"History","subcategories":["Ancient"]}],
		 "summary_variants":[{"variant":"executive","text":"short"}]},
		{"item_id":"aaaaaaaaaa2","title":"Quarks","categorization":[{"category":"Science","subcategories":[]}]}
	]`), 0o600))

	out, err := run(t, "ingest", payload)
	require.NoError(t, err, out)

	out, err = run(t, "search", "--category", "History")
	require.NoError(t, err, out)
	var res model.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Items, 1)
	assert.Equal(t, "aaaaaaaaaa1", res.Items[0].ItemID)
	assert.Equal(t, model.VariantExecutive, res.Items[0].SummaryVariant)

	out, err = run(t, "delete", "yt:aaaaaaaaaa2")
	require.NoError(t, err, out)
	var deleted []model.DeleteResult
	require.NoError(t, json.Unmarshal([]byte(out), &deleted))
	assert.Equal(t, []model.DeleteResult{{ItemID: "aaaaaaaaaa2", Deleted: true}}, deleted)
}

func TestFilterFlags(t *testing.T) {
	ff := filterFlags{
		sources:   []string{"YT", "yt"},
		languages: []string{"EN"},
		variants:  []string{"audio"},
		hasAudio:  "true",
	}
	f, err := ff.filter()
	require.NoError(t, err)
	assert.Equal(t, []string{"yt"}, f.Sources)
	assert.Equal(t, []string{"en"}, f.Languages)
	assert.Equal(t, []model.Variant{model.VariantAudio}, f.VariantTypes)
	require.NotNil(t, f.HasAudio)
	assert.True(t, *f.HasAudio)

	_, err = (&filterFlags{hasAudio: "maybe"}).filter()
	assert.Equal(t, apperr.ReasonInvalidFilter, apperr.ReasonOf(err))

	_, err = (&filterFlags{variants: []string{"poem"}}).filter()
	assert.Equal(t, apperr.ReasonInvalidVariant, apperr.ReasonOf(err))
}
