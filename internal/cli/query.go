package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/curio/internal/apperr"
	"github.com/bryan-buckman/curio/internal/model"
)

// filterFlags are the filter dimensions shared by search and facets.
type filterFlags struct {
	sources       []string
	categories    []string
	subcategories []string
	parent        string
	channels      []string
	languages     []string
	variants      []string
	hasAudio      string
	text          string
}

func (ff *filterFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&ff.sources, "source", nil, "source slug (repeatable)")
	f.StringArrayVar(&ff.categories, "category", nil, "category (repeatable)")
	f.StringArrayVar(&ff.subcategories, "subcategory", nil, "subcategory (repeatable)")
	f.StringVar(&ff.parent, "parent-category", "", "restrict subcategory matches to this category")
	f.StringArrayVar(&ff.channels, "channel", nil, "channel name (repeatable)")
	f.StringSliceVar(&ff.languages, "language", nil, "two-letter language code (repeatable)")
	f.StringSliceVar(&ff.variants, "variant", nil, "summary variant (repeatable)")
	f.StringVar(&ff.hasAudio, "has-audio", "", "true or false")
	f.StringVarP(&ff.text, "query", "q", "", "free-text query")
}

func (ff *filterFlags) filter() (model.Filter, error) {
	f := model.Filter{
		Sources:        ff.sources,
		Categories:     ff.categories,
		Subcategories:  ff.subcategories,
		ParentCategory: ff.parent,
		Channels:       ff.channels,
		Languages:      ff.languages,
		Text:           ff.text,
	}
	variants, err := model.ParseVariants(ff.variants)
	if err != nil {
		return f, err
	}
	f.VariantTypes = variants
	if ff.hasAudio != "" {
		b, err := strconv.ParseBool(ff.hasAudio)
		if err != nil {
			return f, apperr.Validation(apperr.ReasonInvalidFilter, "has-audio must be true or false, got %q", ff.hasAudio)
		}
		f.HasAudio = &b
	}
	if err := f.Normalize(); err != nil {
		return f, err
	}
	return f, nil
}

var (
	searchFilter filterFlags
	searchSort   string
	searchPage   int
	searchSize   int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Query the index",
	Long: `Search items by filter and print one page of results as JSON.

Examples:
  curio search --category History --subcategory "Modern History" --parent-category History
  curio search -q "cold war" --sort title_asc --size 10`,
	RunE: runSearch,
}

type facetFlags struct {
	filterFlags
	subcategoryParent string
}

var facetFilter facetFlags

var facetsCmd = &cobra.Command{
	Use:   "facets",
	Short: "Count facet values for a filter",
	RunE:  runFacets,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchFilter.register(searchCmd)
	searchCmd.Flags().StringVar(&searchSort, "sort", "", "sort key (default from query.default_sort)")
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "page number")
	searchCmd.Flags().IntVar(&searchSize, "size", 0, "page size (default from query.default_size)")

	rootCmd.AddCommand(facetsCmd)
	facetFilter.register(facetsCmd)
	facetsCmd.Flags().StringVar(&facetFilter.subcategoryParent, "subcategory-parent", "", "count subcategories of this category only")
}

func runSearch(cmd *cobra.Command, args []string) error {
	f, err := searchFilter.filter()
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	res, err := db.Search(context.Background(), model.SearchRequest{
		Filter: f,
		Sort:   model.Sort(searchSort),
		Page:   searchPage,
		Size:   searchSize,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runFacets(cmd *cobra.Command, args []string) error {
	f, err := facetFilter.filter()
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	facets, err := db.Facets(context.Background(), model.FacetRequest{
		Filter:            f,
		SubcategoryParent: facetFilter.subcategoryParent,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), facets)
}
