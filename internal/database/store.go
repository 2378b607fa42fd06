// Package database provides storage backends for the content index.
package database

import (
	"context"
	"time"

	"github.com/bryan-buckman/curio/internal/logging"
	"github.com/bryan-buckman/curio/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Item operations
	UpsertItem(ctx context.Context, up model.ItemUpsert) (string, error)
	GetItem(ctx context.Context, itemID string) (*model.Item, error)
	DeleteItem(ctx context.Context, itemID string) (bool, error)
	// DeleteItems returns the results gathered so far alongside any error.
	DeleteItems(ctx context.Context, itemIDs []string) ([]model.DeleteResult, error)

	// Summary revision operations
	AddRevision(ctx context.Context, itemID string, variant model.Variant, content model.RevisionContent) (int, error)
	GetLatest(ctx context.Context, itemID string, variant model.Variant) (*model.Revision, error)
	GetLatestAny(ctx context.Context, itemID string, preferred []model.Variant) (*model.Revision, error)
	ListLatest(ctx context.Context, itemID string) ([]model.Revision, error)
	ListRevisions(ctx context.Context, itemID string, variant model.Variant) ([]model.Revision, error)

	// ApplyIngest upserts an item and adds the revisions whose content differs
	// from the current latest, all in one transaction.
	ApplyIngest(ctx context.Context, up model.ItemUpsert, revs []model.PendingRevision) (*model.IngestResult, error)

	// Query operations
	Search(ctx context.Context, req model.SearchRequest) (*model.SearchResult, error)
	Facets(ctx context.Context, req model.FacetRequest) (model.Facets, error)

	// Channel operations
	UpsertChannel(ctx context.Context, title, url, source string) (int64, bool, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	MarkChannelFetched(ctx context.Context, channelID int64, t time.Time) error
	MarkChannelError(ctx context.Context, channelID int64, errMsg string) error
	DeleteChannel(ctx context.Context, channelID int64) (bool, error)
}

// Options tunes query bounds and the revision retry loop.
type Options struct {
	DefaultPageSize   int
	MaxPageSize       int
	DefaultSort       model.Sort
	PreferredVariants []model.Variant
	FacetMaxValues    int
	MaxRetries        int
	DefaultSource     string
	Logger            *logging.Logger
}

// DefaultOptions returns the bounds used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		DefaultPageSize:   24,
		MaxPageSize:       100,
		DefaultSort:       model.SortNewest,
		PreferredVariants: model.Variants,
		FacetMaxValues:    200,
		MaxRetries:        5,
		DefaultSource:     model.DefaultSource,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = def.DefaultPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = def.MaxPageSize
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
	if o.DefaultSort == "" {
		o.DefaultSort = def.DefaultSort
	}
	if len(o.PreferredVariants) == 0 {
		o.PreferredVariants = def.PreferredVariants
	}
	if o.FacetMaxValues <= 0 {
		o.FacetMaxValues = def.FacetMaxValues
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.DefaultSource == "" {
		o.DefaultSource = def.DefaultSource
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}
