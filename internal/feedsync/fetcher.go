// Package feedsync polls subscribed channel feeds and pushes the item
// metadata they announce through the ingest pipeline.
package feedsync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bryan-buckman/curio/internal/logging"
	"github.com/bryan-buckman/curio/internal/model"
)

// Concurrency settings
const (
	// MaxConcurrencyPostgres is the number of parallel fetches for PostgreSQL
	MaxConcurrencyPostgres = 10
	// MaxConcurrencySQLite is the number of parallel fetches for SQLite (limited due to locking)
	MaxConcurrencySQLite = 1
	// DelayBetweenHostRequests is the minimum delay between requests to the same host
	DelayBetweenHostRequests = 500 * time.Millisecond
	// maxErrorLen bounds the error text stored on a channel.
	maxErrorLen = 200
)

// ChannelStore is the subscription side of the store.
type ChannelStore interface {
	SupportsHighConcurrency() bool
	ListChannels(ctx context.Context) ([]model.Channel, error)
	MarkChannelFetched(ctx context.Context, channelID int64, t time.Time) error
	MarkChannelError(ctx context.Context, channelID int64, errMsg string) error
}

// Ingester receives the payloads built from feed entries.
type Ingester interface {
	Ingest(ctx context.Context, payload model.IngestPayload) (*model.IngestResult, error)
}

// Options tunes the fetcher. Zero values pick the defaults.
type Options struct {
	Concurrency     int
	PerHostInterval time.Duration
	Timeout         time.Duration
	UserAgent       string
}

// hostLimiter paces requests per host so one busy host is not hammered.
type hostLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

func newHostLimiter(interval time.Duration) *hostLimiter {
	return &hostLimiter{interval: interval, limiters: make(map[string]*rate.Limiter)}
}

func (hl *hostLimiter) wait(ctx context.Context, host string) error {
	hl.mu.Lock()
	lim, ok := hl.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(hl.interval), 1)
		hl.limiters[host] = lim
	}
	hl.mu.Unlock()
	return lim.Wait(ctx)
}

// extractHost gets the host from a URL.
func extractHost(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

// Fetcher handles channel feed fetching.
type Fetcher struct {
	store       ChannelStore
	ingest      Ingester
	parser      *gofeed.Parser
	concurrency int
	limiter     *hostLimiter
	log         *logging.Logger
	now         func() time.Time
}

// NewFetcher creates a fetcher. Without an explicit concurrency it runs
// parallel workers only when the store handles concurrent writers.
func NewFetcher(store ChannelStore, ing Ingester, opts Options, log *logging.Logger) *Fetcher {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = MaxConcurrencySQLite
		if store.SupportsHighConcurrency() {
			concurrency = MaxConcurrencyPostgres
		}
	}
	interval := opts.PerHostInterval
	if interval <= 0 {
		interval = DelayBetweenHostRequests
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	if opts.UserAgent != "" {
		parser.UserAgent = opts.UserAgent
	}
	return &Fetcher{
		store:       store,
		ingest:      ing,
		parser:      parser,
		concurrency: concurrency,
		limiter:     newHostLimiter(interval),
		log:         logging.OrNop(log).With("component", "feedsync"),
		now:         time.Now,
	}
}

// FetchChannel fetches one channel feed and ingests its entries.
// Returns the number of items that were new to the index.
func (f *Fetcher) FetchChannel(ctx context.Context, ch model.Channel) (int, error) {
	if err := f.limiter.wait(ctx, extractHost(ch.URL)); err != nil {
		return 0, fmt.Errorf("rate limit cancelled for %s: %w", ch.URL, err)
	}

	parsed, err := f.parser.ParseURLWithContext(ch.URL, ctx)
	if err != nil {
		errMsg := err.Error()
		if len(errMsg) > maxErrorLen {
			errMsg = errMsg[:maxErrorLen]
		}
		if markErr := f.store.MarkChannelError(ctx, ch.ID, errMsg); markErr != nil {
			f.log.Warn("Error recording channel failure", "channel_id", ch.ID, "error", markErr)
		}
		return 0, fmt.Errorf("parse feed %s: %w", ch.URL, err)
	}

	newCount := 0
	for _, entry := range parsed.Items {
		payload, ok := PayloadFromEntry(parsed, entry, ch.Source)
		if !ok {
			f.log.Debug("Skipping entry without item id", "channel_id", ch.ID, "link", entry.Link)
			continue
		}
		res, err := f.ingest.Ingest(ctx, payload)
		if err != nil {
			f.log.Warn("Error ingesting entry", "channel_id", ch.ID, "item_id", payload.ItemID, "error", err)
			continue
		}
		if res.Created {
			newCount++
		}
	}

	if err := f.store.MarkChannelFetched(ctx, ch.ID, f.now()); err != nil {
		f.log.Warn("Error updating last_fetched", "channel_id", ch.ID, "error", err)
	}
	return newCount, nil
}

// FetchAll fetches every channel with the configured concurrency.
// Per-channel failures are logged and recorded on the channel; the returned
// map holds new-item counts for the channels that succeeded.
func (f *Fetcher) FetchAll(ctx context.Context) (map[int64]int, error) {
	channels, err := f.store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[int64]int, len(channels))
	if len(channels) == 0 {
		return results, nil
	}
	f.log.Info("Fetching channels", "count", len(channels), "concurrency", f.concurrency)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, ch := range channels {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			count, err := f.FetchChannel(gctx, ch)
			if err != nil {
				f.log.Warn("Failed to fetch channel", "url", ch.URL, "error", err)
				return nil
			}
			mu.Lock()
			results[ch.ID] = count
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// PayloadFromEntry maps one feed entry to an ingest payload. It reports false
// when no natural item id can be derived.
func PayloadFromEntry(feed *gofeed.Feed, entry *gofeed.Item, source string) (model.IngestPayload, bool) {
	id := EntryItemID(entry)
	if id == "" {
		return model.IngestPayload{}, false
	}
	p := model.IngestPayload{ItemID: id}
	if source != "" {
		p.Source = &source
	}
	if title := strings.TrimSpace(entry.Title); title != "" {
		p.Title = &title
	}
	if channel := channelName(feed, entry); channel != "" {
		p.ChannelName = &channel
	}
	if entry.Link != "" {
		link := entry.Link
		p.CanonicalURL = &link
	}
	if thumb := thumbnailURL(entry); thumb != "" {
		p.ThumbnailURL = &thumb
	}
	if entry.PublishedParsed != nil {
		t := entry.PublishedParsed.UTC()
		p.PublishedAt = &t
	}
	return p, true
}

// EntryItemID finds the natural id of an entry: the yt:videoId extension
// first, then the watch, short-link or shorts URL forms.
func EntryItemID(entry *gofeed.Item) string {
	if ext, ok := entry.Extensions["yt"]; ok {
		for _, e := range ext["videoId"] {
			if model.ValidItemID(strings.TrimSpace(e.Value)) {
				return strings.TrimSpace(e.Value)
			}
		}
	}
	for _, link := range append([]string{entry.Link}, entry.Links...) {
		if id := idFromURL(link); id != "" {
			return id
		}
	}
	if strings.HasPrefix(entry.GUID, "yt:video:") {
		if id := strings.TrimPrefix(entry.GUID, "yt:video:"); model.ValidItemID(id) {
			return id
		}
	}
	return ""
}

func idFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	var id string
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case strings.HasPrefix(u.Path, "/shorts/"):
		id = strings.TrimPrefix(u.Path, "/shorts/")
	default:
		id = u.Query().Get("v")
	}
	if model.ValidItemID(id) {
		return id
	}
	return ""
}

func channelName(feed *gofeed.Feed, entry *gofeed.Item) string {
	for _, a := range entry.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	if feed != nil {
		return strings.TrimSpace(feed.Title)
	}
	return ""
}

func thumbnailURL(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	media, ok := entry.Extensions["media"]
	if !ok {
		return ""
	}
	for _, group := range media["group"] {
		for _, thumb := range group.Children["thumbnail"] {
			if u := thumb.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	for _, thumb := range media["thumbnail"] {
		if u := thumb.Attrs["url"]; u != "" {
			return u
		}
	}
	return ""
}
