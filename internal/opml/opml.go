// Package opml handles importing and exporting the channel subscription
// list as OPML.
package opml

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bryan-buckman/curio/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a single outline element: a source group or a channel feed.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one channel feed found in a document. Source is the slug of the
// enclosing group, or empty when the feed sits at the root or the group
// name is not a usable slug.
type Entry struct {
	Source string
	Title  string
	URL    string
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Parse reads an OPML document and returns the flattened channel entries.
// Nested groups inherit the top-level group as their source.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []Outline, source string, depth int)
	walk = func(outlines []Outline, source string, depth int) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{Source: source, Title: strings.TrimSpace(title), URL: strings.TrimSpace(o.XMLURL)})
				continue
			}
			if len(o.Outlines) == 0 {
				continue
			}
			groupSource := source
			if depth == 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				groupSource = ""
				if slug := strings.ToLower(strings.TrimSpace(name)); slugPattern.MatchString(slug) {
					groupSource = slug
				}
			}
			walk(o.Outlines, groupSource, depth+1)
		}
	}
	walk(doc.Body.Outlines, "", 0)
	return entries, nil
}

// Export generates an OPML document with one group per source.
func Export(title string, channels []model.Channel, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}

	groups := make(map[string][]Outline)
	for _, c := range channels {
		name := c.Title
		if name == "" {
			name = c.URL
		}
		groups[c.Source] = append(groups[c.Source], Outline{
			Text:   name,
			Title:  name,
			Type:   "rss",
			XMLURL: c.URL,
		})
	}
	sources := make([]string, 0, len(groups))
	for s := range groups {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{Text: s, Title: s, Outlines: groups[s]})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

// ChannelWriter is what Import needs from the store.
type ChannelWriter interface {
	UpsertChannel(ctx context.Context, title, url, source string) (int64, bool, error)
}

// ImportResult counts what an import did.
type ImportResult struct {
	Added    int `json:"added"`
	Existing int `json:"existing"`
}

// Import parses r and subscribes every channel it lists. Entries without a
// source get defaultSource.
func Import(ctx context.Context, store ChannelWriter, r io.Reader, defaultSource string) (ImportResult, error) {
	var res ImportResult
	entries, err := Parse(r)
	if err != nil {
		return res, err
	}
	for _, e := range entries {
		source := e.Source
		if source == "" {
			source = defaultSource
		}
		title := e.Title
		if title == "" {
			title = e.URL
		}
		_, created, err := store.UpsertChannel(ctx, title, e.URL, source)
		if err != nil {
			return res, fmt.Errorf("import %s: %w", e.URL, err)
		}
		if created {
			res.Added++
		} else {
			res.Existing++
		}
	}
	return res, nil
}
