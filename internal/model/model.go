// Package model defines shared data structures.
package model

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/bryan-buckman/curio/internal/apperr"
)

// DefaultSource is the source slug used when a producer does not send one.
const DefaultSource = "yt"

var (
	itemIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	languagePattern = regexp.MustCompile(`^[a-z]{2}$`)
	sourcePattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)
)

// Item is one ingested content unit.
type Item struct {
	ItemID          string         `json:"item_id"`
	Source          string         `json:"source"`
	Title           string         `json:"title"`
	ChannelName     string         `json:"channel_name,omitempty"`
	CanonicalURL    string         `json:"canonical_url,omitempty"`
	ThumbnailURL    string         `json:"thumbnail_url,omitempty"`
	AudioURL        string         `json:"audio_url,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	Language        string         `json:"language,omitempty"`
	ContentType     string         `json:"content_type,omitempty"`
	Complexity      string         `json:"complexity,omitempty"`
	HasAudio        bool           `json:"has_audio"`
	Categorization  Categorization `json:"categorization,omitempty"`
	Topics          []string       `json:"topics,omitempty"`
	IndexedAt       time.Time      `json:"indexed_at"`
	PublishedAt     *time.Time     `json:"published_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Key returns the derived "source:item_id" identifier used for display.
func (it Item) Key() string {
	return it.Source + ":" + it.ItemID
}

// ItemUpsert carries a partial item write. Nil fields keep the stored value.
type ItemUpsert struct {
	ItemID          string
	Source          *string
	Title           *string
	ChannelName     *string
	CanonicalURL    *string
	ThumbnailURL    *string
	AudioURL        *string
	DurationSeconds *int
	Language        *string
	ContentType     *string
	Complexity      *string
	HasAudio        *bool
	Categorization  *Categorization
	Topics          *[]string
	IndexedAt       *time.Time
	PublishedAt     *time.Time
}

// Validate checks the natural key, language and categorization, normalizing
// the language code to lower case.
func (u *ItemUpsert) Validate() error {
	id, err := ParseItemRef(u.ItemID)
	if err != nil {
		return err
	}
	u.ItemID = id
	if u.Source != nil {
		s := strings.ToLower(strings.TrimSpace(*u.Source))
		if !sourcePattern.MatchString(s) {
			return apperr.Validation(apperr.ReasonInvalidPayload, "invalid source slug %q", *u.Source)
		}
		u.Source = &s
	}
	if u.Language != nil {
		lang, err := NormalizeLanguage(*u.Language)
		if err != nil {
			return err
		}
		u.Language = &lang
	}
	if u.DurationSeconds != nil && *u.DurationSeconds < 0 {
		return apperr.Validation(apperr.ReasonInvalidPayload, "negative duration %d", *u.DurationSeconds)
	}
	if u.Categorization != nil {
		if err := u.Categorization.Validate(); err != nil {
			return err
		}
	}
	if u.Topics != nil {
		cleaned := make([]string, 0, len(*u.Topics))
		for _, t := range *u.Topics {
			if t = strings.TrimSpace(t); t != "" {
				cleaned = append(cleaned, t)
			}
		}
		u.Topics = &cleaned
	}
	return nil
}

// ValidItemID reports whether id matches the natural-key pattern.
func ValidItemID(id string) bool {
	return itemIDPattern.MatchString(id)
}

// ValidSource reports whether s is an acceptable source slug.
func ValidSource(s string) bool {
	return sourcePattern.MatchString(s)
}

// ParseItemRef accepts a bare natural id or a prefixed "source:id" form and
// returns the natural id. The prefix carries no meaning of its own.
func ParseItemRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndexByte(ref, ':'); i >= 0 {
		ref = ref[i+1:]
	}
	if !ValidItemID(ref) {
		return "", apperr.Validation(apperr.ReasonInvalidItemID, "invalid item id %q", ref)
	}
	return ref, nil
}

// NormalizeLanguage lower-cases code and checks it is two letters. The empty
// string is allowed and means "unknown".
func NormalizeLanguage(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "", nil
	}
	if !languagePattern.MatchString(code) {
		return "", apperr.Validation(apperr.ReasonInvalidLanguage, "language must be a two-letter code, got %q", code)
	}
	return code, nil
}

// Revision is one generated version of a variant's content.
type Revision struct {
	ID          int64           `json:"id"`
	ItemID      string          `json:"item_id"`
	Variant     Variant         `json:"variant"`
	Revision    int             `json:"revision"`
	HTML        string          `json:"html"`
	Text        string          `json:"text"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	ContentHash string          `json:"content_hash"`
	IsLatest    bool            `json:"is_latest"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RevisionContent is the body of a new revision.
type RevisionContent struct {
	HTML       string
	Text       string
	RawPayload json.RawMessage
}

// Empty reports whether neither rendered form is present.
func (c RevisionContent) Empty() bool {
	return strings.TrimSpace(c.HTML) == "" && strings.TrimSpace(c.Text) == ""
}

// DeleteResult is the per-identifier outcome of a delete request.
type DeleteResult struct {
	ItemID  string `json:"item_id"`
	Deleted bool   `json:"deleted"`
}

// Channel is a subscribed producer feed (for example a video channel's Atom feed).
type Channel struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	LastFetched time.Time `json:"last_fetched"`
	LastError   string    `json:"last_error,omitempty"`
}
