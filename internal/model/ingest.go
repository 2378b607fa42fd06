package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bryan-buckman/curio/internal/apperr"
)

// IngestVariant is one summary body sent by the producer.
type IngestVariant struct {
	Variant    string          `json:"variant"`
	Text       *string         `json:"text,omitempty"`
	HTML       *string         `json:"html,omitempty"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// IngestPayload is the producer's data contract for one item. Only ItemID is
// required; everything else merges into existing state.
type IngestPayload struct {
	ItemID          string          `json:"item_id"`
	Source          *string         `json:"source,omitempty"`
	Title           *string         `json:"title,omitempty"`
	ChannelName     *string         `json:"channel_name,omitempty"`
	CanonicalURL    *string         `json:"canonical_url,omitempty"`
	ThumbnailURL    *string         `json:"thumbnail_url,omitempty"`
	AudioURL        *string         `json:"audio_url,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
	IndexedAt       *time.Time      `json:"indexed_at,omitempty"`
	PublishedAt     *time.Time      `json:"published_at,omitempty"`
	Categorization  *Categorization `json:"categorization,omitempty"`
	Topics          *[]string       `json:"topics,omitempty"`
	Language        *string         `json:"language,omitempty"`
	ContentType     *string         `json:"content_type,omitempty"`
	Complexity      *string         `json:"complexity,omitempty"`
	HasAudio        *bool           `json:"has_audio,omitempty"`
	SummaryVariants []IngestVariant `json:"summary_variants,omitempty"`
}

// PendingRevision is a validated variant body ready to be stored.
type PendingRevision struct {
	Variant Variant
	Content RevisionContent
}

// Prepare validates the whole payload and splits it into the item write and
// the revision bodies. Nothing is returned unless everything is valid.
func (p IngestPayload) Prepare() (ItemUpsert, []PendingRevision, error) {
	up := ItemUpsert{
		ItemID:          p.ItemID,
		Source:          p.Source,
		Title:           trimPtr(p.Title),
		ChannelName:     trimPtr(p.ChannelName),
		CanonicalURL:    trimPtr(p.CanonicalURL),
		ThumbnailURL:    trimPtr(p.ThumbnailURL),
		AudioURL:        trimPtr(p.AudioURL),
		DurationSeconds: p.DurationSeconds,
		Language:        p.Language,
		ContentType:     trimPtr(p.ContentType),
		Complexity:      trimPtr(p.Complexity),
		HasAudio:        p.HasAudio,
		Categorization:  p.Categorization,
		Topics:          p.Topics,
		IndexedAt:       p.IndexedAt,
		PublishedAt:     p.PublishedAt,
	}
	if err := up.Validate(); err != nil {
		return ItemUpsert{}, nil, err
	}

	revs := make([]PendingRevision, 0, len(p.SummaryVariants))
	seen := make(map[Variant]bool, len(p.SummaryVariants))
	for _, sv := range p.SummaryVariants {
		v, err := ParseVariant(sv.Variant)
		if err != nil {
			return ItemUpsert{}, nil, err
		}
		if seen[v] {
			return ItemUpsert{}, nil, apperr.Validation(apperr.ReasonInvalidPayload, "variant %q sent twice", v)
		}
		seen[v] = true
		content := RevisionContent{RawPayload: sv.RawPayload}
		if sv.HTML != nil {
			content.HTML = *sv.HTML
		}
		if sv.Text != nil {
			content.Text = *sv.Text
		}
		if content.Empty() {
			return ItemUpsert{}, nil, apperr.Validation(apperr.ReasonEmptyContent, "variant %q has neither text nor html", v)
		}
		if len(content.RawPayload) > 0 && !json.Valid(content.RawPayload) {
			return ItemUpsert{}, nil, apperr.Validation(apperr.ReasonInvalidPayload, "variant %q raw_payload is not JSON", v)
		}
		revs = append(revs, PendingRevision{Variant: v, Content: content})
	}
	return up, revs, nil
}

// VariantOutcome reports what happened to one variant body.
type VariantOutcome struct {
	Variant  Variant `json:"variant"`
	Revision int     `json:"revision"`
	Created  bool    `json:"created"`
}

// IngestResult summarizes one applied payload.
type IngestResult struct {
	ItemID   string           `json:"item_id"`
	Key      string           `json:"key"`
	Created  bool             `json:"created"`
	Variants []VariantOutcome `json:"variants"`
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
