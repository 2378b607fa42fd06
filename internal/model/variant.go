package model

import (
	"strings"

	"github.com/bryan-buckman/curio/internal/apperr"
)

// Variant names a kind of generated summary.
type Variant string

const (
	VariantComprehensive Variant = "comprehensive"
	VariantBulletPoints  Variant = "bullet-points"
	VariantKeyInsights   Variant = "key-insights"
	VariantExecutive     Variant = "executive"
	VariantAudio         Variant = "audio"
	VariantAudioFR       Variant = "audio-fr"
	VariantAudioES       Variant = "audio-es"
)

// Variants is the closed vocabulary, in default preference order.
var Variants = []Variant{
	VariantComprehensive,
	VariantKeyInsights,
	VariantBulletPoints,
	VariantExecutive,
	VariantAudio,
	VariantAudioFR,
	VariantAudioES,
}

// Valid reports whether v belongs to the vocabulary.
func (v Variant) Valid() bool {
	for _, known := range Variants {
		if v == known {
			return true
		}
	}
	return false
}

// IsAudio reports whether v is a narrated-audio variant.
func (v Variant) IsAudio() bool {
	return v == VariantAudio || strings.HasPrefix(string(v), string(VariantAudio)+"-")
}

// ParseVariant validates a variant name from the outside world.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", apperr.Validation(apperr.ReasonInvalidVariant, "unknown variant %q", s)
	}
	return v, nil
}

// ParseVariants validates a list of names, dropping duplicates.
func ParseVariants(names []string) ([]Variant, error) {
	out := make([]Variant, 0, len(names))
	seen := make(map[Variant]bool, len(names))
	for _, n := range names {
		v, err := ParseVariant(n)
		if err != nil {
			return nil, err
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}

// PreferenceOrder puts first ahead of fallback, without repeats.
func PreferenceOrder(first, fallback []Variant) []Variant {
	out := make([]Variant, 0, len(first)+len(fallback))
	seen := make(map[Variant]bool, len(first)+len(fallback))
	for _, list := range [][]Variant{first, fallback} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
