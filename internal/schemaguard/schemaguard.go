// Package schemaguard coerces untrusted model output into the canonical classification payload.
// Nothing in this package returns an error or panics: every malformed input degrades to defaults.
package schemaguard

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/yungbote/postsecret-pipeline/internal/domain/classification"
)

// NormalizeJSON decodes data and normalizes it. Invalid JSON yields the default payload.
func NormalizeJSON(data []byte) classification.Payload {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return classification.Default()
	}
	return Normalize(raw)
}

// Normalize maps an arbitrary decoded JSON value onto the canonical payload.
func Normalize(raw any) (out classification.Payload) {
	defer func() {
		if r := recover(); r != nil {
			out = classification.Default()
		}
	}()

	m := asObject(raw)
	out = classification.Default()
	if m == nil {
		return out
	}

	out.Topics = normList(field(m, "topics"), classification.MaxTopics, nil)
	out.Feelings = normList(field(m, "feelings"), classification.MaxFeelings, nil)
	out.Meanings = normList(field(m, "meanings"), classification.MaxMeanings, nil)
	out.Vibe = normList(field(m, "vibe", "vibes"), classification.MaxVibe, classification.Vibes)
	out.Style = normEnum(field(m, "style"), classification.Styles)
	out.Locations = normList(field(m, "locations"), classification.MaxLocations, nil)
	out.Wisdom = truncateWords(normString(field(m, "wisdom")), classification.MaxWisdomWords)
	out.SecretDescription = normString(field(m, "secretDescription", "secret_description"))

	if media := asObject(field(m, "media")); media != nil {
		out.Media.Type = normEnum(field(media, "type"), classification.MediaTypes)
	}

	out.Front = normSide(field(m, "front"))
	out.Back = normSide(field(m, "back"))
	out.Moderation = normModeration(field(m, "moderation"))
	out.Confidence = normConfidence(field(m, "confidence"))
	return out
}

func normSide(v any) classification.Side {
	side := classification.DefaultSide()
	m := asObject(v)
	if m == nil {
		return side
	}
	side.ArtDescription = normString(field(m, "artDescription", "art_description"))
	if font := asObject(field(m, "fontDescription", "font_description")); font != nil {
		side.FontDescription.Style = normEnum(field(font, "style"), classification.FontStyles)
		side.FontDescription.Notes = normString(field(font, "notes"))
	}
	if text := asObject(field(m, "text")); text != nil {
		side.Text.FullText = normFullText(field(text, "fullText", "full_text"))
		if lang := strings.ToLower(normString(field(text, "language"))); lang != "" {
			side.Text.Language = lang
		}
	}
	return side
}

func normModeration(v any) classification.Moderation {
	mod := classification.Default().Moderation
	m := asObject(v)
	if m == nil {
		return mod
	}
	mod.ReviewStatus = normEnum(field(m, "reviewStatus", "review_status"), classification.ReviewStatuses)
	mod.Labels = normList(field(m, "labels"), classification.MaxLabels, classification.ModerationLabels)
	mod.NSFWScore = normScore(field(m, "nsfwScore", "nsfw_score"))
	if b, ok := field(m, "containsPII", "contains_pii").(bool); ok {
		mod.ContainsPII = b
	}
	mod.PIITypes = normList(field(m, "piiTypes", "pii_types"), classification.MaxPIITypes, classification.PIITypes)
	return mod
}

func normConfidence(v any) classification.Confidence {
	var c classification.Confidence
	m := asObject(v)
	if m == nil {
		return c
	}
	c.Overall = normScore(field(m, "overall"))
	if by := asObject(field(m, "byField", "by_field")); by != nil {
		c.ByField.Facets = normScore(field(by, "facets"))
		c.ByField.ArtDescription = normScore(field(by, "artDescription", "art_description"))
		c.ByField.FontDescription = normScore(field(by, "fontDescription", "font_description"))
		c.ByField.Moderation = normScore(field(by, "moderation"))
	}
	return c
}

// asObject accepts a decoded object, or a string holding a JSON object.
func asObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "{") {
			return nil
		}
		var inner map[string]any
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		if err := dec.Decode(&inner); err != nil {
			return nil
		}
		return inner
	default:
		return nil
	}
}

// field returns the first present key; later keys are accepted aliases.
func field(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}
