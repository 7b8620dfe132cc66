package classification

import (
	"strconv"
)

// Payload is the canonical extraction for one secret. Field order is the wire order.
type Payload struct {
	Topics            []string   `json:"topics"`
	Feelings          []string   `json:"feelings"`
	Meanings          []string   `json:"meanings"`
	Vibe              []string   `json:"vibe"`
	Style             string     `json:"style"`
	Locations         []string   `json:"locations"`
	Wisdom            string     `json:"wisdom"`
	SecretDescription string     `json:"secretDescription"`
	Media             Media      `json:"media"`
	Front             Side       `json:"front"`
	Back              Side       `json:"back"`
	Moderation        Moderation `json:"moderation"`
	Confidence        Confidence `json:"confidence"`
}

type Media struct {
	Type string `json:"type"`
}

type Side struct {
	ArtDescription  string          `json:"artDescription"`
	FontDescription FontDescription `json:"fontDescription"`
	Text            SideText        `json:"text"`
}

type FontDescription struct {
	Style string `json:"style"`
	Notes string `json:"notes"`
}

// SideText.FullText is nil when no text was transcribed, which is distinct from "".
type SideText struct {
	FullText *string `json:"fullText"`
	Language string  `json:"language"`
}

type Moderation struct {
	ReviewStatus string   `json:"reviewStatus"`
	Labels       []string `json:"labels"`
	NSFWScore    Score    `json:"nsfwScore"`
	ContainsPII  bool     `json:"containsPII"`
	PIITypes     []string `json:"piiTypes"`
}

type Confidence struct {
	Overall Score             `json:"overall"`
	ByField ConfidenceByField `json:"byField"`
}

type ConfidenceByField struct {
	Facets          Score `json:"facets"`
	ArtDescription  Score `json:"artDescription"`
	FontDescription Score `json:"fontDescription"`
	Moderation      Score `json:"moderation"`
}

// Score is a value in [0,1] with two decimals; it always marshals with two decimals.
type Score float64

func (s Score) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(s), 'f', 2, 64)), nil
}

// DefaultSide is the block substituted for a missing or null side.
func DefaultSide() Side {
	return Side{
		FontDescription: FontDescription{Style: Unknown},
		Text:            SideText{Language: Unknown},
	}
}

// Default returns the fully-populated default payload.
func Default() Payload {
	return Payload{
		Topics:    []string{},
		Feelings:  []string{},
		Meanings:  []string{},
		Vibe:      []string{},
		Style:     Unknown,
		Locations: []string{},
		Media:     Media{Type: Unknown},
		Front:     DefaultSide(),
		Back:      DefaultSide(),
		Moderation: Moderation{
			ReviewStatus: Unknown,
			Labels:       []string{},
			PIITypes:     []string{},
		},
	}
}

// FullText returns the transcribed text of both sides, front first.
func (p Payload) FullText() string {
	out := ""
	for _, t := range []*string{p.Front.Text.FullText, p.Back.Text.FullText} {
		if t == nil || *t == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += *t
	}
	return out
}
