package schemaguard

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/postsecret-pipeline/internal/domain/classification"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	spaceAroundNL   = regexp.MustCompile(` ?\n ?`)
)

// normString trims, normalizes line endings to \n and collapses runs of horizontal whitespace.
// Non-string values become "".
func normString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return cleanText(s)
}

func cleanText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = horizontalSpace.ReplaceAllString(s, " ")
	s = spaceAroundNL.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

func normFullText(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = cleanText(s)
	if utf8.RuneCountInString(s) > classification.MaxFullTextRune {
		runes := []rune(s)
		s = string(runes[:classification.MaxFullTextRune]) + classification.TruncatedSuffix
	}
	return &s
}

// normList keeps string members only, lowercases, trims, dedupes, sorts, filters by allowed
// (when non-nil) and truncates to max (0 = unlimited). The result is never nil.
func normList(v any, max int, allowed classification.Set) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.ToLower(cleanText(s))
		if s == "" {
			continue
		}
		if allowed != nil && !allowed.Has(s) {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func normEnum(v any, allowed classification.Set) string {
	s, ok := v.(string)
	if !ok {
		return classification.Unknown
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !allowed.Has(s) {
		return classification.Unknown
	}
	return s
}

// normScore clamps to [0,1] and rounds to two decimals. Non-numeric values become 0; numbers
// beyond float64 range clamp like any other out-of-range score.
func normScore(v any) classification.Score {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return classification.Score(math.Round(f*100) / 100)
}

func truncateWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ")
}
