package schemaguard

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/yungbote/postsecret-pipeline/internal/domain/classification"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return v
}

func TestNormalizeTotality(t *testing.T) {
	inputs := []any{
		nil,
		map[string]any{},
		[]any{1, "a", nil},
		"just a string",
		42.0,
		true,
		map[string]any{"topics": "not-a-list", "front": []any{}, "back": 7, "confidence": "high"},
		map[string]any{"moderation": map[string]any{"labels": map[string]any{"x": 1}}},
		map[string]any{"front": map[string]any{"text": map[string]any{"fullText": 12}}},
		map[string]any{"confidence": map[string]any{"byField": []any{0.5}}},
	}
	want := classification.Default()
	for i, in := range inputs {
		got := Normalize(in)
		if got.Topics == nil || got.Feelings == nil || got.Meanings == nil || got.Vibe == nil ||
			got.Locations == nil || got.Moderation.Labels == nil || got.Moderation.PIITypes == nil {
			t.Fatalf("input %d: nil list in %+v", i, got)
		}
		if got.Style != classification.Unknown || got.Media.Type != classification.Unknown {
			t.Fatalf("input %d: enums not defaulted: %+v", i, got)
		}
		if !reflect.DeepEqual(got.Back, want.Back) {
			t.Fatalf("input %d: back not defaulted: %+v", i, got.Back)
		}
	}
}

func TestNormalizeJSONInvalid(t *testing.T) {
	got := NormalizeJSON([]byte("{not json"))
	if !reflect.DeepEqual(got, classification.Default()) {
		t.Fatalf("invalid json: want default got=%+v", got)
	}
}

func TestNormalizeArrayFields(t *testing.T) {
	got := Normalize(decode(t, `{"topics":["B","a","a","C","D","E"]}`))
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(got.Topics, want) {
		t.Fatalf("topics: want=%v got=%v", want, got.Topics)
	}

	got = Normalize(decode(t, `{"feelings":["  Lonely ", 3, null, "lonely", "Hopeful", "afraid", "zen"]}`))
	want = []string{"afraid", "hopeful", "lonely"}
	if !reflect.DeepEqual(got.Feelings, want) {
		t.Fatalf("feelings: want=%v got=%v", want, got.Feelings)
	}
}

func TestNormalizeEnumLists(t *testing.T) {
	got := Normalize(decode(t, `{
		"vibe":["Wistful","cheerful","raw","bittersweet"],
		"moderation":{"labels":["violence","made_up","Drugs"],"piiTypes":["name","phone","email","address","ssn","face","signature","bogus"]}
	}`))
	if want := []string{"bittersweet", "raw"}; !reflect.DeepEqual(got.Vibe, want) {
		t.Fatalf("vibe: want=%v got=%v", want, got.Vibe)
	}
	if want := []string{"drugs", "violence"}; !reflect.DeepEqual(got.Moderation.Labels, want) {
		t.Fatalf("labels: want=%v got=%v", want, got.Moderation.Labels)
	}
	if len(got.Moderation.PIITypes) != 7 {
		t.Fatalf("piiTypes: want 7 unlimited got=%v", got.Moderation.PIITypes)
	}
}

func TestNormalizeClamping(t *testing.T) {
	cases := []struct {
		raw  string
		want classification.Score
	}{
		{`{"confidence":{"overall":5}}`, 1},
		{`{"confidence":{"overall":-3}}`, 0},
		{`{"confidence":{"overall":0.456}}`, 0.46},
		{`{"confidence":{"overall":"0.9"}}`, 0},
		{`{"confidence":{"overall":true}}`, 0},
		{`{"confidence":{"overall":1e400}}`, 1},
		{`{"confidence":{"overall":-1e400}}`, 0},
	}
	for _, tc := range cases {
		got := Normalize(decode(t, tc.raw)).Confidence.Overall
		if got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.raw, tc.want, got)
		}
	}

	got := Normalize(decode(t, `{"moderation":{"nsfwScore":0.125},"confidence":{"byField":{"facets":1.5,"moderation":0.333}}}`))
	if got.Moderation.NSFWScore != 0.13 {
		t.Fatalf("nsfwScore: want=0.13 got=%v", got.Moderation.NSFWScore)
	}
	if got.Confidence.ByField.Facets != 1 || got.Confidence.ByField.Moderation != 0.33 {
		t.Fatalf("byField: got=%+v", got.Confidence.ByField)
	}
}

func TestNormalizeEnumFallback(t *testing.T) {
	got := Normalize(decode(t, `{"style":"cubism","media":{"type":"Postcard"},"moderation":{"reviewStatus":"maybe"}}`))
	if got.Style != classification.Unknown {
		t.Fatalf("style: want=unknown got=%q", got.Style)
	}
	if got.Media.Type != "postcard" {
		t.Fatalf("media.type: want=postcard got=%q", got.Media.Type)
	}
	if got.Moderation.ReviewStatus != classification.Unknown {
		t.Fatalf("reviewStatus: want=unknown got=%q", got.Moderation.ReviewStatus)
	}
	got = Normalize(decode(t, `{"style":" POP_ART "}`))
	if got.Style != "pop_art" {
		t.Fatalf("style case-insensitive: got=%q", got.Style)
	}
}

func TestNormalizeNullBack(t *testing.T) {
	nullBack := Normalize(decode(t, `{"back":null}`)).Back
	empty := Normalize(decode(t, `{}`)).Back
	if !reflect.DeepEqual(nullBack, empty) {
		t.Fatalf("back: want=%+v got=%+v", empty, nullBack)
	}
}

func TestNormalizeStrings(t *testing.T) {
	got := Normalize(decode(t, `{
		"secretDescription":"  a\tcard   with\r\n two  lines \r ",
		"wisdom":"one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo twentythree twentyfour twentyfive twentysix"
	}`))
	if got.SecretDescription != "a card with\ntwo lines" {
		t.Fatalf("secretDescription: got=%q", got.SecretDescription)
	}
	if n := len(strings.Fields(got.Wisdom)); n != 25 {
		t.Fatalf("wisdom words: want=25 got=%d", n)
	}
	if strings.Contains(got.Wisdom, "twentysix") {
		t.Fatalf("wisdom not truncated: %q", got.Wisdom)
	}
}

func TestNormalizeFullText(t *testing.T) {
	got := Normalize(decode(t, `{"front":{"text":{"fullText":null,"language":"EN"}},"back":{"text":{"fullText":""}}}`))
	if got.Front.Text.FullText != nil {
		t.Fatalf("front fullText: want nil got=%q", *got.Front.Text.FullText)
	}
	if got.Front.Text.Language != "en" {
		t.Fatalf("language: want=en got=%q", got.Front.Text.Language)
	}
	if got.Back.Text.FullText == nil || *got.Back.Text.FullText != "" {
		t.Fatalf("back fullText: want empty string got=%v", got.Back.Text.FullText)
	}

	long := strings.Repeat("x", 2500)
	raw, _ := json.Marshal(map[string]any{"front": map[string]any{"text": map[string]any{"fullText": long}}})
	got = NormalizeJSON(raw)
	ft := *got.Front.Text.FullText
	if !strings.HasSuffix(ft, classification.TruncatedSuffix) {
		t.Fatalf("missing truncation suffix")
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(ft, classification.TruncatedSuffix)); n != 2000 {
		t.Fatalf("truncated length: want=2000 got=%d", n)
	}
}

func TestNormalizeSnakeCaseAliasesAndStringObject(t *testing.T) {
	got := Normalize(`{"secret_description":"hidden","moderation":{"review_status":"needs_review","contains_pii":true}}`)
	if got.SecretDescription != "hidden" {
		t.Fatalf("alias: got=%q", got.SecretDescription)
	}
	if got.Moderation.ReviewStatus != classification.ReviewNeedsReview || !got.Moderation.ContainsPII {
		t.Fatalf("moderation: got=%+v", got.Moderation)
	}
}

func TestPayloadMarshalShape(t *testing.T) {
	raw, err := json.Marshal(Normalize(decode(t, `{"confidence":{"overall":0.5}}`)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	if !strings.HasPrefix(s, `{"topics":[],"feelings":[],"meanings":[],"vibe":[],"style":"unknown"`) {
		t.Fatalf("key order: %s", s)
	}
	if !strings.Contains(s, `"overall":0.50`) {
		t.Fatalf("score format: %s", s)
	}
	if !strings.Contains(s, `"fullText":null`) {
		t.Fatalf("fullText null: %s", s)
	}
}
