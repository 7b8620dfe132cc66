package classification

const Unknown = "unknown"

const (
	ReviewAutoVetted      = "auto_vetted"
	ReviewNeedsReview     = "needs_review"
	ReviewRejectCandidate = "reject_candidate"
)

// Field cardinality limits; 0 means unlimited.
const (
	MaxTopics    = 4
	MaxFeelings  = 3
	MaxMeanings  = 2
	MaxVibe      = 2
	MaxLocations = 5
	MaxLabels    = 6
	MaxPIITypes  = 0

	MaxWisdomWords  = 25
	MaxFullTextRune = 2000
	TruncatedSuffix = " … [TRUNCATED]"
)

type Set map[string]struct{}

func newSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

var Styles = newSet(
	"art_deco", "abstract", "minimalism", "collage", "pop_art", "surrealism", "expressionism",
	"bauhaus", "constructivist", "grunge", "vaporwave", "doodle", "cutout", "watercolor",
	"oil_painting", "pencil_sketch", "photomontage", "glitch", "pixel_art", "graffiti",
	"calligraphic", "stencil", "typographic", "realist_photo", "mixed_media", Unknown,
)

var Vibes = newSet(
	"bittersweet", "confessional", "defiant", "eerie", "gentle", "grim", "hopeful",
	"melancholic", "nostalgic", "ominous", "playful", "raw", "serene", "somber", "tense",
	"tender", "wistful",
)

var MediaTypes = newSet("postcard", "note_card", "letter", "photo", "poster", "mixed", Unknown)

var FontStyles = newSet("handwritten", "typed", "stenciled", "mixed", Unknown)

var ReviewStatuses = newSet(ReviewAutoVetted, ReviewNeedsReview, ReviewRejectCandidate, Unknown)

var ModerationLabels = newSet(
	"nudity", "sexual", "violence", "self_harm", "suicide", "hate", "harassment", "drugs",
	"alcohol", "weapons", "profanity", "minors", "graphic", "illegal_activity", "abuse",
)

var PIITypes = newSet(
	"name", "email", "phone", "address", "ssn", "face", "signature", "license_plate",
	"account_number", "date_of_birth", "handwriting_identifiable",
)
