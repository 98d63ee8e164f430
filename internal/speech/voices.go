package speech

import (
	"strings"

	"github.com/novadristi/greeter/internal/detection"
)

// DefaultProviders are name fragments of higher quality voices.
var DefaultProviders = []string{"google", "microsoft", "samantha"}

// DefaultLocale is the fallback locale.
const DefaultLocale = "en-US"

// VoicePredicate reports whether v is acceptable for the requested gender.
type VoicePredicate func(v Voice, gender detection.Gender) bool

// Ranker picks a voice by trying predicates in order. The first predicate
// with any match wins; within it the first matching voice wins.
type Ranker struct {
	chain []VoicePredicate
}

// NewRanker builds a ranker from an ordered predicate chain.
func NewRanker(chain ...VoicePredicate) Ranker {
	return Ranker{chain: chain}
}

// DefaultRanker prefers a provider voice of the right gender, then the
// locale, then whatever comes first.
func DefaultRanker(providers []string, locale string) Ranker {
	if len(providers) == 0 {
		providers = DefaultProviders
	}
	if locale == "" {
		locale = DefaultLocale
	}
	return NewRanker(ProviderGender(providers), Locale(locale), Any)
}

// Select returns the chosen voice or nil when there is none.
func (r Ranker) Select(voices []Voice, gender detection.Gender) *Voice {
	for _, p := range r.chain {
		for i := range voices {
			if p(voices[i], gender) {
				v := voices[i]
				return &v
			}
		}
	}
	return nil
}

// ProviderGender matches provider voices whose name hints at the
// requested gender. It never matches when no gender was requested.
func ProviderGender(providers []string) VoicePredicate {
	lowered := make([]string, len(providers))
	for i, p := range providers {
		lowered[i] = lower(p)
	}
	return func(v Voice, gender detection.Gender) bool {
		if gender == detection.GenderNone {
			return false
		}
		name := lower(v.Name)
		for _, p := range lowered {
			if strings.Contains(name, p) {
				return GenderHint(v.Name) == gender
			}
		}
		return false
	}
}

// Locale matches voices of exactly the given locale.
func Locale(locale string) VoicePredicate {
	return func(v Voice, _ detection.Gender) bool {
		return strings.EqualFold(v.Locale, locale)
	}
}

// Any matches every voice.
func Any(Voice, detection.Gender) bool { return true }

// GenderHint reads the gender embedded in a voice name. "female" is
// checked first since it contains "male".
func GenderHint(name string) detection.Gender {
	n := lower(name)
	switch {
	case strings.Contains(n, "female"):
		return detection.GenderFemale
	case strings.Contains(n, "male"), strings.Contains(n, "david"):
		return detection.GenderMale
	default:
		return detection.GenderNone
	}
}
