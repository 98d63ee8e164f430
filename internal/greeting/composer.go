// Package greeting turns detections into spoken greeting text.
package greeting

import (
	"fmt"
	"strings"

	"github.com/novadristi/greeter/internal/detection"
)

// DefaultVenue is used when no venue is configured.
const DefaultVenue = "AstroNova"

// DefaultPhrases is the rotating welcoming phrase list.
var DefaultPhrases = []string{
	"Please make yourself comfortable!",
	"Feel free to relax and enjoy!",
	"We're glad to have you here!",
	"Make yourself at home!",
	"Take your time and enjoy!",
	"We're happy to see you!",
	"Welcome to our space!",
	"Enjoy your time with us!",
}

// Composer builds greeting text. It holds no mutable state.
type Composer struct {
	venue   string
	phrases []string
}

// NewComposer creates a composer. Empty arguments fall back to the defaults.
func NewComposer(venue string, phrases []string) *Composer {
	if venue == "" {
		venue = DefaultVenue
	}
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	return &Composer{venue: venue, phrases: append([]string(nil), phrases...)}
}

// Venue returns the venue name used in greetings.
func (c *Composer) Venue() string { return c.venue }

// Honorific returns "ma'am" for female faces and "sir" otherwise.
func Honorific(g detection.Gender) string {
	if g == detection.GenderFemale {
		return "ma'am"
	}
	return "sir"
}

// Individual greets a single person.
func (c *Composer) Individual(name string, class detection.Classification, gender detection.Gender) string {
	if !class.Known() {
		return fmt.Sprintf("Hello %s, welcome to %s!", Honorific(gender), c.venue)
	}
	return fmt.Sprintf("Hello %s, welcome back to %s!", name, c.venue)
}

// Group greets everyone in one detection set with a single sentence.
func (c *Composer) Group(dets []detection.Detection) string {
	var (
		known    []string
		seen     = make(map[string]bool)
		unknowns []detection.Detection
		males    int
		females  int
	)
	for _, d := range dets {
		if !d.Classification.Known() {
			unknowns = append(unknowns, d)
			switch d.Gender {
			case detection.GenderMale:
				males++
			case detection.GenderFemale:
				females++
			}
			continue
		}
		if !seen[d.Name] {
			seen[d.Name] = true
			known = append(known, d.Name)
		}
	}

	if len(known) == 0 {
		switch {
		case len(unknowns) == 1:
			h := Honorific(unknowns[0].Gender)
			return c.welcome(", "+h, h)
		case len(unknowns) == 2 && males == 2:
			return c.welcome(", gentlemen", "gentlemen")
		case len(unknowns) == 2 && females == 2:
			return c.welcome(", ladies", "ladies")
		case len(unknowns) == 2:
			return c.welcome("", "everyone")
		default:
			return c.welcome(", everyone", "everyone")
		}
	}

	if len(known) > 3 {
		return c.hello("everyone", "everyone")
	}

	names := FormatNames(known)
	switch {
	case len(unknowns) == 0:
		return c.hello(names, names)
	case len(unknowns) == 1:
		h := Honorific(unknowns[0].Gender)
		return c.hello(names+" and "+h, names+h)
	default:
		return c.hello(names+" and everyone", names+"everyone")
	}
}

func (c *Composer) welcome(addressee, subject string) string {
	return fmt.Sprintf("Welcome to %s%s! %s", c.venue, addressee, c.Phrase(subject))
}

func (c *Composer) hello(addressee, subject string) string {
	return fmt.Sprintf("Hello %s! %s", addressee, c.Phrase(subject))
}

// Phrase picks a welcoming phrase from the sum of the subject's UTF-16 code
// units, so the same subject always gets the same phrase.
func (c *Composer) Phrase(subject string) string {
	sum := 0
	for _, r := range subject {
		if r >= 0x10000 {
			// surrogate pair
			r -= 0x10000
			sum += 0xD800 + int(r>>10)
			sum += 0xDC00 + int(r&0x3FF)
			continue
		}
		sum += int(r)
	}
	return c.phrases[sum%len(c.phrases)]
}

// FormatNames joins names as "A", "A and B" or "A, B, and C".
// The input slice is not modified.
func FormatNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	last := len(names) - 1
	return strings.Join(names[:last], ", ") + ", and " + names[last]
}
