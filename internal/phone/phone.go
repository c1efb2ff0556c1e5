package phone

import (
	"regexp"
	"strings"
)

// Normalizer canonicalizes raw phone input into the key the challenge store
// is indexed by. Any two spellings of the same number must normalize to the
// same string.
//
// The country-code guess for non-international input is a deliberate,
// per-market policy: swap the Normalizer to change it, nothing downstream
// cares how the key was derived.
type Normalizer struct {
	countryCode string
}

// NewNormalizer returns a Normalizer for the given country calling code
// (e.g. "+49").
func NewNormalizer(countryCode string) *Normalizer {
	return &Normalizer{countryCode: countryCode}
}

// Normalize strips formatting characters and, for input without a leading
// "+", drops a national trunk "0" and prepends the configured country code.
// Best-effort: malformed input yields a best-effort key rather than an error.
func (n *Normalizer) Normalize(raw string) string {
	p := strings.TrimSpace(raw)
	for _, ch := range []string{"(", ")", " ", "-"} {
		p = strings.ReplaceAll(p, ch, "")
	}
	if !strings.HasPrefix(p, "+") {
		p = strings.TrimPrefix(p, "0")
		p = n.countryCode + p
	}
	return p
}

var (
	maskPattern = regexp.MustCompile(`^(\+\d{2})\d+(\d{2})$`)
	e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,15}$`)
)

// Mask renders a normalized phone number safe for logs, keeping the country
// code and the last two digits.
func Mask(p string) string {
	return maskPattern.ReplaceAllString(p, "$1******$2")
}

// IsE164 reports whether v looks like a numeric E.164 number.
func IsE164(v string) bool {
	return e164Pattern.MatchString(v)
}
