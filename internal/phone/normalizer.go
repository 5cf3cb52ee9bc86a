package phone

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidFormat is returned when input cannot be canonicalized into
// a valid international number.
var ErrInvalidFormat = errors.New("invalid phone number format")

var nonDialChars = regexp.MustCompile(`[^\d+]`)

// Normalizer canonicalizes raw phone input into a single comparable
// international form. It holds no state beyond its configuration and
// is safe for concurrent use.
type Normalizer struct {
	defaultCountryCode string
	pattern            *regexp.Regexp
}

// NewNormalizer compiles the validation pattern once. defaultCountryCode
// must include the leading "+" (e.g. "+237").
func NewNormalizer(defaultCountryCode, pattern string) (*Normalizer, error) {
	if !strings.HasPrefix(defaultCountryCode, "+") {
		return nil, fmt.Errorf("default country code must start with '+': %q", defaultCountryCode)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid phone pattern: %w", err)
	}
	return &Normalizer{
		defaultCountryCode: defaultCountryCode,
		pattern:            re,
	}, nil
}

// Normalize strips formatting characters and produces the canonical
// "+<country><national>" form. Normalizing an already canonical number
// returns it unchanged.
func (n *Normalizer) Normalize(raw string) (string, error) {
	cleaned := nonDialChars.ReplaceAllString(raw, "")
	if cleaned == "" {
		return "", ErrInvalidFormat
	}

	var canonical string
	trunk := strings.TrimPrefix(n.defaultCountryCode, "+")
	switch {
	case strings.HasPrefix(cleaned, "+"):
		// Drop any stray "+" left mid-string by the character strip.
		canonical = "+" + strings.ReplaceAll(cleaned[1:], "+", "")
	case strings.HasPrefix(cleaned, trunk):
		canonical = "+" + cleaned
	default:
		canonical = n.defaultCountryCode + cleaned
	}

	if !n.pattern.MatchString(canonical) {
		return "", ErrInvalidFormat
	}
	return canonical, nil
}

// Hash derives the deterministic lookup key used by the long-lived user
// store, so raw numbers never serve as storage keys there.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Mask redacts a number for log output, keeping the dialing prefix.
func Mask(number string) string {
	if len(number) <= 4 {
		return "****"
	}
	return number[:4] + "****"
}
