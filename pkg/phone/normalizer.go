// Package phone canonicalizes subscriber numbers before any provider call.
package phone

import (
	"errors"
	"strings"
)

var (
	ErrInvalidFormat      = errors.New("phone number contains no usable digits")
	ErrInvalidLength      = errors.New("phone number has an invalid length")
	ErrInvalidCountryCode = errors.New("phone number has an invalid country code")
	ErrInvalidPrefix      = errors.New("phone number has an unknown network prefix")
)

// defaultNetworkDigit is inserted when repairing an 11-digit number that is
// one digit short of canonical form. This is a guess-correction, not a
// verified recovery; it is gated behind Options.RepairEnabled.
const defaultNetworkDigit = "7"

// validPrefixes lists the leading subscriber digits assigned to mobile
// networks in the target country (7xx mobile ranges plus the 10x/11x blocks).
var validPrefixes = []string{
	"70", "71", "72", "73", "74", "75", "76", "77", "78", "79",
	"10", "11",
}

// Options configures a Normalizer. The zero value is not usable; use
// NewNormalizer which applies defaults.
type Options struct {
	CountryCode   string
	RepairEnabled bool
}

// Normalizer rewrites raw subscriber input into canonical
// <country-code><9 digits> form. It performs no I/O and is safe for
// concurrent use.
type Normalizer struct {
	countryCode   string
	repairEnabled bool
}

func NewNormalizer(opts Options) *Normalizer {
	code := strings.TrimSpace(opts.CountryCode)
	if code == "" {
		code = "254"
	}
	return &Normalizer{
		countryCode:   code,
		repairEnabled: opts.RepairEnabled,
	}
}

// Normalize validates and canonicalizes a raw subscriber number.
// Accepted inputs for country code 254:
//
//	0701234567    (leading zero)
//	+254701234567 (international)
//	254701234567  (already canonical)
//	701234567     (bare local)
//
// All yield 254701234567.
func (n *Normalizer) Normalize(raw string) (string, error) {
	digits := stripNonDigits(raw)
	if digits == "" {
		return "", ErrInvalidFormat
	}

	canonicalLen := len(n.countryCode) + 9

	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		digits = n.countryCode + digits[1:]
	case len(digits) == 9:
		digits = n.countryCode + digits
	case len(digits) == canonicalLen:
		if !strings.HasPrefix(digits, n.countryCode) {
			return "", ErrInvalidCountryCode
		}
	case len(digits) == canonicalLen-1 && strings.HasPrefix(digits, n.countryCode):
		if !n.repairEnabled {
			return "", ErrInvalidLength
		}
		repaired := n.countryCode + defaultNetworkDigit + digits[len(n.countryCode):]
		return n.validateCanonical(repaired)
	default:
		return "", ErrInvalidLength
	}

	return n.validateCanonical(digits)
}

func (n *Normalizer) validateCanonical(digits string) (string, error) {
	subscriber := digits[len(n.countryCode):]
	for _, prefix := range validPrefixes {
		if strings.HasPrefix(subscriber, prefix) {
			return digits, nil
		}
	}
	return "", ErrInvalidPrefix
}

func stripNonDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
