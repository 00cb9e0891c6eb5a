// Package phone normalizes raw phone input into E.164 and decides whether a
// number can receive WhatsApp messages.
package phone

import (
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// minSubscriberDigits is the shortest national number accepted after the
// country code.
const minSubscriberDigits = 4

// Result is the outcome of normalizing a raw phone string.
type Result struct {
	IsValid     bool   `json:"is_valid"`
	Formatted   string `json:"formatted_phone"`
	CountryCode string `json:"country_code,omitempty"`
}

// Normalize strips formatting characters and converts local numbers to E.164
// using defaultCountryCode (digits only, e.g. "33"). A leading 0 marks a local
// number whose trunk prefix is replaced by the country code; a leading 00 is
// the international prefix.
func Normalize(raw, defaultCountryCode string) Result {
	cleaned := strip(raw)
	if cleaned == "" {
		return Result{}
	}
	defaultCountryCode = strings.TrimPrefix(strings.TrimSpace(defaultCountryCode), "+")

	var formatted string
	switch {
	case strings.HasPrefix(cleaned, "+"):
		formatted = cleaned
	case strings.HasPrefix(cleaned, "00"):
		formatted = "+" + cleaned[2:]
	case defaultCountryCode == "":
		return Result{Formatted: cleaned}
	case strings.HasPrefix(cleaned, "0"):
		formatted = "+" + defaultCountryCode + cleaned[1:]
	default:
		formatted = "+" + defaultCountryCode + cleaned
	}

	if !e164Pattern.MatchString(formatted) {
		return Result{Formatted: formatted}
	}
	cc := countryCode(formatted[1:])
	if len(formatted)-1-len(cc) < minSubscriberDigits {
		return Result{Formatted: formatted}
	}
	return Result{
		IsValid:     true,
		Formatted:   formatted,
		CountryCode: cc,
	}
}

// IsE164 reports whether value is already a well-formed E.164 number.
func IsE164(value string) bool {
	return e164Pattern.MatchString(value)
}

func strip(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '(', ')', '.', '/':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Calling codes are prefix-free: 1 and 7 are the only one-digit codes, the
// set below lists the two-digit ones, everything else uses three digits.
var twoDigitCodes = map[string]struct{}{
	"20": {}, "27": {}, "30": {}, "31": {}, "32": {}, "33": {}, "34": {}, "36": {},
	"39": {}, "40": {}, "41": {}, "43": {}, "44": {}, "45": {}, "46": {}, "47": {},
	"48": {}, "49": {}, "51": {}, "52": {}, "53": {}, "54": {}, "55": {}, "56": {},
	"57": {}, "58": {}, "60": {}, "61": {}, "62": {}, "63": {}, "64": {}, "65": {},
	"66": {}, "81": {}, "82": {}, "84": {}, "86": {}, "90": {}, "91": {}, "92": {},
	"93": {}, "94": {}, "95": {}, "98": {},
}

func countryCode(digits string) string {
	if digits == "" {
		return ""
	}
	if digits[0] == '1' || digits[0] == '7' {
		return digits[:1]
	}
	if len(digits) >= 2 {
		if _, ok := twoDigitCodes[digits[:2]]; ok {
			return digits[:2]
		}
	}
	if len(digits) >= 3 {
		return digits[:3]
	}
	return digits
}
