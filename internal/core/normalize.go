package core

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is tried first when a phone number has no country code.
const DefaultPhoneRegion = "IN"

// NormalizePhone converts raw to E.164. It first reads the number as a
// domestic number in DefaultPhoneRegion and then as an international number.
// Empty input is absent, not invalid: it returns ("", false).
func NormalizePhone(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	for _, region := range []string{DefaultPhoneRegion, ""} {
		num, err := phonenumbers.Parse(s, region)
		if err != nil || !phonenumbers.IsValidNumber(num) {
			continue
		}
		return phonenumbers.Format(num, phonenumbers.E164), true
	}
	return "", false
}

// TitleCase trims s, collapses whitespace runs to one space, and capitalizes
// the first letter of each token while lowercasing the rest.
func TitleCase(s string) string {
	tokens := strings.Fields(s)
	for i, tok := range tokens {
		first, size := utf8.DecodeRuneInString(tok)
		tokens[i] = string(unicode.ToUpper(first)) + strings.ToLower(tok[size:])
	}
	return strings.Join(tokens, " ")
}

var dateLayouts = []string{
	"2006-01-02", "2006/01/02", "2006.01.02",
	"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006",
	"Jan 2, 2006", "2 Jan 2006", "January 2, 2006",
	"20060102",
	time.RFC3339,
}

// ParseDate parses a calendar date. Impossible dates such as 2023-02-30 are
// rejected. Two-digit years are not accepted.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
