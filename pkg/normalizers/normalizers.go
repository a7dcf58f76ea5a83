// Package normalizers provides deterministic normalization for identifier values
package normalizers

import (
	"strings"
	"unicode"
)

// NormalizeEmail lowercases and trims an email address.
// Values without a local part and a domain are unusable.
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 || strings.ContainsAny(s, " \t") {
		return ""
	}
	return s
}

const minPhoneDigits = 7

// NormalizePhone reduces a phone number to its digits.
// An 11 digit number with a leading 1 is folded to its 10 digit national form.
func NormalizePhone(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < minPhoneDigits {
		return ""
	}
	return digits
}

// NormalizeInternalID scopes a source-system id so ids from different systems never collide
func NormalizeInternalID(sourceSystem, id string) string {
	id = strings.TrimSpace(id)
	// spreadsheet exports turn integer ids into floats
	id = strings.TrimSuffix(id, ".0")
	if id == "" || id == "0" || strings.EqualFold(id, "nan") {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(sourceSystem)) + ":" + id
}

var placeholderNames = map[string]bool{
	"guest":         true,
	"guest guest":   true,
	"unknown":       true,
	"unknown guest": true,
	"no name":       true,
	"nan":           true,
	"none":          true,
	"test test":     true,
}

// NormalizeName normalizes a person's name for matching
// - Lowercase
// - Remove common suffixes (Jr., Sr., III, etc.)
// - Remove punctuation and collapse whitespace
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	suffixes := []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv"}
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) || r == '-' {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// NormalizeFullName joins and normalizes a first and last name.
// Names with fewer than two tokens or known placeholders are unusable.
func NormalizeFullName(first, last string) string {
	name := NormalizeName(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if placeholderNames[name] || len(strings.Fields(name)) < 2 {
		return ""
	}
	return name
}

// LastToken returns the final whitespace separated token of a normalized name
func LastToken(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
