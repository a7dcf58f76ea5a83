package interactions

import (
	"regexp"
	"strconv"
	"strings"
)

// TransferKind separates shared entry passes from guest allowances
type TransferKind string

const (
	TransferEntryPass TransferKind = "entry_pass"
	TransferGuestPass TransferKind = "guest_pass"
)

var (
	withRemaining = regexp.MustCompile(`(?i)(.+?) from ([^(]+) \((\d+) remaining\)`)
	bareTransfer  = regexp.MustCompile(`(?i)(.+?) from (.+)`)
	guestTransfer = regexp.MustCompile(`(?i)Guest Pass from (.+)`)
	remainingOnly = regexp.MustCompile(`\((\d+) remaining\)`)
)

// ParsedTransfer is the structured form of an entry-method description such as
// "Day Pass from John Smith (0 remaining)" or "Guest Pass from Mary Jones".
type ParsedTransfer struct {
	Kind          TransferKind
	PassType      string
	PurchaserName string
	Remaining     *int
	IsPunch       bool
	IsYouth       bool
}

// IsTransferCandidate reports whether a description claims to reference another customer
func IsTransferCandidate(description string) bool {
	return strings.Contains(strings.ToLower(description), " from ")
}

// ParseTransfer extracts the purchaser from a check-in description. guest marks an entry made
// through a guest allowance. The second return is false when the description does not parse.
func ParseTransfer(description string, guest bool) (ParsedTransfer, bool) {
	description = strings.TrimSpace(description)
	if !IsTransferCandidate(description) {
		return ParsedTransfer{}, false
	}

	lower := strings.ToLower(description)
	parsed := ParsedTransfer{
		Kind:    TransferEntryPass,
		IsPunch: strings.Contains(lower, "punch") || strings.Contains(lower, "climb"),
		IsYouth: strings.Contains(lower, "youth") || strings.Contains(lower, "under 14"),
	}

	if guest || strings.HasPrefix(lower, "guest pass from ") {
		m := guestTransfer.FindStringSubmatch(description)
		if m == nil {
			return ParsedTransfer{}, false
		}
		parsed.Kind = TransferGuestPass
		parsed.PassType = "Guest Pass"
		parsed.PurchaserName = cleanName(m[1])
		return parsed, parsed.PurchaserName != ""
	}

	if m := withRemaining.FindStringSubmatch(description); m != nil {
		parsed.PassType = strings.TrimSpace(m[1])
		parsed.PurchaserName = cleanName(m[2])
		if n, err := strconv.Atoi(m[3]); err == nil {
			parsed.Remaining = &n
		}
		return parsed, parsed.PurchaserName != ""
	}

	if m := bareTransfer.FindStringSubmatch(description); m != nil {
		parsed.PassType = strings.TrimSpace(m[1])
		parsed.PurchaserName = cleanName(remainingOnly.ReplaceAllString(m[2], ""))
		if r := remainingOnly.FindStringSubmatch(description); r != nil {
			if n, err := strconv.Atoi(r[1]); err == nil {
				parsed.Remaining = &n
			}
		}
		return parsed, parsed.PurchaserName != "" && parsed.PassType != ""
	}

	return ParsedTransfer{}, false
}

func cleanName(s string) string {
	return strings.Trim(strings.TrimSpace(s), ".,;:")
}
