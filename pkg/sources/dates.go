package sources

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyDate is returned for a blank date cell
var ErrEmptyDate = errors.New("empty date")

// timestampLayouts are tried for full timestamp columns, most precise first
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 3:04 PM",
}

// dateLayouts are tried for pure calendar date columns
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
}

// defaultLayouts returns the layouts for one kind's date column. Each table is
// parsed with its own layouts so a date-only table never poisons a timestamp table.
func defaultLayouts(kind Kind) []string {
	switch kind {
	case KindMemberships:
		return append(append([]string{}, dateLayouts...), timestampLayouts...)
	default:
		return append(append([]string{}, timestampLayouts...), dateLayouts...)
	}
}

// ParseTimestamp parses value with the first layout that accepts it.
// Values without a zone are read in loc; date-only values resolve to midnight in loc.
func ParseTimestamp(value string, layouts []string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrEmptyDate
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}
