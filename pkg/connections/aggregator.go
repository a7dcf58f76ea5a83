// Package connections reduces the interaction log into one summary row per customer pair.
package connections

import (
	"sort"
	"time"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
)

// StrengthScore bands an interaction count onto the 1-5 ordinal scale
func StrengthScore(count int) int {
	switch {
	case count >= 10:
		return 5
	case count >= 5:
		return 4
	case count >= 3:
		return 3
	case count == 2:
		return 2
	case count == 1:
		return 1
	default:
		return 0
	}
}

type pairKey struct {
	id1 string
	id2 string
}

type accumulator struct {
	count int
	types map[string]int
	first time.Time
	last  time.Time
}

// Aggregate recomputes every connection from the full interaction log. canonical maps
// customer ids merged forward to their survivor; pass nil to use ids as stored.
// The result depends only on the interactions and never on previous connection rows.
func Aggregate(interactions []models.Interaction, canonical func(string) string) []models.Connection {
	if canonical == nil {
		canonical = func(id string) string { return id }
	}

	pairs := make(map[pairKey]*accumulator)
	for _, i := range interactions {
		a, b := canonical(i.CustomerID1), canonical(i.CustomerID2)
		if a == "" || b == "" || a == b {
			continue
		}
		if b < a {
			a, b = b, a
		}
		day := calendarDay(i.InteractionDate)

		key := pairKey{id1: a, id2: b}
		acc, ok := pairs[key]
		if !ok {
			acc = &accumulator{types: make(map[string]int), first: day, last: day}
			pairs[key] = acc
		}
		acc.count++
		acc.types[string(i.InteractionType)]++
		if day.Before(acc.first) {
			acc.first = day
		}
		if day.After(acc.last) {
			acc.last = day
		}
	}

	out := make([]models.Connection, 0, len(pairs))
	for key, acc := range pairs {
		types := make([]string, 0, len(acc.types))
		for t := range acc.types {
			types = append(types, t)
		}
		sort.Strings(types)

		out = append(out, models.Connection{
			CustomerID1:          key.id1,
			CustomerID2:          key.id2,
			InteractionCount:     acc.count,
			StrengthScore:        StrengthScore(acc.count),
			FirstInteractionDate: acc.first,
			LastInteractionDate:  acc.last,
			InteractionTypes:     types,
			Metadata: models.ConnectionMetadata{
				TypeCounts: acc.types,
				FirstDate:  acc.first.Format(time.DateOnly),
				LastDate:   acc.last.Format(time.DateOnly),
			},
		})
	}

	Sort(out)
	return out
}

// Sort orders connections by strength desc, count desc, then pair
func Sort(connections []models.Connection) {
	sort.Slice(connections, func(i, j int) bool {
		a, b := connections[i], connections[j]
		if a.StrengthScore != b.StrengthScore {
			return a.StrengthScore > b.StrengthScore
		}
		if a.InteractionCount != b.InteractionCount {
			return a.InteractionCount > b.InteractionCount
		}
		if a.CustomerID1 != b.CustomerID1 {
			return a.CustomerID1 < b.CustomerID1
		}
		return a.CustomerID2 < b.CustomerID2
	})
}

// Fingerprint hashes the connection table so two rebuilds can be compared byte for byte
func Fingerprint(connections []models.Connection) (string, error) {
	return fingerprint.GenerateFromValue(connections)
}

// calendarDay pins a date to UTC midnight of the day it names in its own location
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
