package connections

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/interactions"
	"github.com/Ramsey-B/fern/pkg/models"
)

var day = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestStrengthScore(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{1, 1}, {2, 2}, {3, 3}, {4, 3}, {5, 4}, {9, 4}, {10, 5}, {15, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StrengthScore(tt.count), "count %d", tt.count)
	}
}

func interaction(t models.InteractionType, a, b string, at time.Time, disc string) models.Interaction {
	return interactions.New(t, a, b, at, disc, nil)
}

func TestAggregate(t *testing.T) {
	t.Run("should collapse the check-in scenario into three connections", func(t *testing.T) {
		log := []models.Interaction{
			interaction(models.InteractionSharedPass, "a", "b", day, "c2"),
			interaction(models.InteractionSharedPass, "a", "c", day, "c3"),
			interaction(models.InteractionSamePurchaseGroup, "b", "c", day, "a|Day Pass"),
			interaction(models.InteractionSameDayCheckin, "a", "b", day, ""),
			interaction(models.InteractionSameDayCheckin, "a", "c", day, ""),
			interaction(models.InteractionSameDayCheckin, "b", "c", day, ""),
		}

		conns := Aggregate(log, nil)
		require.Len(t, conns, 3)
		for _, c := range conns {
			assert.Less(t, c.CustomerID1, c.CustomerID2)
			assert.Equal(t, 2, c.InteractionCount)
			assert.Equal(t, 2, c.StrengthScore)
			assert.Len(t, c.InteractionTypes, 2)
		}
		assert.Equal(t, "a", conns[0].CustomerID1)
		assert.Equal(t, "b", conns[0].CustomerID2)
		assert.Equal(t, []string{"same_day_checkin", "shared_pass"}, []string(conns[0].InteractionTypes))
	})

	t.Run("should band counts and track the date range", func(t *testing.T) {
		var log []models.Interaction
		for n := 0; n < 9; n++ {
			log = append(log, interaction(models.InteractionSameDayCheckin, "y", "x", day.AddDate(0, 0, n), ""))
		}
		log = append(log, interaction(models.InteractionSharedPass, "p", "q", day, "c1"))

		conns := Aggregate(log, nil)
		require.Len(t, conns, 2)
		assert.Equal(t, "x", conns[0].CustomerID1)
		assert.Equal(t, 4, conns[0].StrengthScore)
		assert.Equal(t, "2025-03-01", conns[0].Metadata.FirstDate)
		assert.Equal(t, "2025-03-09", conns[0].Metadata.LastDate)
		assert.Equal(t, map[string]int{"same_day_checkin": 9}, conns[0].Metadata.TypeCounts)
		assert.Equal(t, 1, conns[1].StrengthScore)
	})

	t.Run("should fold merged customers and drop self pairs", func(t *testing.T) {
		log := []models.Interaction{
			interaction(models.InteractionSameDayCheckin, "old", "b", day, ""),
			interaction(models.InteractionSameDayCheckin, "a", "b", day.AddDate(0, 0, 1), ""),
			interaction(models.InteractionSameDayCheckin, "old", "a", day, ""),
		}
		canonical := func(id string) string {
			if id == "old" {
				return "a"
			}
			return id
		}

		conns := Aggregate(log, canonical)
		require.Len(t, conns, 1)
		assert.Equal(t, 2, conns[0].InteractionCount)
	})

	t.Run("should rebuild byte-identically", func(t *testing.T) {
		log := []models.Interaction{
			interaction(models.InteractionSameDayCheckin, "a", "b", day, ""),
			interaction(models.InteractionFrequentGuest, "c", "a", day, "g1"),
			interaction(models.InteractionFamilyMembership, "b", "c", day, "m1"),
		}
		reversed := []models.Interaction{log[2], log[1], log[0]}

		first, err := Fingerprint(Aggregate(log, nil))
		require.NoError(t, err)
		second, err := Fingerprint(Aggregate(reversed, nil))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("should return an empty table for no interactions", func(t *testing.T) {
		assert.Empty(t, Aggregate(nil, nil))
	})
}
