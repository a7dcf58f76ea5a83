package interactions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
)

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func TestParseTransfer(t *testing.T) {
	tests := []struct {
		name        string
		description string
		guest       bool
		ok          bool
		kind        TransferKind
		passType    string
		purchaser   string
		remaining   *int
	}{
		{name: "should parse a pass with remaining uses", description: "5 Climb Punch Pass from Nancy Davis (3 remaining)", ok: true, kind: TransferEntryPass, passType: "5 Climb Punch Pass", purchaser: "Nancy Davis", remaining: intPtr(3)},
		{name: "should parse a bare transfer", description: "Day Pass from Alice Anders", ok: true, kind: TransferEntryPass, passType: "Day Pass", purchaser: "Alice Anders"},
		{name: "should parse a guest pass", description: "Guest Pass from Mary Jones", ok: true, kind: TransferGuestPass, passType: "Guest Pass", purchaser: "Mary Jones"},
		{name: "should treat guest entry methods as guest passes", description: "Guest Pass from Mary Jones", guest: true, ok: true, kind: TransferGuestPass, passType: "Guest Pass", purchaser: "Mary Jones"},
		{name: "should not parse a non-transfer", description: "Member entry", ok: false},
		{name: "should not parse a guest entry without a guest pattern", description: "Day Pass from Bob", guest: true, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := ParseTransfer(tt.description, tt.guest)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.kind, parsed.Kind)
			assert.Equal(t, tt.passType, parsed.PassType)
			assert.Equal(t, tt.purchaser, parsed.PurchaserName)
			assert.Equal(t, tt.remaining, parsed.Remaining)
		})
	}

	t.Run("should flag punch and youth passes", func(t *testing.T) {
		parsed, ok := ParseTransfer("Youth Punch Pass from Ann Lee (1 remaining)", false)
		require.True(t, ok)
		assert.True(t, parsed.IsPunch)
		assert.True(t, parsed.IsYouth)
	})
}

func intPtr(n int) *int { return &n }

// indexFor links capitan internal ids and names to customer ids of the same name
func indexFor(people map[string]string) *identity.Index {
	snap := &identity.Snapshot{}
	for internalID, name := range people {
		customerID := "cust-" + internalID
		snap.Customers = append(snap.Customers, models.Customer{CustomerID: customerID})
		snap.Links = append(snap.Links,
			models.IdentifierLink{CustomerID: customerID, IdentifierType: models.IdentifierTypeInternalID, IdentifierValue: "capitan:" + internalID, Confidence: models.ConfidenceExact},
			models.IdentifierLink{CustomerID: customerID, IdentifierType: models.IdentifierTypeNamePair, IdentifierValue: name, Confidence: models.ConfidenceExact},
		)
	}
	return identity.NewIndex(snap, 0.92)
}

func entry(id, internalID string, at time.Time, description string) models.RawFacilityEntry {
	method := "PAS"
	if description != "" {
		method = "ENT"
	}
	return models.RawFacilityEntry{
		SourceSystem:           "capitan",
		RecordID:               id,
		InternalID:             internalID,
		EnteredAt:              at,
		EntryMethod:            method,
		EntryMethodDescription: description,
		Location:               "Main",
	}
}

func countByType(interactions []models.Interaction) map[models.InteractionType]int {
	out := map[models.InteractionType]int{}
	for _, i := range interactions {
		out[i.InteractionType]++
	}
	return out
}

func TestExtractor(t *testing.T) {
	ctx := context.Background()
	ex := NewExtractor(logger.Noop(), DefaultOptions())

	t.Run("should extract the three-person check-in scenario", func(t *testing.T) {
		index := indexFor(map[string]string{"1": "alice anders", "2": "bob brown", "3": "carol chen"})
		batch := &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{
			entry("c1", "1", day.Add(10*time.Hour), ""),
			entry("c2", "2", day.Add(10*time.Hour+22*time.Second), "Day Pass from Alice Anders"),
			entry("c3", "3", day.Add(10*time.Hour+41*time.Second), "Day Pass from Alice Anders"),
		}}

		res, err := ex.Extract(ctx, batch, nil, index)
		require.NoError(t, err)
		assert.Len(t, res.Interactions, 6)
		assert.Equal(t, map[models.InteractionType]int{
			models.InteractionSharedPass:        2,
			models.InteractionSamePurchaseGroup: 1,
			models.InteractionSameDayCheckin:    3,
		}, countByType(res.Interactions))

		for _, i := range res.Interactions {
			if i.InteractionType == models.InteractionSharedPass {
				assert.Equal(t, "cust-1", i.CustomerID1)
			}
		}
	})

	t.Run("should fan a group purchase out to every pair of recipients", func(t *testing.T) {
		people := map[string]string{"9": "nancy davis"}
		var entries []models.RawFacilityEntry
		for n := 1; n <= 5; n++ {
			id := fmt.Sprint(n)
			people[id] = fmt.Sprintf("person %c", 'a'+n)
			// spread beyond the co-presence window
			entries = append(entries, entry("g"+id, id, day.Add(time.Duration(n)*time.Hour), "Day Pass from Nancy Davis"))
		}

		res, err := ex.Extract(ctx, &models.RawBatch{FacilityEntries: entries}, nil, indexFor(people))
		require.NoError(t, err)
		counts := countByType(res.Interactions)
		assert.Equal(t, 10, counts[models.InteractionSamePurchaseGroup])
		assert.Equal(t, 5, counts[models.InteractionSharedPass])
		assert.Zero(t, counts[models.InteractionSameDayCheckin])
	})

	t.Run("should add the reciprocal only after a recent purchase", func(t *testing.T) {
		index := indexFor(map[string]string{"1": "alice anders", "2": "bob brown"})
		batch := &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{
			entry("c2", "2", day.Add(10*time.Hour), "Day Pass from Alice Anders"),
		}}

		events := []models.Event{{CustomerID: "cust-1", EventType: models.EventTypeDayPassPurchase, EventDate: day.Add(-3 * 24 * time.Hour)}}
		res, err := ex.Extract(ctx, batch, events, index)
		require.NoError(t, err)
		assert.Equal(t, 1, countByType(res.Interactions)[models.InteractionReceivedSharedPass])

		stale := []models.Event{{CustomerID: "cust-1", EventType: models.EventTypeDayPassPurchase, EventDate: day.Add(-10 * 24 * time.Hour)}}
		res, err = ex.Extract(ctx, batch, stale, index)
		require.NoError(t, err)
		assert.Zero(t, countByType(res.Interactions)[models.InteractionReceivedSharedPass])
	})

	t.Run("should emit one co-presence per pair per day", func(t *testing.T) {
		index := indexFor(map[string]string{"1": "alice anders", "2": "bob brown"})
		batch := &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{
			entry("c1", "1", day.Add(9*time.Hour), ""),
			entry("c2", "2", day.Add(9*time.Hour+10*time.Minute), ""),
			entry("c3", "1", day.Add(18*time.Hour), ""),
			entry("c4", "2", day.Add(18*time.Hour+5*time.Minute), ""),
			entry("c5", "1", day.Add(24*time.Hour+9*time.Hour), ""),
			entry("c6", "2", day.Add(24*time.Hour+9*time.Hour+31*time.Minute), ""),
		}}

		res, err := ex.Extract(ctx, batch, nil, index)
		require.NoError(t, err)
		require.Len(t, res.Interactions, 1)
		assert.Equal(t, 10.0, res.Interactions[0].Metadata["time_diff_minutes"])
		assert.Equal(t, "Main", res.Interactions[0].Metadata["location"])
	})

	t.Run("should connect proximate household members", func(t *testing.T) {
		index := indexFor(map[string]string{"100": "ann lee", "101": "ben lee", "103": "cat lee", "200": "dan fox"})
		batch := &models.RawBatch{Memberships: []models.RawMembership{
			{SourceSystem: "capitan", MembershipID: "m1", Name: "Family Monthly", Size: "Family", StartedAt: day, MemberInternalIDs: []string{"100", "101", "103", "200", "999"}},
			{SourceSystem: "capitan", MembershipID: "m2", Size: "solo", StartedAt: day, MemberInternalIDs: []string{"100", "101"}},
			{SourceSystem: "capitan", MembershipID: "m3", Size: "duo", DateErr: errors.New("bad"), MemberInternalIDs: []string{"100", "101"}},
		}}

		res, err := ex.Extract(ctx, batch, nil, index)
		require.NoError(t, err)
		assert.Equal(t, 3, countByType(res.Interactions)[models.InteractionFamilyMembership])
		for _, i := range res.Interactions {
			assert.Equal(t, "m1", i.Metadata["membership_id"])
			assert.Equal(t, []string{"100", "101", "103"}, i.Metadata["member_ids"])
		}

		reasons := map[models.RejectionReason]int{}
		for _, r := range res.Rejections {
			reasons[r.Reason]++
		}
		assert.Equal(t, 1, reasons[models.RejectionUnresolvedMember])
		assert.Equal(t, 1, reasons[models.RejectionUnparseableDate])
	})

	t.Run("should emit directed guest usage", func(t *testing.T) {
		index := indexFor(map[string]string{"1": "mary jones", "2": "bob brown"})
		guest := entry("c9", "2", day.Add(12*time.Hour), "Guest Pass from Mary Jones")
		guest.EntryMethod = "GUE"

		res, err := ex.Extract(ctx, &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{guest}}, nil, index)
		require.NoError(t, err)
		require.Len(t, res.Interactions, 1)
		i := res.Interactions[0]
		assert.Equal(t, models.InteractionFrequentGuest, i.InteractionType)
		assert.Equal(t, "cust-1", i.CustomerID1)
		assert.Equal(t, "guest_pass", i.Metadata["source"])
	})

	t.Run("should count unparsed transfer descriptions", func(t *testing.T) {
		index := indexFor(map[string]string{"2": "bob brown"})
		odd := entry("c9", "2", day, "Guest Pass from ")
		odd.EntryMethod = "GUE"

		res, err := ex.Extract(ctx, &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{odd}}, nil, index)
		require.NoError(t, err)
		assert.Equal(t, 1, res.UnparsedTransfers())
	})

	t.Run("should resolve a check-in by name when the internal id is unusable", func(t *testing.T) {
		index := indexFor(map[string]string{"1": "alice anders", "2": "bob brown"})
		blank := entry("c1", "nan", day.Add(9*time.Hour), "")
		blank.FirstName, blank.LastName = "Alice", "Anders"
		batch := &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{
			blank,
			entry("c2", "2", day.Add(9*time.Hour+5*time.Minute), ""),
		}}

		res, err := ex.Extract(ctx, batch, nil, index)
		require.NoError(t, err)
		assert.Empty(t, res.Rejections)
		require.Len(t, res.Interactions, 1)
		assert.Equal(t, models.InteractionSameDayCheckin, res.Interactions[0].InteractionType)
	})

	t.Run("should record a transfer whose purchaser does not resolve", func(t *testing.T) {
		index := indexFor(map[string]string{"2": "bob brown"})
		batch := &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{
			entry("c2", "2", day.Add(10*time.Hour), "Day Pass from Zed Quinn"),
		}}

		res, err := ex.Extract(ctx, batch, nil, index)
		require.NoError(t, err)
		assert.Zero(t, countByType(res.Interactions)[models.InteractionSharedPass])
		require.Len(t, res.Rejections, 1)
		assert.Equal(t, models.RejectionUnresolvedPurchaser, res.Rejections[0].Reason)
		assert.Equal(t, "Zed Quinn", res.Rejections[0].Detail)
	})

	t.Run("should only consider the lookback window", func(t *testing.T) {
		opts := DefaultOptions()
		opts.LookbackDays = 1
		windowed := NewExtractor(logger.Noop(), opts)
		index := indexFor(map[string]string{"1": "alice anders", "2": "bob brown"})
		batch := &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{
			entry("old1", "1", day.Add(-5*24*time.Hour), ""),
			entry("old2", "2", day.Add(-5*24*time.Hour), ""),
			entry("new1", "1", day, ""),
		}}

		res, err := windowed.Extract(ctx, batch, nil, index)
		require.NoError(t, err)
		assert.Empty(t, res.Interactions)
	})

	t.Run("should fail the stage when a strategy fails", func(t *testing.T) {
		failing := NewExtractor(logger.Noop(), DefaultOptions())
		failing.Register(panicky{})
		_, err := failing.Extract(ctx, &models.RawBatch{}, nil, indexFor(nil))
		assert.Error(t, err)
	})
}

type panicky struct{}

func (panicky) Type() string { return "panicky" }
func (panicky) Extract(context.Context, *Input) ([]models.Interaction, error) {
	panic("boom")
}

func TestNaturalKey(t *testing.T) {
	t.Run("should ignore pair order and time of day", func(t *testing.T) {
		a := New(models.InteractionSameDayCheckin, "x", "y", day.Add(9*time.Hour), "", nil)
		b := New(models.InteractionSameDayCheckin, "y", "x", day.Add(17*time.Hour), "", nil)
		assert.Equal(t, a.InteractionID, b.InteractionID)
		assert.Len(t, Dedupe([]models.Interaction{a, b}), 1)
	})

	t.Run("should separate discriminators and types", func(t *testing.T) {
		a := New(models.InteractionSharedPass, "x", "y", day, "c1", nil)
		b := New(models.InteractionSharedPass, "x", "y", day, "c2", nil)
		c := New(models.InteractionFrequentGuest, "x", "y", day, "c1", nil)
		assert.NotEqual(t, a.InteractionID, b.InteractionID)
		assert.NotEqual(t, a.InteractionID, c.InteractionID)
	})

	t.Run("should recompute the key through merged customers", func(t *testing.T) {
		merged := New(models.InteractionSameDayCheckin, "old", "y", day, "", nil)
		canonical := func(id string) string {
			if id == "old" {
				return "x"
			}
			return id
		}
		assert.Equal(t, New(models.InteractionSameDayCheckin, "x", "y", day, "", nil).InteractionID, NaturalKey(merged, canonical))
	})
}
