package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
)

func keysFor(ids []models.Identifier, recordKey string) []string {
	var out []string
	for _, id := range ids {
		if id.RecordKey() == recordKey {
			out = append(out, id.Key())
		}
	}
	return out
}

func TestExtract(t *testing.T) {
	ex := NewExtractor(logger.Noop())
	ctx := context.Background()

	batch := &models.RawBatch{
		Customers: []models.RawCustomer{
			{SourceSystem: "capitan", RecordID: "42", InternalID: "42.0", FirstName: "Alice", LastName: "Anders", Email: " Alice@X.com ", Phone: "+1 (555) 123-4567"},
		},
		Transactions: []models.RawTransaction{
			{SourceSystem: "stripe", RecordID: "t1", CustomerName: "Alice Anders", CustomerEmail: "alice@x.com"},
			{SourceSystem: "stripe", RecordID: "t2", CustomerName: "Guest"},
		},
		FacilityEntries: []models.RawFacilityEntry{
			{SourceSystem: "capitan", RecordID: "c1", InternalID: "43", FirstName: "Bob", LastName: "Brown"},
		},
		Memberships: []models.RawMembership{
			{SourceSystem: "capitan", MembershipID: "m1", Size: "family", MemberInternalIDs: []string{"42", "43"}},
		},
		MarketingSends: []models.RawMarketingSend{
			{SourceSystem: "twilio", RecordID: "s1", Recipient: "555.123.4567"},
			{SourceSystem: "mailchimp", RecordID: "s2", Recipient: "ALICE@x.com"},
		},
		CampaignOffers: []models.RawCampaignOffer{{CampaignID: "c1", OfferCode: "SPRING"}},
	}

	result, err := ex.Extract(ctx, batch)
	require.NoError(t, err)

	t.Run("should normalize every identifier on a profile", func(t *testing.T) {
		assert.ElementsMatch(t, []string{
			"internal_id:capitan:42",
			"email:alice@x.com",
			"phone:5551234567",
			"name_pair:alice anders",
		}, keysFor(result.Identifiers, "capitan|42"))
	})

	t.Run("should route marketing recipients by shape", func(t *testing.T) {
		assert.Equal(t, []string{"phone:5551234567"}, keysFor(result.Identifiers, "twilio|s1"))
		assert.Equal(t, []string{"email:alice@x.com"}, keysFor(result.Identifiers, "mailchimp|s2"))
	})

	t.Run("should split roster members into separate records", func(t *testing.T) {
		assert.Equal(t, []string{"internal_id:capitan:42"}, keysFor(result.Identifiers, "capitan|m1#42"))
		assert.Equal(t, []string{"internal_id:capitan:43"}, keysFor(result.Identifiers, "capitan|m1#43"))
	})

	t.Run("should attach membership and source signals", func(t *testing.T) {
		for _, id := range result.Identifiers {
			if id.RecordKey() == "capitan|c1" {
				assert.Equal(t, []string{"membership:m1", "source:capitan"}, id.Signals)
			}
			if id.RecordKey() == "stripe|t1" {
				assert.Equal(t, []string{"source:stripe"}, id.Signals)
			}
		}
	})

	t.Run("should reject records without a usable identifier", func(t *testing.T) {
		require.Len(t, result.Rejections, 1)
		assert.Equal(t, "t2", result.Rejections[0].RecordID)
		assert.Equal(t, models.RejectionNoIdentifier, result.Rejections[0].Reason)
		assert.Equal(t, Stage, result.Rejections[0].Stage)
	})

	t.Run("should count person records only", func(t *testing.T) {
		assert.Equal(t, 8, result.Records)
	})

	t.Run("should stop on a cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ex.Extract(cancelled, batch)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
