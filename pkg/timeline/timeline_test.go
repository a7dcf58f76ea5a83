package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
)

func TestMapping(t *testing.T) {
	t.Run("should load the built-in table", func(t *testing.T) {
		m, err := LoadMapping("")
		require.NoError(t, err)

		eventType, ok := m.TransactionType("  day   PASS ")
		assert.True(t, ok)
		assert.Equal(t, models.EventTypeDayPassPurchase, eventType)

		_, ok = m.TransactionType("Gift Card")
		assert.False(t, ok)

		eventType, ok = m.SendType("SMS")
		assert.True(t, ok)
		assert.Equal(t, models.EventTypeSMSSent, eventType)
		assert.Equal(t, models.EventTypeCheckin, m.FacilityEntries)
	})

	t.Run("should reject unknown targets", func(t *testing.T) {
		_, err := ParseMapping([]byte("transactions:\n  Day Pass: free_lunch\nfacility_entries: checkin\n"))
		assert.Error(t, err)

		_, err = ParseMapping([]byte("transactions:\n  Day Pass: day_pass_purchase\nfacility_entries: teleport\n"))
		assert.Error(t, err)
	})

	t.Run("should fail on a missing file", func(t *testing.T) {
		_, err := LoadMapping("/does/not/exist.yaml")
		assert.Error(t, err)
	})
}

func testIndex() *identity.Index {
	return identity.NewIndex(&identity.Snapshot{
		Customers: []models.Customer{{CustomerID: "alice"}, {CustomerID: "bob"}},
		Links: []models.IdentifierLink{
			{CustomerID: "alice", IdentifierType: models.IdentifierTypeEmail, IdentifierValue: "alice@x.com", Confidence: models.ConfidenceExact},
			{CustomerID: "alice", IdentifierType: models.IdentifierTypeInternalID, IdentifierValue: "capitan:42", Confidence: models.ConfidenceExact},
			{CustomerID: "bob", IdentifierType: models.IdentifierTypeNamePair, IdentifierValue: "bob brown", Confidence: models.ConfidenceExact},
			{CustomerID: "bob", IdentifierType: models.IdentifierTypePhone, IdentifierValue: "5551234567", Confidence: models.ConfidenceMedium},
		},
	}, 0.9)
}

func TestBuild(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, loc)

	mapping, err := LoadMapping("")
	require.NoError(t, err)
	builder := NewBuilder(logger.Noop(), mapping)
	ctx := fernctx.SetRunID(context.Background(), "run-1")

	batch := &models.RawBatch{
		Transactions: []models.RawTransaction{
			{SourceSystem: "Stripe", RecordID: "t1", OccurredAt: day.Add(9 * time.Hour), Category: "Day Pass", Amount: 22, CustomerEmail: "ALICE@x.com", CustomerName: "Alice Anders"},
			{SourceSystem: "Stripe", RecordID: "t2", OccurredAt: day, Category: "Retail", CustomerName: "Bob Brown"},
			{SourceSystem: "Stripe", RecordID: "t3", DateErr: errors.New("unparseable date \"soon\""), Category: "Retail", CustomerName: "Bob Brown"},
			{SourceSystem: "Stripe", RecordID: "t4", OccurredAt: day, Category: "Gift Card", CustomerName: "Bob Brown"},
			{SourceSystem: "Stripe", RecordID: "t5", OccurredAt: day, Category: "Retail", CustomerName: "Zed Zulu"},
		},
		FacilityEntries: []models.RawFacilityEntry{
			{SourceSystem: "capitan", RecordID: "c1", InternalID: "42", EnteredAt: day.Add(10 * time.Hour), EntryMethod: "PAS", Location: "Main"},
		},
		MarketingSends: []models.RawMarketingSend{
			{SourceSystem: "twilio", RecordID: "s1", CampaignID: "spring", Channel: "sms", Recipient: "(555) 123-4567", SentAt: day.Add(8 * time.Hour)},
			{SourceSystem: "mailchimp", RecordID: "s2", TemplateID: "tpl", Channel: "fax", Recipient: "alice@x.com", SentAt: day},
		},
		CampaignOffers: []models.RawCampaignOffer{{CampaignID: "spring", OfferCode: "SPRING25", Discount: "25%"}},
	}

	res, err := builder.Build(ctx, batch, testIndex())
	require.NoError(t, err)

	t.Run("should emit one event per accepted record", func(t *testing.T) {
		require.Len(t, res.Events, 4)
		for _, e := range res.Events {
			assert.False(t, e.EventDate.IsZero())
			assert.Equal(t, "run-1", e.RunID)
		}
	})

	t.Run("should reject and count failures by reason", func(t *testing.T) {
		reasons := map[models.RejectionReason][]string{}
		for _, r := range res.Rejections {
			reasons[r.Reason] = append(reasons[r.Reason], r.RecordID)
			assert.Equal(t, Stage, r.Stage)
		}
		assert.Equal(t, []string{"t3"}, reasons[models.RejectionUnparseableDate])
		assert.Equal(t, []string{"t4", "s2"}, reasons[models.RejectionUnknownCategory])
		assert.Equal(t, []string{"t5"}, reasons[models.RejectionUnresolvedCustomer])
	})

	t.Run("should sort events per customer by date", func(t *testing.T) {
		assert.Equal(t, "alice", res.Events[0].CustomerID)
		assert.Equal(t, models.EventTypeDayPassPurchase, res.Events[0].EventType)
		assert.Equal(t, models.EventTypeCheckin, res.Events[1].EventType)
		assert.Equal(t, "bob", res.Events[2].CustomerID)
		assert.Equal(t, models.EventTypeRetailPurchase, res.Events[2].EventType)
		assert.Equal(t, models.EventTypeSMSSent, res.Events[3].EventType)
	})

	t.Run("should cap name attribution at medium", func(t *testing.T) {
		assert.Equal(t, models.ConfidenceExact, res.Events[0].SourceConfidence)
		assert.Equal(t, models.ConfidenceMedium, res.Events[2].SourceConfidence)
		assert.Equal(t, "stripe", res.Events[2].EventSource)
	})

	t.Run("should carry offer metadata on sends", func(t *testing.T) {
		assert.Equal(t, "SPRING25", res.Events[3].EventDetails["offer_code"])
		assert.Equal(t, "25%", res.Events[3].EventDetails["discount"])
	})

	t.Run("should derive stable event ids", func(t *testing.T) {
		again, err := builder.Build(ctx, batch, testIndex())
		require.NoError(t, err)
		assert.Equal(t, res.Events[0].EventID, again.Events[0].EventID)
		assert.Equal(t, EventID("Stripe", "t1", models.EventTypeDayPassPurchase), res.Events[0].EventID)
		assert.NotEqual(t, EventID("Stripe", "t1", models.EventTypeRetailPurchase), res.Events[0].EventID)
	})
}

func TestBuildFacilityEntryByName(t *testing.T) {
	mapping, err := LoadMapping("")
	require.NoError(t, err)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	batch := &models.RawBatch{FacilityEntries: []models.RawFacilityEntry{
		{SourceSystem: "capitan", RecordID: "c1", InternalID: "", FirstName: "Bob", LastName: "Brown", EnteredAt: at},
		{SourceSystem: "capitan", RecordID: "c2", InternalID: "0", FirstName: "Bob", LastName: "Brown", EnteredAt: at.Add(time.Hour)},
		{SourceSystem: "capitan", RecordID: "c3", InternalID: "", FirstName: "Guest", EnteredAt: at},
	}}

	res, err := NewBuilder(logger.Noop(), mapping).Build(context.Background(), batch, testIndex())
	require.NoError(t, err)

	t.Run("should attribute entries without a usable internal id by name", func(t *testing.T) {
		require.Len(t, res.Events, 2)
		for _, e := range res.Events {
			assert.Equal(t, "bob", e.CustomerID)
			assert.Equal(t, models.EventTypeCheckin, e.EventType)
			assert.Equal(t, models.ConfidenceMedium, e.SourceConfidence)
		}
	})

	t.Run("should reject entries with neither an id nor a name", func(t *testing.T) {
		require.Len(t, res.Rejections, 1)
		assert.Equal(t, "c3", res.Rejections[0].RecordID)
		assert.Equal(t, models.RejectionUnresolvedCustomer, res.Rejections[0].Reason)
	})
}
