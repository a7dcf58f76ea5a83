package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/models"
)

var fixedNow = time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestResolver() *Resolver {
	return NewResolver(logger.Noop(), Options{Now: func() time.Time { return fixedNow }})
}

func id(t models.IdentifierType, value, source, record string, signals ...string) models.Identifier {
	if len(signals) == 0 {
		signals = []string{"source:" + source}
	}
	return models.Identifier{Type: t, Value: value, SourceSystem: source, SourceRecordID: record, Signals: signals}
}

func linkFor(res *Resolution, key string) models.IdentifierLink {
	for _, l := range res.Links {
		if l.Key() == key {
			return l
		}
	}
	return models.IdentifierLink{}
}

func aliceRows() []models.Identifier {
	return []models.Identifier{
		id(models.IdentifierTypeInternalID, "capitan:42", "capitan", "42"),
		id(models.IdentifierTypeEmail, "alice@x.com", "capitan", "42"),
		id(models.IdentifierTypePhone, "5551234567", "capitan", "42"),
		id(models.IdentifierTypeNamePair, "alice anders", "capitan", "42"),
		id(models.IdentifierTypeEmail, "alice@x.com", "stripe", "t1"),
		id(models.IdentifierTypeNamePair, "alice anders", "stripe", "t1"),
		id(models.IdentifierTypeEmail, "alice@x.com", "mailchimp", "s1"),
		id(models.IdentifierTypeEmail, "lonely@y.com", "mailchimp", "s2"),
	}
}

func TestDisjointSet(t *testing.T) {
	d := NewDisjointSet()
	assert.True(t, d.Union("a", "b"))
	assert.True(t, d.Union("c", "d"))
	assert.False(t, d.Union("b", "a"))
	assert.True(t, d.Union("a", "d"))
	d.Add("e")

	assert.Equal(t, d.Find("b"), d.Find("c"))
	assert.NotEqual(t, d.Find("a"), d.Find("e"))
	assert.Len(t, d.Components(), 2)
}

func TestResolve(t *testing.T) {
	ctx := fernctx.SetRunID(context.Background(), "run-1")
	r := newTestResolver()

	t.Run("should cluster a customer across systems", func(t *testing.T) {
		res, err := r.Resolve(ctx, aliceRows(), nil)
		require.NoError(t, err)

		alice := res.Assignments["email:alice@x.com"]
		assert.NotEmpty(t, alice)
		assert.Equal(t, alice, res.Assignments["internal_id:capitan:42"])
		assert.Equal(t, alice, res.Assignments["name_pair:alice anders"])
		assert.Equal(t, alice, res.Assignments["phone:5551234567"])
		assert.NotEqual(t, alice, res.Assignments["email:lonely@y.com"])
		assert.Equal(t, 2, res.NewCustomers)
		assert.Empty(t, res.Reviews)

		assert.Equal(t, models.ConfidenceExact, linkFor(res, "email:alice@x.com").Confidence)
		assert.Equal(t, models.ConfidenceExact, linkFor(res, "name_pair:alice anders").Confidence)
	})

	t.Run("should give unmatched identifiers a low confidence singleton", func(t *testing.T) {
		res, err := r.Resolve(ctx, aliceRows(), nil)
		require.NoError(t, err)

		link := linkFor(res, "email:lonely@y.com")
		assert.Equal(t, models.ConfidenceLow, link.Confidence)
		assert.Equal(t, res.Assignments["email:lonely@y.com"], link.CustomerID)
	})

	t.Run("should be idempotent on a fresh and a populated store", func(t *testing.T) {
		first, err := r.Resolve(ctx, aliceRows(), nil)
		require.NoError(t, err)
		second, err := r.Resolve(ctx, aliceRows(), nil)
		require.NoError(t, err)
		assert.Equal(t, first.Assignments, second.Assignments)

		third, err := r.Resolve(ctx, aliceRows(), first.Snapshot)
		require.NoError(t, err)
		assert.Equal(t, first.Assignments, third.Assignments)
		assert.Zero(t, third.NewCustomers)
		assert.Empty(t, third.Merges)
	})

	t.Run("should attach new identifiers to an existing customer", func(t *testing.T) {
		first, err := r.Resolve(ctx, aliceRows(), nil)
		require.NoError(t, err)

		rows := append(aliceRows(), id(models.IdentifierTypePhone, "5559876543", "stripe", "t1"))
		next, err := r.Resolve(ctx, rows, first.Snapshot)
		require.NoError(t, err)
		assert.Equal(t, first.Assignments["email:alice@x.com"], next.Assignments["phone:5559876543"])
		assert.Zero(t, next.NewCustomers)
	})

	t.Run("should link identical names sharing a signal at medium", func(t *testing.T) {
		rows := []models.Identifier{
			id(models.IdentifierTypeNamePair, "carol chen", "capitan", "c1", "membership:m1", "source:capitan"),
			id(models.IdentifierTypeNamePair, "carol chen", "capitan", "c2", "membership:m1", "source:capitan"),
		}
		res, err := r.Resolve(ctx, rows, nil)
		require.NoError(t, err)
		assert.Equal(t, models.ConfidenceMedium, linkFor(res, "name_pair:carol chen").Confidence)
	})

	t.Run("should link similar names at low", func(t *testing.T) {
		rows := []models.Identifier{
			id(models.IdentifierTypeNamePair, "jonathan smith", "stripe", "t9"),
			id(models.IdentifierTypeEmail, "jon@x.com", "stripe", "t9"),
			id(models.IdentifierTypeNamePair, "jonathon smith", "capitan", "c9"),
			id(models.IdentifierTypeNamePair, "maria garcia", "capitan", "c10"),
		}
		res, err := r.Resolve(ctx, rows, nil)
		require.NoError(t, err)
		assert.Equal(t, res.Assignments["name_pair:jonathan smith"], res.Assignments["name_pair:jonathon smith"])
		assert.NotEqual(t, res.Assignments["name_pair:jonathan smith"], res.Assignments["name_pair:maria garcia"])
		assert.Equal(t, models.ConfidenceLow, linkFor(res, "name_pair:jonathon smith").Confidence)
		assert.Equal(t, models.ConfidenceExact, linkFor(res, "name_pair:jonathan smith").Confidence)
	})

	t.Run("should merge forward and raise a review when a run bridges customers", func(t *testing.T) {
		older := fixedNow.Add(-48 * time.Hour)
		newer := fixedNow.Add(-24 * time.Hour)
		existing := &identity.Snapshot{
			Customers: []models.Customer{
				{CustomerID: "cust-b", CreatedAt: newer},
				{CustomerID: "cust-a", CreatedAt: older},
			},
			Links: []models.IdentifierLink{
				{CustomerID: "cust-a", IdentifierType: models.IdentifierTypeEmail, IdentifierValue: "a@x.com", Confidence: models.ConfidenceExact, FirstSeenAt: older},
				{CustomerID: "cust-b", IdentifierType: models.IdentifierTypePhone, IdentifierValue: "5550001111", Confidence: models.ConfidenceExact, FirstSeenAt: newer},
				{CustomerID: "cust-b", IdentifierType: models.IdentifierTypeInternalID, IdentifierValue: "capitan:7", Confidence: models.ConfidenceExact, FirstSeenAt: newer},
			},
		}
		rows := []models.Identifier{
			id(models.IdentifierTypeEmail, "a@x.com", "stripe", "t5"),
			id(models.IdentifierTypePhone, "5550001111", "stripe", "t5"),
		}

		res, err := r.Resolve(ctx, rows, existing)
		require.NoError(t, err)

		require.Len(t, res.Merges, 1)
		assert.Equal(t, "cust-a", res.Merges[0].SurvivorID)
		assert.Equal(t, "cust-b", res.Merges[0].AbsorbedID)
		assert.Equal(t, "run-1", res.Merges[0].RunID)

		require.Len(t, res.Reviews, 1)
		review := res.Reviews[0]
		assert.Equal(t, models.MergeReviewPending, review.Status)
		assert.Equal(t, []string{"cust-b"}, []string(review.AbsorbedCustomerIDs))
		assert.Equal(t, []string{"phone:5550001111"}, []string(review.BridgingIdentifiers))

		assert.Equal(t, "cust-a", linkFor(res, "internal_id:capitan:7").CustomerID)
		assert.Equal(t, "cust-a", res.Assignments["phone:5550001111"])
		assert.Equal(t, newer, linkFor(res, "phone:5550001111").FirstSeenAt)

		index := identity.NewIndex(res.Snapshot, 0.9)
		assert.Equal(t, "cust-a", index.Canonical("cust-b"))
	})

	t.Run("should never downgrade an existing link", func(t *testing.T) {
		existing := &identity.Snapshot{
			Customers: []models.Customer{{CustomerID: "cust-a", CreatedAt: fixedNow}},
			Links: []models.IdentifierLink{
				{CustomerID: "cust-a", IdentifierType: models.IdentifierTypeNamePair, IdentifierValue: "dana diaz", Confidence: models.ConfidenceExact},
			},
		}
		res, err := r.Resolve(ctx, []models.Identifier{id(models.IdentifierTypeNamePair, "dana diaz", "stripe", "t7")}, existing)
		require.NoError(t, err)
		assert.Equal(t, models.ConfidenceExact, linkFor(res, "name_pair:dana diaz").Confidence)
		assert.Equal(t, "cust-a", res.Assignments["name_pair:dana diaz"])
	})
}

func TestResolutionValidate(t *testing.T) {
	t.Run("should reject an identifier claimed twice", func(t *testing.T) {
		res := &Resolution{Links: []models.IdentifierLink{
			{CustomerID: "a", IdentifierType: models.IdentifierTypeEmail, IdentifierValue: "x@y.com"},
			{CustomerID: "b", IdentifierType: models.IdentifierTypeEmail, IdentifierValue: "x@y.com"},
		}}
		assert.ErrorIs(t, res.Validate(), ErrIdentifierCollision)
	})

	t.Run("should reject links to merged customers", func(t *testing.T) {
		merged := "a"
		res := &Resolution{Snapshot: &identity.Snapshot{
			Customers: []models.Customer{{CustomerID: "b", MergedInto: &merged}},
			Links:     []models.IdentifierLink{{CustomerID: "b", IdentifierType: models.IdentifierTypeEmail, IdentifierValue: "x@y.com"}},
		}}
		assert.ErrorIs(t, res.Validate(), ErrIdentifierCollision)
	})
}
