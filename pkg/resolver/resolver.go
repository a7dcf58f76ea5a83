// Package resolver clusters identifier rows into canonical customers.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	customerNamespace = uuid.MustParse("6f1c2b9e-4a53-4d8e-9a0b-1f6e0c9d7a21")
	reviewNamespace   = uuid.MustParse("0b7d5e3a-8c21-4f6a-b2d4-7e9f1a3c5b60")
)

// ErrIdentifierCollision means an identifier would be claimed by two customers
var ErrIdentifierCollision = errors.New("identifier claimed by more than one customer")

const customerNodePrefix = "~customer:"

// DefaultLowNameThreshold is the Jaro-Winkler similarity for a low-confidence name edge
const DefaultLowNameThreshold = 0.92

type Options struct {
	LowNameThreshold float64
	Now              func() time.Time
}

type Resolver struct {
	logger ectologger.Logger
	scorer *matching.Scorer
	opts   Options
}

func NewResolver(logger ectologger.Logger, opts Options) *Resolver {
	if opts.LowNameThreshold <= 0 {
		opts.LowNameThreshold = DefaultLowNameThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{logger: logger, scorer: matching.NewScorer(), opts: opts}
}

// Resolution is the outcome of one resolve pass
type Resolution struct {
	// Customers holds new customers and customers merged forward in this pass
	Customers    []models.Customer
	NewCustomers int
	// Links holds every link to upsert: observed identifiers plus links re-pointed by merges
	Links   []models.IdentifierLink
	Merges  []models.CustomerMerge
	Reviews []models.MergeReview
	// Assignments maps identifier key to customer id for every observed identifier
	Assignments map[string]string
	// Snapshot is the full identifier store after this pass
	Snapshot *identity.Snapshot
}

// graph accumulates the union-find state and per-key edge confidence
type graph struct {
	set        *DisjointSet
	confidence map[string]models.Confidence
}

func (g *graph) edge(a, b string, c models.Confidence) {
	g.set.Union(a, b)
	g.raise(a, c)
	g.raise(b, c)
}

func (g *graph) raise(key string, c models.Confidence) {
	g.confidence[key] = models.Stronger(g.confidence[key], c)
}

// Resolve partitions rows into clusters and assigns each cluster a canonical customer
func (r *Resolver) Resolve(ctx context.Context, rows []models.Identifier, existing *identity.Snapshot) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.Resolve")
	defer span.End()

	now := r.opts.Now().UTC()
	runID := fernctx.GetRunID(ctx)
	if existing == nil {
		existing = &identity.Snapshot{}
	}
	index := identity.NewIndex(existing, r.opts.LowNameThreshold)

	g := &graph{set: NewDisjointSet(), confidence: make(map[string]models.Confidence)}
	observed := make(map[string]models.Identifier)

	addNode := func(key string) {
		if g.set.Has(key) {
			return
		}
		g.set.Add(key)
		t, value := splitKey(key)
		if link, ok := index.Lookup(t, value); ok {
			// prior edge: keeps an already resolved identifier on its customer
			g.set.Union(key, customerNodePrefix+link.CustomerID)
			g.raise(key, link.Confidence)
		}
	}

	byRecord := make(map[string][]string)
	recordsByKey := make(map[string][]models.Identifier)
	for _, row := range rows {
		key := row.Key()
		addNode(key)
		if _, ok := observed[key]; !ok {
			observed[key] = row
		}
		byRecord[row.RecordKey()] = append(byRecord[row.RecordKey()], key)
		recordsByKey[key] = append(recordsByKey[key], row)
	}

	// exact: identifiers observed together on one record
	for _, keys := range byRecord {
		for i := 1; i < len(keys); i++ {
			g.edge(keys[0], keys[i], models.ConfidenceExact)
		}
	}

	// identical values seen on more than one record
	for key, seen := range recordsByKey {
		if len(seen) < 2 {
			continue
		}
		if seen[0].Type != models.IdentifierTypeNamePair {
			g.raise(key, models.ConfidenceExact)
			continue
		}
		if shareSignal(seen) {
			g.raise(key, models.ConfidenceMedium)
		} else {
			g.raise(key, models.ConfidenceLow)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// low: fuzzy names inside surname blocks, including names already on file
	names := matching.NewNameIndex(r.scorer)
	for key, row := range observed {
		if row.Type == models.IdentifierTypeNamePair {
			names.Add(row.Value, key)
		}
	}
	for _, link := range existing.Links {
		if link.IdentifierType == models.IdentifierTypeNamePair {
			names.Add(link.IdentifierValue, link.Key())
		}
	}
	names.SimilarPairs(r.opts.LowNameThreshold, func(a, b matching.NameEntry, _ float64) {
		_, aObserved := observed[a.Ref]
		_, bObserved := observed[b.Ref]
		if !aObserved && !bObserved {
			return
		}
		addNode(a.Ref)
		addNode(b.Ref)
		g.edge(a.Ref, b.Ref, models.ConfidenceLow)
	})

	for key := range observed {
		g.raise(key, models.ConfidenceLow)
	}

	res := &Resolution{Assignments: make(map[string]string)}
	customers := make(map[string]models.Customer, len(existing.Customers))
	for _, c := range existing.Customers {
		customers[c.CustomerID] = c
	}
	links := make(map[string]models.IdentifierLink, len(existing.Links))
	for _, l := range existing.Links {
		l.CustomerID = index.Canonical(l.CustomerID)
		links[l.Key()] = l
	}
	absorbedInto := make(map[string]string)

	for _, component := range sortedComponents(g.set.Components()) {
		var keys, existingIDs []string
		for _, node := range component {
			if id, ok := strings.CutPrefix(node, customerNodePrefix); ok {
				existingIDs = append(existingIDs, id)
			} else if _, ok := observed[node]; ok {
				keys = append(keys, node)
			}
		}
		if len(keys) == 0 {
			continue
		}

		customerID := ""
		switch len(existingIDs) {
		case 0:
			customerID = uuid.NewSHA1(customerNamespace, []byte(keys[0])).String()
			if _, exists := customers[customerID]; !exists {
				customers[customerID] = models.Customer{CustomerID: customerID, CreatedAt: now}
				res.Customers = append(res.Customers, customers[customerID])
				res.NewCustomers++
			}
		case 1:
			customerID = existingIDs[0]
		default:
			survivor, absorbed := pickSurvivor(existingIDs, customers)
			customerID = survivor
			for _, id := range absorbed {
				merged := customers[id]
				merged.CustomerID = id
				merged.MergedInto = &survivor
				mergedAt := now
				merged.MergedAt = &mergedAt
				customers[id] = merged
				absorbedInto[id] = survivor
				res.Customers = append(res.Customers, merged)
				res.Merges = append(res.Merges, models.CustomerMerge{
					RunID:      runID,
					SurvivorID: survivor,
					AbsorbedID: id,
					CreatedAt:  now,
				})
			}
			review := r.review(runID, survivor, absorbed, bridging(keys, survivor, index), now)
			res.Reviews = append(res.Reviews, review)
			r.logger.WithContext(ctx).WithFields(map[string]any{
				"survivor_customer_id":  survivor,
				"absorbed_customer_ids": absorbed,
				"bridging_identifiers":  review.BridgingIdentifiers,
			}).Warn("Merged previously distinct customers; review required")
		}

		for _, key := range keys {
			row := observed[key]
			link := models.IdentifierLink{
				CustomerID:      customerID,
				IdentifierType:  row.Type,
				IdentifierValue: row.Value,
				Confidence:      g.confidence[key],
				SourceSystem:    row.SourceSystem,
				FirstSeenAt:     now,
				LastSeenAt:      now,
			}
			if prior, ok := links[key]; ok {
				link.Confidence = models.Stronger(prior.Confidence, link.Confidence)
				link.SourceSystem = prior.SourceSystem
				link.FirstSeenAt = prior.FirstSeenAt
			}
			links[key] = link
			res.Assignments[key] = customerID
			res.Links = append(res.Links, link)
		}
	}

	// links of absorbed customers that were not observed this pass follow the survivor
	for _, key := range sortedLinkKeys(links) {
		link := links[key]
		if _, done := res.Assignments[key]; done {
			continue
		}
		survivor, ok := absorbedInto[link.CustomerID]
		if !ok {
			continue
		}
		link.CustomerID = survivor
		links[key] = link
		res.Links = append(res.Links, link)
	}

	res.Snapshot = &identity.Snapshot{
		Customers: sortedCustomers(customers),
		Links:     make([]models.IdentifierLink, 0, len(links)),
		Merges:    append(append([]models.CustomerMerge{}, existing.Merges...), res.Merges...),
	}
	for _, key := range sortedLinkKeys(links) {
		res.Snapshot.Links = append(res.Snapshot.Links, links[key])
	}

	if err := res.Validate(); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Resolution failed validation")
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"identifiers":   len(observed),
		"new_customers": res.NewCustomers,
		"merges":        len(res.Merges),
		"links":         len(res.Links),
	}).Info("Resolved identities")

	return res, nil
}

// Validate checks that no identifier is claimed by two customers and that no
// link points at a merged-away customer.
func (res *Resolution) Validate() error {
	claimed := make(map[string]string, len(res.Links))
	for _, link := range res.Links {
		if owner, ok := claimed[link.Key()]; ok && owner != link.CustomerID {
			return fmt.Errorf("%w: %s claimed by %s and %s", ErrIdentifierCollision, link.Key(), owner, link.CustomerID)
		}
		claimed[link.Key()] = link.CustomerID
	}

	if res.Snapshot == nil {
		return nil
	}
	merged := make(map[string]bool)
	for _, c := range res.Snapshot.Customers {
		if c.IsMerged() {
			merged[c.CustomerID] = true
		}
	}
	for _, link := range res.Snapshot.Links {
		if merged[link.CustomerID] {
			return fmt.Errorf("%w: %s still points at merged customer %s", ErrIdentifierCollision, link.Key(), link.CustomerID)
		}
	}
	return nil
}

func (r *Resolver) review(runID, survivor string, absorbed, bridging []string, now time.Time) models.MergeReview {
	seed := runID + "|" + survivor + "|" + strings.Join(absorbed, ",")
	return models.MergeReview{
		ID:                  uuid.NewSHA1(reviewNamespace, []byte(seed)).String(),
		RunID:               runID,
		SurvivorCustomerID:  survivor,
		AbsorbedCustomerIDs: absorbed,
		BridgingIdentifiers: bridging,
		Status:              models.MergeReviewPending,
		CreatedAt:           now,
	}
}

// pickSurvivor keeps the earliest created customer, then the smallest id
func pickSurvivor(ids []string, customers map[string]models.Customer) (string, []string) {
	sorted := uniqueStrings(ids)
	sort.Slice(sorted, func(i, j int) bool {
		ci, cj := customers[sorted[i]], customers[sorted[j]]
		if !ci.CreatedAt.Equal(cj.CreatedAt) {
			return ci.CreatedAt.Before(cj.CreatedAt)
		}
		return sorted[i] < sorted[j]
	})
	return sorted[0], sorted[1:]
}

// bridging lists the observed identifiers that did not already belong to the survivor
func bridging(keys []string, survivor string, index *identity.Index) []string {
	var out []string
	for _, key := range keys {
		t, value := splitKey(key)
		link, ok := index.Lookup(t, value)
		if !ok || link.CustomerID != survivor {
			out = append(out, key)
		}
	}
	return out
}

func shareSignal(rows []models.Identifier) bool {
	seen := make(map[string]string)
	for _, row := range rows {
		for _, signal := range row.Signals {
			if record, ok := seen[signal]; ok && record != row.RecordKey() {
				return true
			}
			seen[signal] = row.RecordKey()
		}
	}
	return false
}

func splitKey(key string) (models.IdentifierType, string) {
	t, value, _ := strings.Cut(key, ":")
	return models.IdentifierType(t), value
}

// sortedComponents orders components and their members for deterministic assignment
func sortedComponents(components map[string][]string) [][]string {
	out := make([][]string, 0, len(components))
	for _, members := range components {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func sortedLinkKeys(links map[string]models.IdentifierLink) []string {
	keys := make([]string, 0, len(links))
	for k := range links {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCustomers(customers map[string]models.Customer) []models.Customer {
	out := make([]models.Customer, 0, len(customers))
	for _, c := range customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
