// Package identity holds the identifier store: canonical customers and the links that claim identifier values.
package identity

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// maxMergeDepth guards Canonical against a corrupt merge cycle
const maxMergeDepth = 64

// Snapshot is the identifier store as loaded at the start of a run
type Snapshot struct {
	Customers []models.Customer
	Links     []models.IdentifierLink
	Merges    []models.CustomerMerge
}

// IsEmpty reports whether the store has never been written
func (s *Snapshot) IsEmpty() bool {
	return s == nil || (len(s.Customers) == 0 && len(s.Links) == 0)
}

// Index answers identifier lookups against a snapshot
type Index struct {
	customers     map[string]models.Customer
	links         map[string]models.IdentifierLink
	names         *matching.NameIndex
	nameThreshold float64
}

// NewIndex builds lookup maps over the snapshot. Fuzzy name lookups accept
// candidates at or above nameThreshold.
func NewIndex(snapshot *Snapshot, nameThreshold float64) *Index {
	ix := &Index{
		customers:     make(map[string]models.Customer),
		links:         make(map[string]models.IdentifierLink),
		names:         matching.NewNameIndex(nil),
		nameThreshold: nameThreshold,
	}
	if snapshot == nil {
		return ix
	}

	for _, c := range snapshot.Customers {
		ix.customers[c.CustomerID] = c
	}
	for _, link := range snapshot.Links {
		ix.links[link.Key()] = link
		if link.IdentifierType == models.IdentifierTypeNamePair {
			ix.names.Add(link.IdentifierValue, link.CustomerID)
		}
	}
	return ix
}

// Canonical follows merged-forward chains to the surviving customer id
func (ix *Index) Canonical(customerID string) string {
	current := customerID
	for i := 0; i < maxMergeDepth; i++ {
		c, ok := ix.customers[current]
		if !ok || !c.IsMerged() {
			return current
		}
		current = *c.MergedInto
	}
	return current
}

// Customer returns a customer by id
func (ix *Index) Customer(customerID string) (models.Customer, bool) {
	c, ok := ix.customers[customerID]
	return c, ok
}

// Lookup returns the link claiming an identifier, re-pointed at the surviving customer
func (ix *Index) Lookup(t models.IdentifierType, value string) (models.IdentifierLink, bool) {
	if value == "" {
		return models.IdentifierLink{}, false
	}
	link, ok := ix.links[models.IdentifierKey(t, value)]
	if !ok {
		return models.IdentifierLink{}, false
	}
	link.CustomerID = ix.Canonical(link.CustomerID)
	return link, true
}

// LookupName resolves a normalized full name: an exact name link first, then
// the best fuzzy candidate within the surname block at low confidence.
func (ix *Index) LookupName(name string) (string, models.Confidence, bool) {
	if name == "" {
		return "", "", false
	}
	if link, ok := ix.Lookup(models.IdentifierTypeNamePair, name); ok {
		return link.CustomerID, link.Confidence, true
	}
	match, ok := ix.names.Best(name, ix.nameThreshold)
	if !ok {
		return "", "", false
	}
	return ix.Canonical(match.Ref), models.ConfidenceLow, true
}

// LookupEntrant resolves a facility entry by its source-scoped internal id,
// falling back to the entrant's full name capped at medium confidence.
func (ix *Index) LookupEntrant(sourceSystem, internalID, firstName, lastName string) (string, models.Confidence, bool) {
	if link, ok := ix.Lookup(models.IdentifierTypeInternalID, normalizers.NormalizeInternalID(sourceSystem, internalID)); ok {
		return link.CustomerID, link.Confidence, true
	}
	customerID, confidence, ok := ix.LookupName(normalizers.NormalizeFullName(firstName, lastName))
	if !ok {
		return "", "", false
	}
	return customerID, models.Weaker(confidence, models.ConfidenceMedium), true
}

// CustomerIDs returns every surviving customer id in sorted order
func (ix *Index) CustomerIDs() []string {
	ids := make([]string, 0, len(ix.customers))
	for id, c := range ix.customers {
		if !c.IsMerged() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// LinkCount returns the number of identifier links in the index
func (ix *Index) LinkCount() int {
	return len(ix.links)
}
