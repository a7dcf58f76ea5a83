package matching

import (
	"sort"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// NameEntry is one indexed name and the reference it resolves to
type NameEntry struct {
	Name string
	Ref  string
}

// NameMatch is a scored candidate returned from the index
type NameMatch struct {
	NameEntry
	Score float64
}

// NameIndex blocks normalized names by the Soundex code of the surname so fuzzy
// comparison only happens between plausible candidates.
type NameIndex struct {
	scorer *Scorer
	blocks map[string][]NameEntry
	seen   map[NameEntry]bool
}

// NewNameIndex creates an empty name index
func NewNameIndex(scorer *Scorer) *NameIndex {
	if scorer == nil {
		scorer = NewScorer()
	}
	return &NameIndex{
		scorer: scorer,
		blocks: make(map[string][]NameEntry),
		seen:   make(map[NameEntry]bool),
	}
}

// BlockKey returns the blocking key for a normalized name
func (ix *NameIndex) BlockKey(name string) string {
	return ix.scorer.Soundex(normalizers.LastToken(name))
}

// Add indexes a name. Duplicate entries are ignored.
func (ix *NameIndex) Add(name, ref string) {
	entry := NameEntry{Name: name, Ref: ref}
	if name == "" || ix.seen[entry] {
		return
	}
	ix.seen[entry] = true
	key := ix.BlockKey(name)
	ix.blocks[key] = append(ix.blocks[key], entry)
}

// Best returns the highest scoring entry at or above threshold.
// Ties resolve to the lexically smallest name, then ref.
func (ix *NameIndex) Best(name string, threshold float64) (NameMatch, bool) {
	var best NameMatch
	found := false
	for _, entry := range ix.blocks[ix.BlockKey(name)] {
		score := ix.scorer.NameSimilarity(name, entry.Name)
		if score < threshold {
			continue
		}
		candidate := NameMatch{NameEntry: entry, Score: score}
		if !found || better(candidate, best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

func better(a, b NameMatch) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Ref < b.Ref
}

// SimilarPairs calls fn for every pair of entries in the same block whose
// similarity is at or above threshold. Iteration order is deterministic.
func (ix *NameIndex) SimilarPairs(threshold float64, fn func(a, b NameEntry, score float64)) {
	keys := make([]string, 0, len(ix.blocks))
	for k := range ix.blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		entries := append([]NameEntry(nil), ix.blocks[k]...)
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Name != entries[j].Name {
				return entries[i].Name < entries[j].Name
			}
			return entries[i].Ref < entries[j].Ref
		})
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				score := ix.scorer.NameSimilarity(entries[i].Name, entries[j].Name)
				if score >= threshold {
					fn(entries[i], entries[j], score)
				}
			}
		}
	}
}
