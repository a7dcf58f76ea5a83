package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScorer(t *testing.T) {
	s := NewScorer()

	t.Run("should score identical strings as 1", func(t *testing.T) {
		assert.Equal(t, 1.0, s.JaroWinkler("alice anders", "alice anders"))
	})

	t.Run("should score close spellings highly", func(t *testing.T) {
		assert.Greater(t, s.JaroWinkler("martha", "marhta"), 0.95)
		assert.Less(t, s.JaroWinkler("alice anders", "bob brown"), 0.7)
	})

	t.Run("should ignore token order for names", func(t *testing.T) {
		assert.Equal(t, 1.0, s.NameSimilarity("anders alice", "alice anders"))
	})

	t.Run("should encode soundex", func(t *testing.T) {
		assert.Equal(t, "R163", s.Soundex("Robert"))
		assert.Equal(t, "R163", s.Soundex("rupert"))
		assert.Equal(t, "A261", s.Soundex("Ashcraft"))
		assert.Equal(t, "T522", s.Soundex("Tymczak"))
		assert.Equal(t, "", s.Soundex("123"))
	})
}

func TestNameIndex(t *testing.T) {
	t.Run("should find the best candidate in the surname block", func(t *testing.T) {
		ix := NewNameIndex(nil)
		ix.Add("alice anders", "c1")
		ix.Add("alicia anders", "c2")
		ix.Add("bob brown", "c3")

		match, ok := ix.Best("alice andres", 0.9)
		assert.True(t, ok)
		assert.Equal(t, "c1", match.Ref)

		_, ok = ix.Best("zed zulu", 0.9)
		assert.False(t, ok)
	})

	t.Run("should only pair names within a block", func(t *testing.T) {
		ix := NewNameIndex(nil)
		ix.Add("jon smith", "a")
		ix.Add("john smith", "b")
		ix.Add("john smith", "b")
		ix.Add("john jones", "c")

		var pairs [][2]string
		ix.SimilarPairs(0.9, func(a, b NameEntry, _ float64) {
			pairs = append(pairs, [2]string{a.Ref, b.Ref})
		})
		assert.Equal(t, [][2]string{{"b", "a"}}, pairs)
	})
}
