package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFromValue(t *testing.T) {
	t.Run("should ignore map key order", func(t *testing.T) {
		a, err := GenerateFromValue(map[string]any{"a": 1, "b": map[string]any{"x": "1", "y": "2"}})
		require.NoError(t, err)
		b, err := GenerateFromValue(map[string]any{"b": map[string]any{"y": "2", "x": "1"}, "a": 1})
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("should treat slice order as significant", func(t *testing.T) {
		a, err := GenerateFromValue([]string{"a", "b"})
		require.NoError(t, err)
		b, err := GenerateFromValue([]string{"b", "a"})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("should match struct and map forms", func(t *testing.T) {
		type row struct {
			ID    string `json:"id"`
			Count int    `json:"count"`
		}
		a, err := GenerateFromValue(row{ID: "x", Count: 2})
		require.NoError(t, err)
		b, err := GenerateFromValue(map[string]any{"count": 2, "id": "x"})
		require.NoError(t, err)
		assert.Equal(t, b, a)
	})
}
