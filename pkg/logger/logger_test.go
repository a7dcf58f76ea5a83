package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should build a logger for a valid level", func(t *testing.T) {
		l, err := New(Config{Level: "debug", Pretty: true})
		require.NoError(t, err)
		assert.NotNil(t, l)
	})

	t.Run("should reject an unknown level", func(t *testing.T) {
		_, err := New(Config{Level: "chatty"})
		assert.Error(t, err)
	})
}
