package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	t.Run("should lowercase and trim", func(t *testing.T) {
		assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
	})

	t.Run("should reject values that are not addresses", func(t *testing.T) {
		assert.Empty(t, NormalizeEmail("alice"))
		assert.Empty(t, NormalizeEmail("@example.com"))
		assert.Empty(t, NormalizeEmail("alice@"))
		assert.Empty(t, NormalizeEmail("al ice@example.com"))
	})
}

func TestNormalizePhone(t *testing.T) {
	t.Run("should reduce to digits", func(t *testing.T) {
		assert.Equal(t, "5125550100", NormalizePhone("(512) 555-0100"))
	})

	t.Run("should fold a leading country code", func(t *testing.T) {
		assert.Equal(t, "5125550100", NormalizePhone("+1 512.555.0100"))
	})

	t.Run("should reject short numbers", func(t *testing.T) {
		assert.Empty(t, NormalizePhone("555-01"))
	})

	t.Run("should be deterministic", func(t *testing.T) {
		assert.Equal(t, NormalizePhone("512 555 0100"), NormalizePhone("512-555-0100"))
	})
}

func TestNormalizeInternalID(t *testing.T) {
	assert.Equal(t, "capitan:123", NormalizeInternalID("Capitan", " 123 "))
	assert.Equal(t, "capitan:123", NormalizeInternalID("capitan", "123.0"))
	assert.Empty(t, NormalizeInternalID("capitan", ""))
	assert.Empty(t, NormalizeInternalID("capitan", "NaN"))
}

func TestNormalizeFullName(t *testing.T) {
	t.Run("should normalize punctuation and case", func(t *testing.T) {
		assert.Equal(t, "mary ann oconnor", NormalizeFullName(" Mary-Ann ", "O'Connor Jr."))
	})

	t.Run("should reject single tokens and placeholders", func(t *testing.T) {
		assert.Empty(t, NormalizeFullName("Cher", ""))
		assert.Empty(t, NormalizeFullName("Guest", "Guest"))
	})
}
