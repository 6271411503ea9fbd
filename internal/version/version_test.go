package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	cases := map[string]string{
		"":       Zero,
		"abc":    Zero,
		"5":      "5.0",
		"5.4":    "5.4",
		"v6.1":   "6.1",
		"5.4.12": "5.4",
		"2.x":    "2.0",
	}
	for in, want := range cases {
		assert.Equal(t, want, Canonical(in), in)
	}
}

func TestFromGenerator(t *testing.T) {
	assert.Equal(t, "5.4", FromGenerator("Bloom Version 5.4.102 (apparent build date: 10-Jan-2023)"))
	assert.Equal(t, "6.0", FromGenerator("Bloom Version 6.0"))
	assert.Equal(t, Zero, FromGenerator("Bloom"))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare("2.0", "2"))
	assert.Equal(t, -1, Compare("1.9", "1.10"))
	assert.Equal(t, 1, Compare("3.0", "2.99"))
	assert.True(t, AtLeast("5.4", "5.4"))
	assert.False(t, AtLeast("5.3", "5.4"))
	assert.Equal(t, 6, Major("6.2"))
	assert.Equal(t, 0, Major(""))
}
