package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeFiltersUnionsFields(t *testing.T) {
	merged := MergeFilters(
		Filter{"inCirculation": true},
		Filter{"harvestState": "Failed"},
		nil,
	)
	assert.Equal(t, Filter{"inCirculation": true, "harvestState": "Failed"}, merged)
}

func TestMergeFiltersKeepsCollidingConditions(t *testing.T) {
	merged := MergeFilters(
		Filter{"harvestState": Filter{"$ne": "FailedPermanently"}, "inCirculation": true},
		Filter{"harvestState": "Failed", "tags": "topic:Math"},
	)
	assert.Equal(t, Filter{
		"inCirculation": true,
		"tags":          "topic:Math",
		"$and": []any{
			Filter{"harvestState": Filter{"$ne": "FailedPermanently"}},
			Filter{"harvestState": "Failed"},
		},
	}, merged)
}

func TestMergeFiltersFlattensExistingAnd(t *testing.T) {
	merged := MergeFilters(
		Filter{"$and": []any{Filter{"a": 1}}},
		Filter{"$and": []any{Filter{"b": 2}}},
	)
	assert.Equal(t, Filter{"$and": []any{Filter{"a": 1}, Filter{"b": 2}}}, merged)
}

func TestMergeFiltersEmpty(t *testing.T) {
	assert.Equal(t, Filter{}, MergeFilters())
}
