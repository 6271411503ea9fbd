// Package catalog reads and updates book records in the remote catalog.
package catalog

import (
	"context"
	"errors"
	"sort"

	"github.com/feichai0017/book-harvester/internal/models"
)

// ErrNotFound is returned when a record no longer exists upstream.
var ErrNotFound = errors.New("catalog record not found")

// Filter is a query over record fields using the catalog's operator syntax.
type Filter map[string]any

// Fields is a partial set of record fields to overwrite.
type Fields map[string]any

// Catalog is the record store the harvester works against.
type Catalog interface {
	Query(ctx context.Context, filter Filter) ([]models.DocumentRecord, error)
	Get(ctx context.Context, id string) (*models.DocumentRecord, error)
	Update(ctx context.Context, id string, fields Fields) error
}

// MergeFilters combines filters with AND semantics. Fields appearing in only
// one filter are copied as is; a field constrained by several filters is
// moved under "$and" so that no condition overwrites another.
func MergeFilters(filters ...Filter) Filter {
	byKey := make(map[string][]any)
	var and []any
	for _, f := range filters {
		for k, v := range f {
			if k == "$and" {
				if list, ok := v.([]any); ok {
					and = append(and, list...)
				} else {
					and = append(and, v)
				}
				continue
			}
			byKey[k] = append(byKey[k], v)
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := Filter{}
	for _, k := range keys {
		values := byKey[k]
		if len(values) == 1 {
			merged[k] = values[0]
			continue
		}
		for _, v := range values {
			and = append(and, Filter{k: v})
		}
	}
	if len(and) > 0 {
		merged["$and"] = and
	}
	return merged
}
