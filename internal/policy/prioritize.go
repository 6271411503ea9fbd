package policy

import (
	"math/rand/v2"

	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/models"
)

func tier(s models.HarvestState) int {
	switch s {
	case models.StateRequested:
		return 0
	case models.StateNew:
		return 1
	case models.StateUpdated:
		return 2
	}
	return 3
}

// Prioritize orders records Requested, New, Updated, then everything else,
// shuffling within each tier. A nil r uses the global source.
func Prioritize(recs []models.DocumentRecord, r *rand.Rand) []models.DocumentRecord {
	tiers := make([][]models.DocumentRecord, 4)
	for _, rec := range recs {
		t := tier(rec.HarvestState)
		tiers[t] = append(tiers[t], rec)
	}

	out := make([]models.DocumentRecord, 0, len(recs))
	for _, group := range tiers {
		swap := func(i, j int) { group[i], group[j] = group[j], group[i] }
		if r != nil {
			r.Shuffle(len(group), swap)
		} else {
			rand.Shuffle(len(group), swap)
		}
		out = append(out, group...)
	}
	return out
}

// QueryFilter returns the catalog conditions that let the catalog discard
// records the mode would skip anyway. It is an optimization only; every
// returned record is still evaluated by ShouldProcess.
func QueryFilter(mode Mode) catalog.Filter {
	switch mode {
	case ModeForceAll:
		return catalog.Filter{}
	case ModeAll:
		return catalog.Filter{"inCirculation": true}
	case ModeNeededOnly:
		needed := []models.HarvestState{models.StateNew, models.StateUpdated, models.StateRequested}
		return catalog.Filter{
			"inCirculation": true,
			"harvestState":  catalog.Filter{"$in": needed},
		}
	case ModeRetryFailures:
		return catalog.Filter{
			"inCirculation": true,
			"harvestState":  models.StateFailed,
		}
	}
	return catalog.Filter{
		"inCirculation": true,
		"harvestState":  catalog.Filter{"$ne": models.StateFailedPermanently},
	}
}
