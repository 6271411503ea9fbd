package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/book-harvester/internal/models"
)

// ErrNotRequestable is returned when an operator request would override a
// state only a fresh upload or the owning instance may change.
var ErrNotRequestable = errors.New("book cannot be requested")

// CheckRequest reports whether rec may be moved to Requested at now.
// FailedPermanently is left to a fresh upload, and an InProgress record is
// left to its instance until it goes stale.
func CheckRequest(rec *models.DocumentRecord, now time.Time) error {
	switch rec.HarvestState {
	case models.StateFailedPermanently:
		return fmt.Errorf("%s failed permanently: %w", rec.ID, ErrNotRequestable)
	case models.StateInProgress:
		started := rec.HarvestStartedAt
		if !started.IsZero() && now.Sub(started) <= StaleAfter {
			return fmt.Errorf("%s is being harvested by %s since %s: %w",
				rec.ID, rec.HarvesterID, started.UTC().Format(time.RFC3339), ErrNotRequestable)
		}
	}
	return nil
}
