package converters

import (
	"fmt"
	"time"

	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/pkg/logger"
)

// HarvestResult is everything one attempt writes back to the catalog.
type HarvestResult struct {
	State            models.HarvestState
	HarvesterID      string
	HarvesterVersion string
	Log              []models.LogEntry
	Show             models.ArtifactShow
	// Fingerprint is nil when fingerprinting did not run; a zero value
	// clears the stored hashes.
	Fingerprint *models.Fingerprint
	// Tags is nil when the tags were not recomputed.
	Tags []string
}

// WriteBackConverter turns results into partial catalog updates.
type WriteBackConverter struct{}

func NewWriteBackConverter() *WriteBackConverter {
	return &WriteBackConverter{}
}

func (c *WriteBackConverter) Convert(r *HarvestResult) (catalog.Fields, error) {
	if r == nil || r.State == "" {
		return nil, fmt.Errorf("result has no final state")
	}

	log := r.Log
	if log == nil {
		log = []models.LogEntry{}
	}
	fields := catalog.Fields{
		"harvestState":     r.State,
		"harvesterId":      r.HarvesterID,
		"harvesterVersion": r.HarvesterVersion,
		"harvestLog":       log,
	}
	if r.Show != nil {
		fields["show"] = r.Show
	}
	if r.Fingerprint != nil {
		fields["phashOfFirstContentImage"] = r.Fingerprint.FirstImageHash
		fields["bookHashFromImages"] = r.Fingerprint.BookHash
	}
	if r.Tags != nil {
		fields["tags"] = r.Tags
	}
	return fields, nil
}

// InProgressFields marks a record as taken by this harvester.
func (c *WriteBackConverter) InProgressFields(harvesterID, version string, startedAt time.Time) catalog.Fields {
	return catalog.Fields{
		"harvestState":     models.StateInProgress,
		"harvesterId":      harvesterID,
		"harvesterVersion": version,
		"harvestStartedAt": startedAt.UTC(),
	}
}

// LogEntries converts recorded log calls into catalog log entries.
// Debug entries are dropped.
func LogEntries(entries []logger.Entry) []models.LogEntry {
	out := make([]models.LogEntry, 0, len(entries))
	for _, e := range entries {
		var level models.LogLevel
		switch {
		case e.Level >= logger.ErrorLevel:
			level = models.LogError
		case e.Level == logger.WarnLevel:
			level = models.LogWarn
		case e.Level == logger.InfoLevel:
			level = models.LogInfo
		default:
			continue
		}
		out = append(out, models.LogEntry{Level: level, Type: e.Category, Message: e.Message})
	}
	return out
}
