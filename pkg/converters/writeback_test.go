package converters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/pkg/logger"
)

func TestConvertFullResult(t *testing.T) {
	c := NewWriteBackConverter()
	show := models.ArtifactShow{models.ArtifactEpub: {Exists: false, HideReason: models.HideNotSuitable}}
	fields, err := c.Convert(&HarvestResult{
		State:            models.StateDone,
		HarvesterID:      "box-1",
		HarvesterVersion: "2.1",
		Show:             show,
		Fingerprint:      &models.Fingerprint{FirstImageHash: "00000000000000ff", BookHash: "3-0000000000000abc"},
		Tags:             []string{"computedLevel:2"},
	})
	require.NoError(t, err)

	assert.Equal(t, catalog.Fields{
		"harvestState":             models.StateDone,
		"harvesterId":              "box-1",
		"harvesterVersion":         "2.1",
		"harvestLog":               []models.LogEntry{},
		"show":                     show,
		"phashOfFirstContentImage": "00000000000000ff",
		"bookHashFromImages":       "3-0000000000000abc",
		"tags":                     []string{"computedLevel:2"},
	}, fields)
}

func TestConvertLeavesUntouchedFieldsOut(t *testing.T) {
	fields, err := NewWriteBackConverter().Convert(&HarvestResult{State: models.StateFailed})
	require.NoError(t, err)
	assert.NotContains(t, fields, "show")
	assert.NotContains(t, fields, "tags")
	assert.NotContains(t, fields, "bookHashFromImages")

	cleared, err := NewWriteBackConverter().Convert(&HarvestResult{State: models.StateDone, Fingerprint: &models.Fingerprint{}})
	require.NoError(t, err)
	assert.Equal(t, "", cleared["bookHashFromImages"])

	_, err = NewWriteBackConverter().Convert(&HarvestResult{})
	assert.Error(t, err)
}

func TestInProgressFields(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	fields := NewWriteBackConverter().InProgressFields("box-1", "2.1", start)
	assert.Equal(t, models.StateInProgress, fields["harvestState"])
	assert.Equal(t, start.UTC(), fields["harvestStartedAt"])
}

func TestLogEntries(t *testing.T) {
	rec := logger.NewRecorder(nil, logger.DebugLevel)
	rec.Debug("noise")
	rec.Info("started")
	rec.Warn("font missing", logger.Category(models.LogTypeMissingFont))
	rec.Error("render failed", logger.Category(models.LogTypeRenderFailure))

	assert.Equal(t, []models.LogEntry{
		{Level: models.LogInfo, Type: logger.DefaultCategory, Message: "started"},
		{Level: models.LogWarn, Type: models.LogTypeMissingFont, Message: "font missing"},
		{Level: models.LogError, Type: models.LogTypeRenderFailure, Message: "render failed"},
	}, LogEntries(rec.Entries()))
}
