package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMissingFontsDeduplicates(t *testing.T) {
	rec := DocumentRecord{HarvestLog: []LogEntry{
		{Level: LogError, Type: LogTypeMissingFont, Message: "Andika"},
		{Level: LogWarn, Type: LogTypeGeneral, Message: "Andika"},
		{Level: LogError, Type: LogTypeMissingFont, Message: "Scheherazade"},
		{Level: LogError, Type: LogTypeMissingFont, Message: "Andika"},
	}}

	assert.Equal(t, []string{"Andika", "Scheherazade"}, rec.MissingFonts())
	assert.Empty(t, (&DocumentRecord{}).MissingFonts())
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []HarvestState{StateDone, StateFailed, StateFailedPermanently, StateAborted} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []HarvestState{StateNew, StateUpdated, StateRequested, StateUnknown, StateInProgress} {
		assert.False(t, s.Terminal(), s)
	}
}
