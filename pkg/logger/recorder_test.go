package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsOrderAndCategories(t *testing.T) {
	rec := NewRecorder(NewNop(), InfoLevel)

	rec.Debug("ignored")
	rec.Info("started")
	rec.Warn("font missing", Category("MissingFont"), String("font", "Andika"))
	rec.Error("render failed", Category("RenderFailure"))

	entries := rec.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "started", entries[0].Message)
	assert.Equal(t, DefaultCategory, entries[0].Category)
	assert.Equal(t, WarnLevel, entries[1].Level)
	assert.Equal(t, "MissingFont", entries[1].Category)
	assert.Equal(t, "RenderFailure", entries[2].Category)
}

func TestRecorderWithSharesEntries(t *testing.T) {
	rec := NewRecorder(nil, DebugLevel)
	child := rec.With(Category("Download"), String("doc", "abc"))

	child.Warn("retrying")
	rec.Info("parent")

	entries := rec.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Download", entries[0].Category)
	assert.Len(t, entries[0].Fields, 2)
	assert.Equal(t, DefaultCategory, entries[1].Category)
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(WithLevel("loud"), WithOutputPaths([]string{"stdout"}))
	assert.Error(t, err)

	l, err := NewLogger(WithLevel("debug"), WithEncoding("console"), WithOutputPaths([]string{"stdout"}))
	require.NoError(t, err)
	l.Named("test").With(String("k", "v")).Debug("hello")
}
