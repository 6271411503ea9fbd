package validator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/book-harvester/pkg/logger"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestValidateBookFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "My Book")
	write(t, filepath.Join(dir, "My Book.htm"), "<html></html>")
	write(t, filepath.Join(dir, MetaFile), "{}")
	write(t, filepath.Join(dir, "images", "a.png"), "png")

	res, err := NewBookValidator(logger.NewNop(), nil).Validate(dir, "")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, filepath.Join(dir, "My Book.htm"), res.Files.HTMLPath)
	assert.Equal(t, filepath.Join(dir, MetaFile), res.Files.MetaPath)
	assert.Equal(t, 3, res.Files.FileCount)
	assert.Len(t, res.Files.HTMLHash, 64)
}

func TestValidatePicksHTMLNamedAfterFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Story")
	write(t, filepath.Join(dir, "Story.htm"), "<html></html>")
	write(t, filepath.Join(dir, "preview.html"), "<html></html>")

	res, err := NewBookValidator(nil, nil).Validate(dir, "")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, filepath.Join(dir, "Story.htm"), res.Files.HTMLPath)
	assert.Empty(t, res.Files.MetaPath)
}

func TestValidateReportsProblems(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "a.htm"), "x")
	write(t, filepath.Join(dir, "b.htm"), "y")

	res, err := NewBookValidator(logger.NewNop(), &ValidatorConfig{MaxFileCount: 1}).Validate(dir, "")
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "BOOK_HTML", res.Errors[0].Code)
	assert.Equal(t, "TOO_MANY_FILES", res.Errors[1].Code)

	_, err = NewBookValidator(nil, nil).Validate(filepath.Join(dir, "missing"), "")
	assert.Error(t, err)
}

func TestValidateUsesGivenBookName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "book")
	write(t, filepath.Join(dir, "My Book.htm"), "<html></html>")
	write(t, filepath.Join(dir, "My Book-old.htm"), "<html></html>")

	res, err := NewBookValidator(nil, nil).Validate(dir, "My Book")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, filepath.Join(dir, "My Book.htm"), res.Files.HTMLPath)

	res, err = NewBookValidator(nil, nil).Validate(dir, "")
	require.NoError(t, err)
	assert.False(t, res.IsValid)
}
