package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/feichai0017/book-harvester/pkg/logger"
)

// MetaFile is the metadata sidecar stored next to the book html.
const MetaFile = "meta.json"

// BookValidator checks a downloaded book folder before analysis.
type BookValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

type ValidatorConfig struct {
	MaxBookSize  int64 // bytes, 0 disables the check
	MaxFileCount int   // 0 disables the check
}

type ValidationResult struct {
	IsValid bool              `json:"isValid"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Files   BookFiles         `json:"files"`
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// BookFiles locates the parts of a book folder the harvester reads.
type BookFiles struct {
	Dir       string `json:"dir"`
	HTMLPath  string `json:"htmlPath"`
	MetaPath  string `json:"metaPath,omitempty"`
	HTMLHash  string `json:"htmlHash"`
	Size      int64  `json:"size"`
	FileCount int    `json:"fileCount"`
}

func NewBookValidator(log logger.Logger, config *ValidatorConfig) *BookValidator {
	if config == nil {
		config = &ValidatorConfig{
			MaxBookSize:  2 << 30,
			MaxFileCount: 20000,
		}
	}
	return &BookValidator{logger: log, config: config}
}

// Validate inspects dir. name is the book's folder name as uploaded; when
// empty the base name of dir is used. An error is returned only when dir
// cannot be read; problems with its contents are reported in the result.
func (v *BookValidator) Validate(dir, name string) (*ValidationResult, error) {
	if name == "" {
		name = filepath.Base(dir)
	}
	result := &ValidationResult{IsValid: true, Files: BookFiles{Dir: dir}}
	fail := func(code, field, format string, args ...any) {
		result.IsValid = false
		result.Errors = append(result.Errors, ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		result.Files.Size += info.Size()
		result.Files.FileCount++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read book folder: %w", err)
	}

	html, err := findBookHTML(dir, name)
	if err != nil {
		fail("BOOK_HTML", "htmlPath", "%v", err)
	} else {
		result.Files.HTMLPath = html
		if result.Files.HTMLHash, err = v.calculateHash(html); err != nil {
			return nil, fmt.Errorf("failed to calculate hash: %w", err)
		}
	}

	if meta := filepath.Join(dir, MetaFile); fileExists(meta) {
		result.Files.MetaPath = meta
	}

	if v.config.MaxBookSize > 0 && result.Files.Size > v.config.MaxBookSize {
		fail("BOOK_TOO_LARGE", "size", "book size %d exceeds maximum of %d bytes", result.Files.Size, v.config.MaxBookSize)
	}
	if v.config.MaxFileCount > 0 && result.Files.FileCount > v.config.MaxFileCount {
		fail("TOO_MANY_FILES", "fileCount", "book has %d files, maximum is %d", result.Files.FileCount, v.config.MaxFileCount)
	}

	if !result.IsValid && v.logger != nil {
		v.logger.Warn("Book folder failed validation",
			logger.String("dir", dir),
			logger.Any("errors", result.Errors))
	}
	return result, nil
}

// findBookHTML returns the book's html file: the only top-level .htm file,
// or the one named after the book when there are several.
func findBookHTML(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".htm" || ext == ".html" {
			candidates = append(candidates, filepath.Join(dir, e.Name()))
		}
	}
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("no book html in %s", dir)
	case 1:
		return candidates[0], nil
	}
	for _, c := range candidates {
		if strings.TrimSuffix(filepath.Base(c), filepath.Ext(c)) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%d html files in %s and none named %q", len(candidates), dir, name)
}

func (v *BookValidator) calculateHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
