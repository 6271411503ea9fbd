package analyzer

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

const (
	// PriorSettingsFile is the collection settings snapshot uploaded with the book.
	PriorSettingsFile = "collectionFiles/book.uploadCollectionSettings"
	// RenderModeFile holds the per-book publishing settings.
	RenderModeFile = "publish-settings.json"

	// DefaultXMatterPack is used when the book carries no *-XMatter.css file.
	DefaultXMatterPack = "Device"

	xmatterSuffix = "-XMatter.css"
)

// Render modes for the size-constrained artifact.
const (
	ModeFlowable = "flowable"
	ModeFixed    = "fixed"
)

const (
	// prior settings are only trustworthy from this generator version on
	priorSettingsVersion = "5.4"
	// generators from this version on understand the fixed render mode
	fixedModeVersion = "6.0"
)

// Collection is the derived settings document handed to the renderer.
type Collection struct {
	XMLName             xml.Name `xml:"Collection"`
	Version             string   `xml:"version,attr,omitempty"`
	Language1Iso639Code string   `xml:"Language1Iso639Code"`
	Language2Iso639Code string   `xml:"Language2Iso639Code"`
	Language3Iso639Code string   `xml:"Language3Iso639Code"`
	SignLanguageCode    string   `xml:"SignLanguageIso639Code"`
	Country             string   `xml:"Country"`
	SubscriptionCode    string   `xml:"SubscriptionCode"`
	BrandingProjectName string   `xml:"BrandingProjectName"`
	XMatterPack         string   `xml:"XMatterPack"`
}

func readPriorSettings(bookDir string) (*Collection, error) {
	data, err := os.ReadFile(filepath.Join(bookDir, filepath.FromSlash(PriorSettingsFile)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read prior settings: %w", err)
	}
	var c Collection
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse prior settings: %w", err)
	}
	return &c, nil
}

// readRenderMode returns the epub mode recorded in the publish settings file
// and the whole decoded file. A missing file is not an error.
func readRenderMode(path string) (string, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", map[string]any{}, nil
		}
		return "", nil, fmt.Errorf("failed to read render mode file: %w", err)
	}
	settings := map[string]any{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &settings); err != nil {
			return "", nil, fmt.Errorf("failed to parse render mode file: %w", err)
		}
	}
	epub, _ := settings["epub"].(map[string]any)
	mode, _ := epub["mode"].(string)
	return mode, settings, nil
}

func writeRenderMode(path string, settings map[string]any, mode string) error {
	epub, _ := settings["epub"].(map[string]any)
	if epub == nil {
		epub = map[string]any{}
	}
	epub["mode"] = mode
	settings["epub"] = epub

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode render mode file: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write render mode file: %w", err)
	}
	return nil
}

// findXMatterPack returns the pack named by the first *-XMatter.css file in
// bookDir, or DefaultXMatterPack.
func findXMatterPack(bookDir string) string {
	if bookDir == "" {
		return DefaultXMatterPack
	}
	matches, err := filepath.Glob(filepath.Join(bookDir, "*"+xmatterSuffix))
	if err != nil || len(matches) == 0 {
		return DefaultXMatterPack
	}
	sort.Strings(matches)
	name := strings.TrimSuffix(filepath.Base(matches[0]), xmatterSuffix)
	if name == "" {
		return DefaultXMatterPack
	}
	return name
}

// CollectionSettings builds the derived settings document from the resolved values.
func (a *Analyzer) CollectionSettings() Collection {
	return Collection{
		Version:             "0.2",
		Language1Iso639Code: a.language1,
		Language2Iso639Code: a.language2,
		Language3Iso639Code: a.language3,
		SignLanguageCode:    a.signLanguage,
		Country:             a.country,
		SubscriptionCode:    a.subscriptionCode,
		BrandingProjectName: a.branding,
		XMatterPack:         findXMatterPack(a.bookDir),
	}
}

// WriteCollectionSettings writes the derived settings document to path.
func (a *Analyzer) WriteCollectionSettings(path string) error {
	data, err := xml.MarshalIndent(a.CollectionSettings(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode collection settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write collection settings: %w", err)
	}
	return nil
}
