// Package analyzer parses one book's markup and metadata and derives the
// values the harvester records: languages, reading level, artifact
// suitability and the images used for fingerprinting.
package analyzer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/internal/version"
	"github.com/feichai0017/book-harvester/pkg/logger"
)

const (
	pageSelector        = "div.bloom-page"
	numberedPageClass   = "numberedPage"
	frontCoverClass     = "outsideFrontCover"
	interactivePage     = "bloom-interactive-page"
	translationGroupSel = ".bloom-translationGroup"
	imageDescriptionSel = ".bloom-imageDescription"
	editableSel         = ".bloom-editable"
	canvasSel           = ".bloom-canvas"
	imageContainerSel   = ".bloom-imageContainer"
	videoContainerSel   = ".bloom-videoContainer"
)

var restrictiveLicenses = map[string]bool{
	"cc-by-nd":    true,
	"cc-by-nc-nd": true,
}

// Analyzer is the parsed form of one book. It is built fresh for every
// harvest attempt and is not safe for concurrent use.
type Analyzer struct {
	doc     *goquery.Document
	bookDir string
	log     logger.Logger

	generatorVersion string
	license          string
	renderMode       string

	language1        string
	language2        string
	language3        string
	signLanguage     string
	country          string
	subscriptionCode string
	branding         string
}

// New parses the book. When bookDir is set, prior collection settings found
// there take priority over values derived from the book itself, and a
// missing render mode is filled in for books from older generators.
func New(html, meta, bookDir string, log logger.Logger) (*Analyzer, error) {
	if log == nil {
		log = logger.NewNop()
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse book markup: %w", err)
	}
	parsed, err := ParseMetadata(meta)
	if err != nil {
		return nil, err
	}

	a := &Analyzer{
		doc:     doc,
		bookDir: bookDir,
		log:     log,
	}
	a.license = strings.ToLower(strings.TrimSpace(parsed.License.OrElse("")))
	a.generatorVersion = version.FromGenerator(doc.Find(`meta[name="Generator"]`).AttrOr("content", ""))

	a.language1 = a.dataBook("contentLanguage1")
	a.language2 = a.dataBook("contentLanguage2")
	a.language3 = a.dataBook("contentLanguage3")
	a.signLanguage = parsed.SignLanguageCode()
	a.country = parsed.Country.OrElse("")
	a.subscriptionCode = parsed.SubscriptionCode.OrElse("")
	a.branding = parsed.BrandingProjectName.OrElse("")

	if bookDir != "" {
		if err := a.applyPriorSettings(); err != nil {
			return nil, err
		}
	}
	if err := a.resolveRenderMode(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Analyzer) dataBook(key string) string {
	sel := a.doc.Find(fmt.Sprintf(`#bloomDataDiv [data-book=%q]`, key)).First()
	return strings.TrimSpace(sel.Text())
}

func (a *Analyzer) applyPriorSettings() error {
	if !version.AtLeast(a.generatorVersion, priorSettingsVersion) {
		return nil
	}
	prior, err := readPriorSettings(a.bookDir)
	if err != nil || prior == nil {
		return err
	}

	override := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	override(&a.language1, prior.Language1Iso639Code)
	override(&a.language2, prior.Language2Iso639Code)
	override(&a.language3, prior.Language3Iso639Code)
	override(&a.signLanguage, prior.SignLanguageCode)
	override(&a.country, prior.Country)
	override(&a.subscriptionCode, prior.SubscriptionCode)
	override(&a.branding, prior.BrandingProjectName)
	return nil
}

func (a *Analyzer) resolveRenderMode() error {
	newGenerator := version.AtLeast(a.generatorVersion, fixedModeVersion)
	if a.bookDir == "" {
		a.renderMode = defaultRenderMode(newGenerator)
		return nil
	}

	path := filepath.Join(a.bookDir, RenderModeFile)
	mode, settings, err := readRenderMode(path)
	if err != nil {
		return err
	}
	if mode != "" {
		a.renderMode = mode
		return nil
	}
	if newGenerator {
		a.renderMode = ModeFixed
		return nil
	}
	if err := writeRenderMode(path, settings, ModeFlowable); err != nil {
		return err
	}
	a.renderMode = ModeFlowable
	return nil
}

func defaultRenderMode(newGenerator bool) string {
	if newGenerator {
		return ModeFixed
	}
	return ModeFlowable
}

// Accessors

func (a *Analyzer) Language1Code() string    { return a.language1 }
func (a *Analyzer) Language2Code() string    { return a.language2 }
func (a *Analyzer) Language3Code() string    { return a.language3 }
func (a *Analyzer) SignLanguageCode() string { return a.signLanguage }
func (a *Analyzer) GeneratorVersion() string { return a.generatorVersion }
func (a *Analyzer) RenderMode() string       { return a.renderMode }
func (a *Analyzer) License() string          { return a.license }

// IsRestrictiveLicense reports whether the license forbids derivatives.
func (a *Analyzer) IsRestrictiveLicense() bool {
	return restrictiveLicenses[a.license]
}

// numberedPages returns the numbered content pages in document order.
func (a *Analyzer) numberedPages() *goquery.Selection {
	return a.doc.Find(pageSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.HasClass(numberedPageClass)
	})
}

// IsEpubSuitable reports whether every numbered page fits the reflowable
// epub layout: at most one image, one text group and one video per page.
func (a *Analyzer) IsEpubSuitable() bool {
	if a.renderMode == ModeFixed && version.AtLeast(a.generatorVersion, fixedModeVersion) {
		return true
	}

	pages := a.numberedPages()
	if pages.Length() == 0 {
		a.log.Info("book has no content pages", logger.Category(models.LogTypeArtifactSuitability))
		return false
	}

	suitable := true
	pages.EachWithBreak(func(i int, page *goquery.Selection) bool {
		if n := outermost(page.Find(canvasSel+", "+imageContainerSel), canvasSel+", "+imageContainerSel).Length(); n > 1 {
			a.log.Info(fmt.Sprintf("page %d has %d images", i+1, n),
				logger.Category(models.LogTypeArtifactSuitability))
			suitable = false
			return false
		}
		if n := a.textGroups(page).Length(); n > 1 {
			a.log.Info(fmt.Sprintf("page %d has %d text groups", i+1, n),
				logger.Category(models.LogTypeArtifactSuitability))
			suitable = false
			return false
		}
		if n := page.Find(videoContainerSel).Length(); n > 1 {
			a.log.Info(fmt.Sprintf("page %d has %d videos", i+1, n),
				logger.Category(models.LogTypeArtifactSuitability))
			suitable = false
			return false
		}
		return true
	})
	return suitable
}

// textGroups returns the page's translation groups that are neither image
// descriptions nor text placed over a picture.
func (a *Analyzer) textGroups(page *goquery.Selection) *goquery.Selection {
	return page.Find(translationGroupSel).FilterFunction(func(_ int, s *goquery.Selection) bool {
		if s.Is(imageDescriptionSel) {
			return false
		}
		return s.ParentsFiltered(canvasSel+", "+imageContainerSel).Length() == 0
	})
}

// outermost drops elements nested inside another element matching selector.
func outermost(sel *goquery.Selection, selector string) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered(selector).Length() == 0
	})
}

// UpdateTags replaces any computedLevel tag with the level computed for this book.
func (a *Analyzer) UpdateTags(tags []string) []string {
	out := make([]string, 0, len(tags)+1)
	for _, tag := range tags {
		if strings.HasPrefix(tag, models.ComputedLevelTag+":") {
			continue
		}
		out = append(out, tag)
	}
	return append(out, fmt.Sprintf("%s:%d", models.ComputedLevelTag, a.ComputeLevel()))
}
