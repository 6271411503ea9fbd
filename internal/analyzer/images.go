package analyzer

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const placeholderImage = "placeholder.png"

var backgroundURL = regexp.MustCompile(`background-image\s*:\s*url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// ImagesForFingerprint picks the images that identify the book's content.
// Tiers are tried in order and the first non-empty one wins:
// images on content pages, background images on content pages, then the
// same two on the front cover.
func (a *Analyzer) ImagesForFingerprint() []string {
	content := a.numberedPages().FilterFunction(func(_ int, s *goquery.Selection) bool {
		_, activity := s.Attr("data-activity")
		return !s.HasClass(interactivePage) && !activity
	})
	cover := a.doc.Find(pageSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.HasClass(frontCoverClass)
	})

	for _, pages := range []*goquery.Selection{content, cover} {
		if images := directImages(pages); len(images) > 0 {
			return images
		}
		if images := backgroundImages(pages); len(images) > 0 {
			return images
		}
	}
	return nil
}

func directImages(pages *goquery.Selection) []string {
	for _, container := range []string{canvasSel, imageContainerSel} {
		var images []string
		pages.Find(container + " > img").Each(func(_ int, img *goquery.Selection) {
			if src := cleanImageURL(img.AttrOr("src", "")); src != "" {
				images = append(images, src)
			}
		})
		if len(images) > 0 {
			return images
		}
	}
	return nil
}

func backgroundImages(pages *goquery.Selection) []string {
	for _, container := range []string{canvasSel, imageContainerSel} {
		var images []string
		pages.Find(container).Each(func(_ int, c *goquery.Selection) {
			m := backgroundURL.FindStringSubmatch(c.AttrOr("style", ""))
			if m == nil {
				return
			}
			if src := cleanImageURL(m[1]); src != "" {
				images = append(images, src)
			}
		})
		if len(images) > 0 {
			return images
		}
	}
	return nil
}

// cleanImageURL decodes an image reference, returning "" for placeholders.
func cleanImageURL(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	if decoded, err := url.PathUnescape(src); err == nil {
		src = decoded
	}
	if strings.EqualFold(path.Base(src), placeholderImage) {
		return ""
	}
	return src
}
