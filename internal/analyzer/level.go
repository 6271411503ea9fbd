package analyzer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/feichai0017/book-harvester/internal/tokenizer"
)

// LevelForWordCount maps the busiest page's word count to a reading level.
func LevelForWordCount(n int) int {
	switch {
	case n <= 10:
		return 1
	case n <= 25:
		return 2
	case n <= 50:
		return 3
	default:
		return 4
	}
}

// ComputeLevel returns the reading level of the book: the largest number of
// language-1 words on any numbered page, image descriptions excluded and
// text over pictures included.
func (a *Analyzer) ComputeLevel() int {
	return LevelForWordCount(a.maxWordsPerPage())
}

func (a *Analyzer) maxWordsPerPage() int {
	most := 0
	a.numberedPages().Each(func(_ int, page *goquery.Selection) {
		words := 0
		a.pageEditables(page).Each(func(_ int, ed *goquery.Selection) {
			words += tokenizer.WordCount(editableText(ed))
		})
		most = max(most, words)
	})
	return most
}

func (a *Analyzer) pageEditables(page *goquery.Selection) *goquery.Selection {
	if a.language1 == "" {
		return page.Find(editableSel).Slice(0, 0)
	}
	return page.Find(editableSel).FilterFunction(func(_ int, s *goquery.Selection) bool {
		if lang, _ := s.Attr("lang"); lang != a.language1 {
			return false
		}
		return s.ParentsFiltered(imageDescriptionSel).Length() == 0
	})
}

// editableText flattens an editable region, turning line breaks and block
// boundaries into newlines so that words on either side stay apart.
func editableText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		collectText(n, &b)
	}
	return b.String()
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "br":
			b.WriteByte('\n')
			return
		case "script", "style":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
	if n.Type == html.ElementNode && isBlock(n.Data) {
		b.WriteByte('\n')
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}
