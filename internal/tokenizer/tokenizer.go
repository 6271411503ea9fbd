// Package tokenizer splits book text into words using locale-agnostic
// punctuation rules.
package tokenizer

import (
	"iter"
	"regexp"
	"strings"
	"unicode"
)

var lineBreakTag = regexp.MustCompile(`(?i)<br\s*/?>`)

// formatRunes are zero-width and bidirectional formatting code points that
// separate words even though unicode does not classify all of them as space.
var formatRunes = map[rune]bool{
	'\u200B': true, // zero width space
	'\u200C': true, // zero width non-joiner
	'\u200D': true, // zero width joiner
	'\u200E': true, // left-to-right mark
	'\u200F': true, // right-to-left mark
	'\u202A': true,
	'\u202B': true,
	'\u202C': true,
	'\u202D': true,
	'\u202E': true,
	'\u2060': true, // word joiner
	'\u2066': true,
	'\u2067': true,
	'\u2068': true,
	'\u2069': true,
	'\uFEFF': true, // byte order mark
}

// IsSeparator reports whether r always splits words.
func IsSeparator(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r) || formatRunes[r]
}

func isPunctuation(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// Words yields the words of text in order. Punctuation inside a word is kept
// (can't, 3.14, can-do); punctuation at either end of a word is dropped, and a
// chunk made only of punctuation is not a word. The sequence can be ranged
// over any number of times.
func Words(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		normalized := lineBreakTag.ReplaceAllString(text, "\n")
		for _, chunk := range strings.FieldsFunc(normalized, IsSeparator) {
			word := strings.TrimFunc(chunk, isPunctuation)
			if word == "" {
				continue
			}
			if !yield(word) {
				return
			}
		}
	}
}

// WordCount returns the number of words Words would yield.
func WordCount(text string) int {
	n := 0
	for range Words(text) {
		n++
	}
	return n
}
