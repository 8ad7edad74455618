package replies

import (
	"html"
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"
	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy   = bluemonday.StrictPolicy()
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// plainText converts a Mastodon HTML reply body to readable plain text.
// When html2text chokes on the input, a strict bluemonday strip is used as
// fallback so callers always get something displayable.
func plainText(htmlContent string) string {
	text, err := html2text.FromString(htmlContent, html2text.Options{PrettyTables: false})
	if err != nil {
		text = stripPolicy.Sanitize(htmlContent)
	}
	text = html.UnescapeString(text)
	text = multiNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// snippet shortens a reply body to a preview of at most n runes.
func snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
