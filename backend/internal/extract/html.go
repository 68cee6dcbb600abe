package extract

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespacePattern = regexp.MustCompile(`[ \t]+`)
var blankLinePattern = regexp.MustCompile(`\n{3,}`)

// HTMLText strips an HTML manual down to its visible text so the extraction
// model sees prose instead of markup
func HTMLText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, nav, header, footer").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, caption, pre").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	})

	text := b.String()
	if strings.TrimSpace(text) == "" {
		text = root.Text()
	}

	text = whitespacePattern.ReplaceAllString(text, " ")
	text = blankLinePattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

// LooksLikeHTML sniffs whether an uploaded manual is HTML rather than plain
// text
func LooksLikeHTML(content []byte) bool {
	head := strings.ToLower(string(content[:min(len(content), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html") || strings.Contains(head, "<body")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
