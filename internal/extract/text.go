// Package extract converts raw page content into normalized text and
// classifies it into the evidence taxonomy.
package extract

import (
	"bytes"
	stdhtml "html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockTags mark structural boundaries converted to line breaks so that
// downstream section scanning (e.g. changelog dates) sees one unit per line.
var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "header": {}, "footer": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"li": {}, "ul": {}, "ol": {}, "table": {}, "tr": {}, "br": {}, "hr": {},
	"blockquote": {}, "pre": {}, "dt": {}, "dd": {},
}

var skipTags = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {}, "svg": {}, "iframe": {},
}

// Text strips script/style/comment blocks, converts block boundaries to line
// breaks, decodes entities, and collapses whitespace. It never fails on
// malformed input; when parsing breaks down it falls back to a best-effort
// tag strip of the raw bytes.
func Text(raw []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return fallbackStrip(raw)
	}
	var sb strings.Builder
	root := doc.Selection
	if body := doc.Find("body"); body.Length() > 0 {
		root = body
	}
	for _, node := range root.Nodes {
		renderText(node, &sb)
	}
	return collapseWhitespace(sb.String())
}

// Title returns the best-effort <title> text, empty when absent.
func Title(raw []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(collapseWhitespace(doc.Find("title").First().Text()))
}

// Truncate caps s at max characters. It reports whether truncation occurred.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	return s[:max], true
}

func renderText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if _, skip := skipTags[n.Data]; skip {
			return
		}
	}
	_, block := blockTags[n.Data]
	if block {
		sb.WriteByte('\n')
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderText(child, sb)
	}
	if block {
		sb.WriteByte('\n')
	}
}

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</\s*(script|style|noscript)\s*>`)
	commentRe     = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockBreakRe  = regexp.MustCompile(`(?i)</?(p|div|section|article|h[1-6]|li|ul|ol|table|tr|br|hr|blockquote|pre)[^>]*>`)
	anyTagRe      = regexp.MustCompile(`<[^>]*>`)
)

func fallbackStrip(raw []byte) string {
	text := string(raw)
	text = scriptBlockRe.ReplaceAllString(text, " ")
	text = commentRe.ReplaceAllString(text, " ")
	text = blockBreakRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, " ")
	text = stdhtml.UnescapeString(text)
	return collapseWhitespace(text)
}

var (
	spaceRunRe = regexp.MustCompile(`[ \t\r\f\v]+`)
	lineRunRe  = regexp.MustCompile(`\n{2,}`)
)

func collapseWhitespace(s string) string {
	s = spaceRunRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = lineRunRe.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
