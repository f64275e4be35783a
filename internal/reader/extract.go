package reader

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
)

// DefaultBodyCharLimit caps extracted feed bodies.
const DefaultBodyCharLimit = 20000

// blockElements get a paragraph break when fragments are flattened.
var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "br": true, "blockquote": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "pre": true,
}

// ExtractText reduces an HTML feed body to readable plain text. Full pages go
// through readability; short fragments, which readability tends to discard,
// are flattened with goquery.
func ExtractText(rawHTML, pageURL string) (string, error) {
	body := strings.TrimSpace(rawHTML)
	if body == "" {
		return "", nil
	}

	if looksLikeDocument(body) {
		text, err := readableText(body, pageURL)
		if err == nil && text != "" {
			return clip(text), nil
		}
	}

	text, err := fragmentText(body)
	if err != nil {
		return "", err
	}
	return clip(text), nil
}

func readableText(body, pageURL string) (string, error) {
	base := &url.URL{}
	if trimmed := strings.TrimSpace(pageURL); trimmed != "" {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("parse page url: %w", err)
		}
		base = parsed
	}

	article, err := readability.FromReader(strings.NewReader(body), base)
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return "", fmt.Errorf("render readability text: %w", err)
	}

	text := CleanText(rendered.String())
	if text == "" {
		text = CleanText(article.Excerpt())
	}
	return text, nil
}

func fragmentText(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html fragment: %w", err)
	}

	doc.Find("head, script, style, noscript, iframe, template").Remove()

	var b strings.Builder
	writeText(&b, doc.Selection)
	return CleanText(b.String()), nil
}

func writeText(b *strings.Builder, s *goquery.Selection) {
	s.Contents().Each(func(_ int, node *goquery.Selection) {
		name := goquery.NodeName(node)
		switch {
		case name == "#text":
			b.WriteString(node.Text())
		case blockElements[name]:
			b.WriteString("\n")
			writeText(b, node)
			b.WriteString("\n")
		default:
			writeText(b, node)
		}
	})
}

func looksLikeDocument(body string) bool {
	head := strings.ToLower(body[:min(len(body), 512)])
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype") || strings.Contains(head, "<body")
}

func clip(text string) string {
	clipped, _ := TruncateText(text, DefaultBodyCharLimit)
	return clipped
}

// CleanText normalizes line endings, collapses in-line whitespace and keeps
// one blank line between paragraphs.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(line), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.Join(paragraphs, "\n\n")
}

// TruncateText clips text to maxChars runes, ending in an ellipsis when cut.
func TruncateText(raw string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || maxChars <= 0 {
		return trimmed, false
	}

	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed, false
	}
	if maxChars == 1 {
		return "…", true
	}
	return strings.TrimSpace(string(runes[:maxChars-1])) + "…", true
}
