package parser

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/c360studio/docdelta/fault"
	"github.com/c360studio/docdelta/source"
	"golang.org/x/net/html"
)

// excessiveLinesRe collapses runs of blank lines left by conversion.
var excessiveLinesRe = regexp.MustCompile(`\n{4,}`)

// HTMLParser converts HTML documents to markdown so the chunker can
// operate on a single structural format.
type HTMLParser struct {
	converter *md.Converter
}

// NewHTMLParser creates a new HTML parser.
func NewHTMLParser() *HTMLParser {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &HTMLParser{converter: converter}
}

// Parse converts an HTML document to markdown.
func (p *HTMLParser) Parse(filename string, content []byte) (*source.Document, error) {
	markdown, err := p.converter.ConvertString(string(content))
	if err != nil {
		return nil, fault.NewFormatError("text/html", fmt.Sprintf("convert to markdown: %v", err))
	}

	markdown = cleanMarkdown(markdown)
	if strings.TrimSpace(markdown) == "" {
		return nil, fault.NewFormatError("text/html", "no textual content")
	}

	// Promote the HTML title to a top-level heading when the body lacks one
	if title := extractHTMLTitle(content); title != "" && !strings.HasPrefix(markdown, "# ") {
		markdown = "# " + title + "\n\n" + markdown
	}

	return &source.Document{
		ID:       source.GenerateID(filename, content),
		Filename: filepath.Base(filename),
		Content:  string(content),
		Body:     markdown,
	}, nil
}

// CanParse returns true if this parser can handle the given MIME type.
func (p *HTMLParser) CanParse(mimeType string) bool {
	switch mimeType {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

// MimeType returns the primary MIME type for this parser.
func (p *HTMLParser) MimeType() string {
	return "text/html"
}

// extractHTMLTitle extracts the <title> text from HTML.
func extractHTMLTitle(content []byte) string {
	doc, err := html.Parse(strings.NewReader(string(content)))
	if err != nil {
		return ""
	}

	var title string
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title != "" {
				return
			}
			extract(c)
		}
	}
	extract(doc)

	return title
}

// cleanMarkdown normalizes converter output.
func cleanMarkdown(markdown string) string {
	markdown = excessiveLinesRe.ReplaceAllString(markdown, "\n\n\n")
	return strings.TrimSpace(markdown)
}
