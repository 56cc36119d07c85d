package parser

import (
	"path/filepath"

	"github.com/c360studio/docdelta/source"
)

// PlainTextParser parses plain text documents.
type PlainTextParser struct{}

// NewPlainTextParser creates a new plain text parser.
func NewPlainTextParser() *PlainTextParser {
	return &PlainTextParser{}
}

// Parse wraps plain text content into a document.
func (p *PlainTextParser) Parse(filename string, content []byte) (*source.Document, error) {
	return &source.Document{
		ID:       source.GenerateID(filename, content),
		Filename: filepath.Base(filename),
		Content:  string(content),
		Body:     string(content),
	}, nil
}

// CanParse returns true if this parser can handle the given MIME type.
func (p *PlainTextParser) CanParse(mimeType string) bool {
	return mimeType == "text/plain"
}

// MimeType returns the primary MIME type for this parser.
func (p *PlainTextParser) MimeType() string {
	return "text/plain"
}
