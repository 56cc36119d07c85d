// Package parser provides document parsing functionality.
package parser

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/c360studio/docdelta/fault"
	"github.com/c360studio/docdelta/source"
)

// Parser defines the interface for document parsers.
type Parser interface {
	// Parse parses a document and returns structured data.
	Parse(filename string, content []byte) (*source.Document, error)

	// CanParse returns true if this parser handles the given MIME type.
	CanParse(mimeType string) bool

	// MimeType returns the primary MIME type for this parser.
	MimeType() string
}

// Registry manages document parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser // keyed by primary MIME type
}

// DefaultRegistry is the global parser registry with default parsers.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new parser registry with default parsers.
func NewRegistry() *Registry {
	r := &Registry{
		parsers: make(map[string]Parser),
	}

	r.Register(NewMarkdownParser())
	r.Register(NewPlainTextParser())
	r.Register(NewHTMLParser())

	return r
}

// Register adds a parser to the registry.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.MimeType()] = p
}

// GetByMimeType returns a parser for the given MIME type, or nil.
func (r *Registry) GetByMimeType(mimeType string) Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.parsers[mimeType]; ok {
		return p
	}

	for _, p := range r.parsers {
		if p.CanParse(mimeType) {
			return p
		}
	}

	return nil
}

// GetByExtension returns a parser for a file based on its extension, or nil.
func (r *Registry) GetByExtension(filename string) Parser {
	ext := strings.ToLower(filepath.Ext(filename))
	return r.GetByMimeType(mimeTypeForExtension(ext))
}

// Parse parses a document with the parser matching its declared MIME
// type. An unknown MIME type or empty content returns a FormatError,
// never a partial document.
func (r *Registry) Parse(filename, mimeType string, content []byte) (*source.Document, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, fault.NewFormatError(mimeType, "document is empty")
	}

	p := r.GetByMimeType(mimeType)
	if p == nil && filename != "" {
		p = r.GetByExtension(filename)
	}
	if p == nil {
		return nil, fault.NewFormatError(mimeType, "no parser registered")
	}

	doc, err := p.Parse(filename, content)
	if err != nil {
		return nil, err
	}
	doc.MimeType = p.MimeType()
	return doc, nil
}

// mimeTypeForExtension maps file extensions to MIME types.
func mimeTypeForExtension(ext string) string {
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	default:
		return ""
	}
}
