// Package chunker splits documents into ordered, titled content blocks
// for change analysis.
package chunker

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/c360studio/docdelta/source"
)

// charsPerToken is the approximate average characters per token for GPT tokenizers.
const charsPerToken = 4

// numberedHeadingRe matches numbered section lines like "1.", "2.3" or
// "3) Title". Long lines are excluded separately to avoid treating list
// prose as headings.
var numberedHeadingRe = regexp.MustCompile(`^\s*\d+(\.\d+)*[.)]?\s+\S`)

// cjkChapterRe matches Chinese chapter/section headings like "第三章" or
// "第1节".
var cjkChapterRe = regexp.MustCompile(`^\s*第[0-9一二三四五六七八九十百]+[章节篇部]`)

// maxHeadingLen is the longest line still considered a numbered heading.
const maxHeadingLen = 80

// Config holds chunking configuration.
type Config struct {
	// MaxTokens is the maximum chunk size. Sections above it are split
	// at paragraph boundaries.
	MaxTokens int
}

// DefaultConfig returns sensible chunking defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens: 1500,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("MaxTokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}

// ImageSaver stores extracted inline images. Implemented by
// artifact.Store.
type ImageSaver interface {
	SaveDataURI(documentID, name, dataURI string) (string, error)
}

// Chunker splits documents into structural chunks.
type Chunker struct {
	config Config
	images ImageSaver
	logger *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithImageSaver enables inline image extraction to the given store.
func WithImageSaver(s ImageSaver) Option {
	return func(c *Chunker) {
		c.images = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) {
		c.logger = logger
	}
}

// New creates a new Chunker with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config, opts ...Option) (*Chunker, error) {
	if cfg.MaxTokens == 0 {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Chunker{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewDefault creates a Chunker with default configuration.
func NewDefault() *Chunker {
	c, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// Chunk splits a document body into ordered, titled chunks. Inline
// image references are replaced with placeholder tokens first, so every
// chunk carries only text plus its image reference list.
func (c *Chunker) Chunk(doc *source.Document) ([]source.Chunk, error) {
	if doc == nil || strings.TrimSpace(doc.Body) == "" {
		return nil, fmt.Errorf("document has no body")
	}

	body, refs := c.extractImages(doc.ID, doc.Body)

	sections := parseSections(body)

	var chunks []source.Chunk
	for _, sec := range sections {
		if strings.TrimSpace(sec.Content) == "" {
			continue
		}

		if c.estimateTokens(sec.Content) > c.config.MaxTokens {
			for _, part := range c.splitLargeSection(sec) {
				chunks = append(chunks, c.finalizeChunk(doc.ID, sec.Heading, part, len(chunks), refs))
			}
			continue
		}

		chunks = append(chunks, c.finalizeChunk(doc.ID, sec.Heading, sec.Content, len(chunks), refs))
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("document produced no chunks")
	}

	return chunks, nil
}

// section represents a document section (heading + content).
type section struct {
	Heading string
	Content string
	Level   int // heading level, 0 for no heading
}

// parseSections extracts sections from the body. Markdown headings and
// numbered section lines open a new section; documents without any
// structural boundary fall back to paragraph sections.
func parseSections(content string) []section {
	lines := strings.Split(content, "\n")
	var sections []section
	var current section
	inCodeBlock := false
	sawBoundary := false

	for _, line := range lines {
		// Track code blocks to avoid splitting inside them
		if isCodeFence(line) {
			inCodeBlock = !inCodeBlock
		}

		if !inCodeBlock && isBoundary(line) {
			sawBoundary = true
			if strings.TrimSpace(current.Content) != "" {
				sections = append(sections, current)
			}

			level, heading := parseBoundary(line)
			current = section{
				Heading: heading,
				Level:   level,
				Content: line,
			}
			continue
		}

		if current.Content != "" {
			current.Content += "\n"
		}
		current.Content += line
	}

	if strings.TrimSpace(current.Content) != "" {
		sections = append(sections, current)
	}

	if !sawBoundary {
		return paragraphSections(content)
	}

	return sections
}

// paragraphSections splits unstructured content at blank lines.
func paragraphSections(content string) []section {
	var sections []section
	for _, para := range splitIntoParagraphs(content) {
		sections = append(sections, section{Content: para})
	}
	return sections
}

// splitLargeSection splits an oversized section at paragraph boundaries.
func (c *Chunker) splitLargeSection(sec section) []string {
	var parts []string
	var current string

	for _, para := range splitIntoParagraphs(sec.Content) {
		if current != "" && c.estimateTokens(current)+c.estimateTokens(para) > c.config.MaxTokens {
			parts = append(parts, current)
			current = ""
		}
		if current != "" {
			current += "\n\n"
		}
		current += para
	}

	if strings.TrimSpace(current) != "" {
		parts = append(parts, current)
	}

	return parts
}

// splitIntoParagraphs splits content by blank lines, preserving code blocks.
func splitIntoParagraphs(content string) []string {
	var paragraphs []string
	var current strings.Builder
	inCodeBlock := false
	lastWasEmpty := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if isCodeFence(trimmed) {
			inCodeBlock = !inCodeBlock
		}

		if !inCodeBlock && trimmed == "" {
			if !lastWasEmpty && current.Len() > 0 {
				paragraphs = append(paragraphs, strings.TrimSpace(current.String()))
				current.Reset()
			}
			lastWasEmpty = true
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
			lastWasEmpty = false
		}
	}

	if current.Len() > 0 {
		paragraphs = append(paragraphs, strings.TrimSpace(current.String()))
	}

	return paragraphs
}

// finalizeChunk builds a chunk and attaches the image refs whose
// placeholders appear in its content.
func (c *Chunker) finalizeChunk(documentID, title, content string, index int, refs []source.ImageRef) source.Chunk {
	chunk := source.Chunk{
		DocumentID: documentID,
		Index:      index,
		Title:      title,
		Content:    content,
		TokenCount: c.estimateTokens(content),
	}

	for _, ref := range refs {
		if strings.Contains(content, ref.Placeholder) {
			chunk.Images = append(chunk.Images, ref)
		}
	}

	return chunk
}

// estimateTokens estimates token count using the chars/token heuristic.
func (c *Chunker) estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + charsPerToken - 1) / charsPerToken
}

// isCodeFence checks if a line is a code fence (``` or ~~~).
func isCodeFence(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// isBoundary checks if a line opens a new structural section.
func isBoundary(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		return true
	}
	if len(trimmed) > maxHeadingLen {
		return false
	}
	return numberedHeadingRe.MatchString(trimmed) || cjkChapterRe.MatchString(trimmed)
}

// parseBoundary extracts the level and title text from a boundary line.
func parseBoundary(line string) (int, string) {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, "#") {
		level := 0
		for _, ch := range trimmed {
			if ch == '#' {
				level++
			} else {
				break
			}
		}
		if level > 6 {
			level = 6
		}
		return level, strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	}

	// Numbered headings keep their numbering as part of the title
	return 0, trimmed
}
