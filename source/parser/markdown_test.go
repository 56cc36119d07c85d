package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownParser_Frontmatter(t *testing.T) {
	p := NewMarkdownParser()

	content := `---
version: v3
author: product-team
---
# Payment Requirements

The payment flow supports refunds.
`

	doc, err := p.Parse("payments.md", []byte(content))
	require.NoError(t, err)
	assert.True(t, doc.HasFrontmatter())
	assert.Equal(t, "v3", doc.Version)
	assert.Equal(t, "product-team", doc.Frontmatter["author"])
	assert.NotContains(t, doc.Body, "author:")
	assert.Contains(t, doc.Body, "# Payment Requirements")
}

func TestMarkdownParser_NoFrontmatter(t *testing.T) {
	p := NewMarkdownParser()

	doc, err := p.Parse("plain.md", []byte("# Title\n\nbody"))
	require.NoError(t, err)
	assert.False(t, doc.HasFrontmatter())
	assert.Equal(t, doc.Content, doc.Body)
}

func TestMarkdownParser_MalformedFrontmatter(t *testing.T) {
	p := NewMarkdownParser()

	// Missing closing delimiter: whole content becomes the body
	content := "---\nversion: v1\n# Heading\n\ntext"
	doc, err := p.Parse("broken.md", []byte(content))
	require.NoError(t, err)
	assert.False(t, doc.HasFrontmatter())
	assert.Equal(t, content, doc.Body)
}

func TestMarkdownParser_StableID(t *testing.T) {
	p := NewMarkdownParser()

	a, err := p.Parse("doc.md", []byte("same content"))
	require.NoError(t, err)
	b, err := p.Parse("doc.md", []byte("same content"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	c, err := p.Parse("doc.md", []byte("different content"))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}
