package parser

import (
	"testing"

	"github.com/c360studio/docdelta/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Parse_Markdown(t *testing.T) {
	r := NewRegistry()

	doc, err := r.Parse("requirements.md", "text/markdown", []byte("# Login Flow\n\nUsers authenticate with email."))
	require.NoError(t, err)
	assert.Equal(t, "requirements.md", doc.Filename)
	assert.Equal(t, "text/markdown", doc.MimeType)
	assert.Contains(t, doc.Body, "Login Flow")
	assert.NotEmpty(t, doc.ID)
}

func TestRegistry_Parse_UnsupportedFormat(t *testing.T) {
	r := NewRegistry()

	doc, err := r.Parse("spec.docx", "application/vnd.ms-word", []byte("binary"))
	require.Error(t, err)
	assert.Nil(t, doc, "unsupported format must not return a partial document")
	assert.True(t, fault.IsFormat(err))
}

func TestRegistry_Parse_EmptyDocument(t *testing.T) {
	r := NewRegistry()

	_, err := r.Parse("empty.md", "text/markdown", []byte("  \n\t"))
	require.Error(t, err)
	assert.True(t, fault.IsFormat(err))
}

func TestRegistry_Parse_FallsBackToExtension(t *testing.T) {
	r := NewRegistry()

	doc, err := r.Parse("notes.md", "", []byte("# Notes\n\ncontent"))
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", doc.MimeType)
}

func TestRegistry_GetByMimeType(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		mimeType string
		want     string
	}{
		{"text/markdown", "text/markdown"},
		{"text/x-markdown", "text/markdown"},
		{"text/plain", "text/plain"},
		{"text/html", "text/html"},
	}

	for _, tc := range tests {
		t.Run(tc.mimeType, func(t *testing.T) {
			p := r.GetByMimeType(tc.mimeType)
			require.NotNil(t, p)
			assert.Equal(t, tc.want, p.MimeType())
		})
	}

	assert.Nil(t, r.GetByMimeType("application/pdf"))
}
