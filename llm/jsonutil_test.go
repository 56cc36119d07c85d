package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string // expected key in the parsed object
		wantErr bool
	}{
		{
			name:    "plain JSON",
			input:   `{"type": "modified"}`,
			wantKey: "type",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"type\": \"new\"}\n```",
			wantKey: "type",
		},
		{
			name:    "block with trailing prose",
			input:   "```json\n{\"type\": \"deleted\"}\n```\n\nThe section was removed.",
			wantKey: "type",
		},
		{
			name:    "JS comments and trailing commas",
			input:   "```json\n{\n  \"items\": [\n    \"refund window shortened\",  // changed SLA\n    \"approval step dropped\",\n  ]\n}\n```",
			wantKey: "items",
		},
		{
			name:    "URL in string not stripped",
			input:   `{"reason": "endpoint moved to https://api.example.com/v2"}`,
			wantKey: "reason",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no JSON at all",
			input:   "The section appears unchanged.",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ExtractJSON(tc.input)
			if tc.wantErr {
				assert.Empty(t, result)
				return
			}

			require.NotEmpty(t, result)
			var parsed map[string]any
			require.NoError(t, json.Unmarshal([]byte(result), &parsed), "extracted JSON must parse: %s", result)
			assert.Contains(t, parsed, tc.wantKey)
		})
	}
}

func TestStripLineComment(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"a": 1, // note`, `"a": 1,`},
		{`"url": "http://x/y" // note`, `"url": "http://x/y"`},
		{`"url": "http://x/y"`, `"url": "http://x/y"`},
		{`no comment here`, `no comment here`},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, stripLineComment(tc.input))
	}
}
