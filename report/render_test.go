package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/docdelta/llm"
	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/task"
)

func sampleReport() *Report {
	tk := task.New(source.Document{ID: "doc.req.abc", Filename: "req.md", Version: "v2"})
	return Assemble(tk, sampleAnalysis(), &llm.Elaboration{
		Summary:         "登录流程有实质变化。",
		Recommendations: []string{"通知客户端团队", "更新验收用例"},
	})
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("Markdown")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestGetFormatInfo(t *testing.T) {
	info, ok := GetFormatInfo(FormatJSON)
	require.True(t, ok)
	assert.Equal(t, "application/json", info.MIMEType)
	assert.Equal(t, ".json", info.Extension)

	_, ok = GetFormatInfo(Format("csv"))
	assert.False(t, ok)
}

func TestRenderJSON(t *testing.T) {
	out, err := Render(sampleReport(), FormatJSON)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "doc.req.abc", decoded.Document.ID)
	assert.Equal(t, 1, decoded.Totals.Deleted)
}

func TestRenderMarkdown(t *testing.T) {
	out, err := Render(sampleReport(), FormatMarkdown)
	require.NoError(t, err)
	md := string(out)

	assert.Contains(t, md, "# Change Analysis Report")
	assert.Contains(t, md, "## Totals")
	assert.Contains(t, md, "## New")
	assert.Contains(t, md, "## Deleted")
	assert.Contains(t, md, "removed: 手动审批功能")
	assert.Contains(t, md, "## Unclassified")
	assert.Contains(t, md, "报表 (capability): embed failed")
	assert.Contains(t, md, "## Assessment")
	assert.Contains(t, md, "通知客户端团队")

	// Unchanged records never get their own section.
	assert.NotContains(t, md, "## Unchanged")
}

func TestRenderText(t *testing.T) {
	out, err := Render(sampleReport(), FormatText)
	require.NoError(t, err)
	text := string(out)

	assert.Contains(t, text, "doc.req.abc v2: 1 new, 1 modified, 1 deleted, 2 unchanged, 1 unclassified")
	assert.Contains(t, text, "[deleted] 手动审批")
	assert.Contains(t, text, "登录流程有实质变化。")
	assert.NotContains(t, text, "[unchanged]")
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := Render(sampleReport(), Format("csv"))
	assert.Error(t, err)
}
