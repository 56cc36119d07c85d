package webfetch

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := NewFetcher(DefaultConfig(), nil)
	require.NoError(t, err)
	return f
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Timeout = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxContentSize = 0
	assert.Error(t, bad.Validate())
}

func TestFetchRejectsUnsafeURLs(t *testing.T) {
	f := newTestFetcher(t)
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
	}{
		{name: "http scheme", url: "http://example.com/spec"},
		{name: "localhost", url: "https://localhost:8443/spec"},
		{name: "private IP", url: "https://10.0.0.5/spec"},
		{name: "local domain", url: "https://wiki.internal/spec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Fetch(ctx, tt.url)
			assert.Error(t, err)
		})
	}
}

func TestConvertArticle(t *testing.T) {
	f := newTestFetcher(t)
	pageURL, err := url.Parse("https://docs.example.com/specs/orders")
	require.NoError(t, err)

	page := `<!DOCTYPE html>
<html>
<head><title>订单导出规格</title></head>
<body>
<nav><a href="/">首页</a></nav>
<article>
<h2>导出流程</h2>
<p>用户在订单列表页点击导出按钮，系统生成 CSV 文件。</p>
<p>导出任务在后台执行，完成后通过邮件通知。</p>
</article>
<footer>版权所有</footer>
</body>
</html>`

	title, markdown, err := f.convert([]byte(page), pageURL)
	require.NoError(t, err)

	assert.Equal(t, "订单导出规格", title)
	assert.True(t, strings.HasPrefix(markdown, "# 订单导出规格"), "title promoted to heading, got %q", markdown)
	assert.Contains(t, markdown, "导出流程")
	assert.Contains(t, markdown, "CSV")
	assert.NotContains(t, markdown, "<p>")
}

func TestConvertPlainHTMLFallback(t *testing.T) {
	f := newTestFetcher(t)
	pageURL, err := url.Parse("https://docs.example.com/raw")
	require.NoError(t, err)

	_, markdown, err := f.convert([]byte("<h1>标题</h1><p>正文内容。</p>"), pageURL)
	require.NoError(t, err)
	assert.Contains(t, markdown, "标题")
	assert.Contains(t, markdown, "正文内容")
}
