package weburl

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "valid https URL", url: "https://go.dev/doc/effective_go", wantErr: false},
		{name: "http URL rejected", url: "http://example.com", wantErr: true},
		{name: "localhost rejected", url: "https://localhost:8080", wantErr: true},
		{name: "127.0.0.1 rejected", url: "https://127.0.0.1/path", wantErr: true},
		{name: ".local domain rejected", url: "https://myserver.local/api", wantErr: true},
		{name: ".internal domain rejected", url: "https://app.internal/api", wantErr: true},
		{name: "private IP 192.168.x.x rejected", url: "https://192.168.1.1/path", wantErr: true},
		{name: "private IP 10.x.x.x rejected", url: "https://10.0.0.1/path", wantErr: true},
		{name: "private IP 172.16.x.x rejected", url: "https://172.16.0.1/path", wantErr: true},
		{name: "IPv6 loopback rejected", url: "https://[::1]/path", wantErr: true},
		{name: "CGNAT range rejected", url: "https://100.64.0.1/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.1", true},
		{"172.16.5.5", true},
		{"100.64.0.1", true},
		{"169.254.1.1", true},
		{"::1", true},
		{"fe80::1", true},
		{"fc00::1", true},
		{"::ffff:192.168.1.1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			assert.NotNil(t, ip)
			assert.Equal(t, tt.private, IsPrivateIP(ip))
		})
	}
}

func TestGenerateDocumentID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "domain and path", url: "https://docs.example.com/specs/v2", want: "doc.web.docs-example-com-specs-v2"},
		{name: "domain only", url: "https://example.com", want: "doc.web.example-com"},
		{name: "trailing slash", url: "https://example.com/page/", want: "doc.web.example-com-page"},
		{name: "uppercase lowered", url: "https://Example.COM/Page", want: "doc.web.example-com-page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateDocumentID(tt.url)
			assert.Equal(t, tt.want, got)
			assert.True(t, ValidateDocumentID(got))
		})
	}
}

func TestGenerateDocumentIDLongPath(t *testing.T) {
	long := "https://example.com/"
	for i := 0; i < 20; i++ {
		long += "segment/"
	}
	id := GenerateDocumentID(long)
	assert.LessOrEqual(t, len(id), len("doc.web.")+80)
	assert.True(t, ValidateDocumentID(id))
}

func TestValidateDocumentID(t *testing.T) {
	assert.True(t, ValidateDocumentID("doc.web.example-com"))
	assert.False(t, ValidateDocumentID("doc.req.example"))
	assert.False(t, ValidateDocumentID("doc.web."))
	assert.False(t, ValidateDocumentID("doc.web.UPPER"))
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "docs.example.com", ExtractDomain("https://docs.example.com/page"))
	assert.Equal(t, "", ExtractDomain("://bad"))
}
