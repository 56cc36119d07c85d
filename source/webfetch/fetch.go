// Package webfetch retrieves web pages as markdown documents: an
// SSRF-guarded HTTP fetch, readability extraction of the main article,
// and HTML to markdown conversion.
package webfetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"

	"github.com/c360studio/docdelta/source"
	"github.com/c360studio/docdelta/source/weburl"
)

// Config holds fetcher tuning.
type Config struct {
	// Timeout bounds one fetch, headers included.
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent is sent on every request.
	UserAgent string `yaml:"user_agent"`

	// MaxContentSize rejects pages larger than this many bytes.
	MaxContentSize int64 `yaml:"max_content_size"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		UserAgent:      "docdelta/1.0",
		MaxContentSize: 5 << 20, // 5 MiB
	}
}

// Validate checks config invariants.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxContentSize <= 0 {
		return fmt.Errorf("max_content_size must be positive, got %d", c.MaxContentSize)
	}
	return nil
}

// Fetcher fetches web pages and converts them to markdown documents.
type Fetcher struct {
	cfg       Config
	client    *http.Client
	converter *md.Converter
	logger    *slog.Logger
}

// NewFetcher creates a fetcher. Resolved IPs are validated on dial to
// prevent DNS rebinding attacks.
func NewFetcher(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webfetch config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	safeDialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}

		for _, ipAddr := range ips {
			if weburl.IsPrivateIP(ipAddr.IP) {
				return nil, fmt.Errorf("connection to private IP %s is not allowed", ipAddr.IP)
			}
		}

		for _, ipAddr := range ips {
			connAddr := net.JoinHostPort(ipAddr.IP.String(), port)
			conn, err := dialer.DialContext(ctx, network, connAddr)
			if err == nil {
				return conn, nil
			}
		}

		return nil, fmt.Errorf("failed to connect to any resolved IP")
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           safeDialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
			},
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				if err := weburl.ValidateURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		converter: converter,
		logger:    logger.With("component", "webfetch"),
	}, nil
}

// Fetch retrieves the page and returns it as a markdown document ready
// for the parsing stage.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*source.Document, error) {
	if err := weburl.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	body, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	_, markdown, err := f.convert(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("convert page: %w", err)
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("page has no extractable content")
	}

	id := weburl.GenerateDocumentID(rawURL)
	return &source.Document{
		ID:          id,
		Filename:    strings.TrimPrefix(id, "doc.web.") + ".md",
		MimeType:    "text/markdown",
		Content:     markdown,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// get performs the HTTP request with the size limit applied.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxContentSize {
		return nil, fmt.Errorf("content too large (exceeds %d bytes)", f.cfg.MaxContentSize)
	}
	return body, nil
}

// convert extracts the main article and renders it as markdown. The
// page title is promoted to a top-level heading when the article body
// has none of its own.
func (f *Fetcher) convert(body []byte, pageURL *url.URL) (string, string, error) {
	content := string(body)
	title := ""

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		f.logger.Debug("readability extraction failed, converting full page",
			"url", pageURL.String(), "error", err)
	} else {
		title = strings.TrimSpace(article.Title)
		if strings.TrimSpace(article.Content) != "" {
			content = article.Content
		}
	}

	markdown, err := f.converter.ConvertString(content)
	if err != nil {
		return "", "", err
	}
	markdown = strings.TrimSpace(markdown)

	if title != "" && !strings.HasPrefix(markdown, "# ") {
		markdown = "# " + title + "\n\n" + markdown
	}
	return title, markdown, nil
}
