package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/llm"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
)

// Downloader fetches a job's source document to a local path.
type Downloader interface {
	Download(ctx context.Context, rawURL, dest string) error
}

// HTTPDownloader downloads over HTTP(S), retrying 429 and 5xx responses.
type HTTPDownloader struct {
	client   *http.Client
	maxBytes int64
	retry    llm.RetryConfig
	logger   *observability.Logger
}

// NewHTTPDownloader creates a downloader. A non-positive maxBytes disables
// the size limit.
func NewHTTPDownloader(timeout time.Duration, maxBytes int64, logger *observability.Logger) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDownloader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		retry:    llm.DefaultRetryConfig(),
		logger:   logger,
	}
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, domain.ValidationError(fmt.Sprintf("malformed url %q", rawURL), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, domain.ValidationError(fmt.Sprintf("unsupported url scheme %q", u.Scheme), nil)
	}
	if u.Host == "" {
		return nil, domain.ValidationError(fmt.Sprintf("url %q has no host", rawURL), nil)
	}
	return u, nil
}

func (d *HTTPDownloader) Download(ctx context.Context, rawURL, dest string) error {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return err
	}

	resp, err := llm.SendWithRetry(ctx, d.retry, d.logger, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		return d.client.Do(req)
	})
	if err != nil {
		return domain.TransportError("download "+u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.TransportError(fmt.Sprintf("download %s: status %d", u.Redacted(), resp.StatusCode), nil)
	}

	f, err := os.Create(dest)
	if err != nil {
		return domain.IOError("create download file", err)
	}
	defer f.Close()

	var body io.Reader = resp.Body
	if d.maxBytes > 0 {
		body = io.LimitReader(resp.Body, d.maxBytes+1)
	}
	n, err := io.Copy(f, body)
	if err != nil {
		return domain.TransportError("read download body", err)
	}
	if d.maxBytes > 0 && n > d.maxBytes {
		return domain.ValidationError(fmt.Sprintf("document exceeds %d bytes", d.maxBytes), nil)
	}
	return f.Close()
}
