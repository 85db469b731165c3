// Package layout talks to the external page-layout detection service.
package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/llm"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
)

// PubLayNet class ids as returned by the detector service.
const (
	ClassText = iota
	ClassTitle
	ClassList
	ClassTable
	ClassFigure
)

// Region is one detected layout block in raster pixel coordinates.
type Region struct {
	Class int         `json:"class"`
	Label string      `json:"label,omitempty"`
	BBox  domain.BBox `json:"-"`
	Score float64     `json:"score"`
}

// UnmarshalJSON accepts bbox as [x0, y0, x1, y1].
func (r *Region) UnmarshalJSON(data []byte) error {
	type alias Region
	var raw struct {
		alias
		BBox []float64 `json:"bbox"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Region(raw.alias)
	if len(raw.BBox) == 4 {
		r.BBox = domain.BBox{X0: raw.BBox[0], Y0: raw.BBox[1], X1: raw.BBox[2], Y1: raw.BBox[3]}
	}
	return nil
}

// Detector finds layout regions in a rendered page.
type Detector interface {
	Detect(ctx context.Context, png []byte) ([]Region, error)
}

// NoopDetector finds nothing. It is used when no service is configured.
type NoopDetector struct{}

func (NoopDetector) Detect(ctx context.Context, png []byte) ([]Region, error) {
	return nil, nil
}

// Client posts page rasters to a detection endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	retry      llm.RetryConfig
	logger     *observability.Logger
}

type detectResponse struct {
	Regions []Region `json:"regions"`
}

// NewClient creates a detector client for url. A zero timeout means 60s.
func NewClient(url string, timeout time.Duration, logger *observability.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      llm.DefaultRetryConfig(),
		logger:     logger,
	}
}

// New returns a Client when url is set, otherwise a NoopDetector.
func New(url string, timeout time.Duration, logger *observability.Logger) Detector {
	if url == "" {
		return NoopDetector{}
	}
	return NewClient(url, timeout, logger)
}

// Detect sends png and decodes the returned regions.
func (c *Client) Detect(ctx context.Context, png []byte) ([]Region, error) {
	resp, err := llm.SendWithRetry(ctx, c.retry, c.logger, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/detect", bytes.NewReader(png))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "image/png")
		req.Header.Set("Accept", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, domain.TransportError("layout detection request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.TransportError(fmt.Sprintf("layout detector returned status %d: %s", resp.StatusCode, body), nil)
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.TransportError("failed to decode layout response", err)
	}
	return out.Regions, nil
}
