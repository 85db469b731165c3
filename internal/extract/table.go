package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/config"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/layout"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/pdf"
)

var (
	emailPattern       = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	affiliationPattern = regexp.MustCompile(`(?m)^\s*[\d*\x{2020}\x{2021}\x{00A7}]{1,2}\s*[A-Z][a-z]+`)
)

// TableExtractor crops table regions found by the layout detector.
type TableExtractor struct {
	logger   *observability.Logger
	dedup    *AssetDeduplicator
	writer   *AssetWriter
	detector layout.Detector
	policy   config.TablePolicy
	dpi      float64
}

// NewTableExtractor creates a table extractor rendering pages at dpi.
func NewTableExtractor(logger *observability.Logger, dedup *AssetDeduplicator, writer *AssetWriter, detector layout.Detector, policy config.TablePolicy, dpi float64) *TableExtractor {
	if dpi <= 0 {
		dpi = 144
	}
	return &TableExtractor{
		logger:   logger,
		dedup:    dedup,
		writer:   writer,
		detector: detector,
		policy:   policy,
		dpi:      dpi,
	}
}

func (e *TableExtractor) Name() string { return "table" }

// candidate is a detected region in page points with the text it covers.
type candidate struct {
	region layout.Region
	bbox   domain.BBox
	text   string
}

// Extract renders every page, detects table regions and keeps those that
// pass the acceptance filters.
func (e *TableExtractor) Extract(ctx context.Context, doc pdf.Document) ([]domain.ContentObject, error) {
	var out []domain.ContentObject

	for i := 1; i <= doc.PageCount(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := doc.Page(i)
		if err != nil {
			e.logger.Warn().Err(err).Int("page", i).Msg("Skipping page in table extraction")
			continue
		}

		objects, err := e.extractPage(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn().Err(err).Int("page", i).Msg("Skipping page in table extraction")
			continue
		}
		out = append(out, objects...)
	}

	return out, nil
}

func (e *TableExtractor) extractPage(ctx context.Context, page pdf.Page) ([]domain.ContentObject, error) {
	raster, err := page.Raster(e.dpi)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		return nil, domain.ConversionError("failed to encode page raster", err)
	}

	regions, err := e.detector.Detect(ctx, buf.Bytes())
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, nil
	}

	blocks, err := page.TextBlocks()
	if err != nil {
		e.logger.Debug().Err(err).Int("page", page.Number()).Msg("No text blocks for table filtering")
	}

	accepted := e.filter(page.Rect(), e.candidates(regions, blocks))

	var out []domain.ContentObject
	for idx, c := range accepted {
		px := pixelRect(c.bbox, e.dpi/72)
		img := crop(raster, px)
		if img == nil {
			continue
		}

		hash := PixelHash(img)
		if !e.dedup.Register(hash) {
			e.logger.Debug().Int("page", page.Number()).Str("hash", shortHash(hash)).Msg("Skipping duplicate table")
			continue
		}

		filename := fmt.Sprintf("page_%d_table_%d_%s.png", page.Number(), idx, shortHash(hash))
		path, err := e.writer.WritePNG(filename, img)
		if err != nil {
			e.logger.Warn().Err(err).Int("page", page.Number()).Str("filename", filename).Msg("Failed to write table")
			e.dedup.Forget(hash)
			continue
		}

		asset := &domain.Asset{
			Path:       path,
			Filename:   filename,
			Dimensions: domain.Dimensions{Width: img.Rect.Dx(), Height: img.Rect.Dy()},
		}
		out = append(out, newAssetObject(domain.KindTable, page, c.bbox, asset, hash))
	}
	return out, nil
}

// candidates keeps table-class regions above the score threshold, converted
// to page points, with the text of every block they intersect.
func (e *TableExtractor) candidates(regions []layout.Region, blocks []pdf.TextBlock) []candidate {
	scale := 72 / e.dpi
	var out []candidate
	for _, r := range regions {
		if !slices.Contains(e.policy.TableClasses, r.Class) || r.Score < e.policy.MinScore {
			continue
		}
		bbox := r.BBox.Scale(scale)
		if bbox.Area() == 0 {
			continue
		}
		out = append(out, candidate{region: r, bbox: bbox, text: textWithin(bbox, blocks)})
	}
	return out
}

// filter applies the density, author-block and overlap rules in that order.
func (e *TableExtractor) filter(pageRect domain.BBox, cands []candidate) []candidate {
	var kept []candidate
	for _, c := range cands {
		if !e.densityOK(c) {
			e.logger.Debug().Float64("score", c.region.Score).Msg("Rejected table candidate: text density")
			continue
		}
		if e.isAuthorBlock(pageRect, c) {
			e.logger.Debug().Float64("score", c.region.Score).Msg("Rejected table candidate: author block")
			continue
		}
		kept = e.resolveOverlap(kept, c)
	}
	return kept
}

func (e *TableExtractor) densityOK(c candidate) bool {
	chars := len([]rune(strings.Join(strings.Fields(c.text), "")))
	if chars < e.policy.MinChars {
		return false
	}
	density := float64(chars) / c.bbox.Area()
	return density >= e.policy.MinTextDensity && density <= e.policy.MaxTextDensity
}

func (e *TableExtractor) isAuthorBlock(pageRect domain.BBox, c candidate) bool {
	if pageRect.Height() <= 0 {
		return false
	}
	if (c.bbox.Y0-pageRect.Y0)/pageRect.Height() > e.policy.AuthorZone {
		return false
	}

	lower := strings.ToLower(c.text)
	hits := 0
	for _, kw := range e.policy.AuthorKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	if emailPattern.MatchString(c.text) {
		hits++
	}
	if affiliationPattern.MatchString(c.text) {
		hits++
	}
	return hits > 0
}

// resolveOverlap adds c to kept unless it overlaps an accepted region beyond
// the threshold, in which case the one covering more text wins.
func (e *TableExtractor) resolveOverlap(kept []candidate, c candidate) []candidate {
	for i, k := range kept {
		if overlapRatio(k.bbox, c.bbox) <= e.policy.OverlapThreshold {
			continue
		}
		if len(c.text) > len(k.text) {
			kept[i] = c
		}
		return kept
	}
	return append(kept, c)
}

// overlapRatio is the intersection area over the smaller rectangle's area.
func overlapRatio(a, b domain.BBox) float64 {
	inter := a.Intersect(b).Area()
	smaller := math.Min(a.Area(), b.Area())
	if smaller == 0 {
		return 0
	}
	return inter / smaller
}

func textWithin(bbox domain.BBox, blocks []pdf.TextBlock) string {
	var parts []string
	for _, b := range blocks {
		if bbox.Intersect(b.BBox).Area() == 0 {
			continue
		}
		if t := CleanLines(b.Lines); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func pixelRect(b domain.BBox, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X0*scale)),
		int(math.Floor(b.Y0*scale)),
		int(math.Ceil(b.X1*scale)),
		int(math.Ceil(b.Y1*scale)),
	)
}
