package extract

import (
	"context"
	"fmt"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/pdf"
)

// ImageExtractor emits one object per distinct embedded image.
type ImageExtractor struct {
	logger *observability.Logger
	dedup  *AssetDeduplicator
	writer *AssetWriter
}

// NewImageExtractor creates an image extractor sharing the job's
// deduplicator and asset writer.
func NewImageExtractor(logger *observability.Logger, dedup *AssetDeduplicator, writer *AssetWriter) *ImageExtractor {
	return &ImageExtractor{logger: logger, dedup: dedup, writer: writer}
}

func (e *ImageExtractor) Name() string { return "image" }

// Extract decodes every page's images, skipping any whose pixel hash was
// already seen in this job.
func (e *ImageExtractor) Extract(ctx context.Context, doc pdf.Document) ([]domain.ContentObject, error) {
	var out []domain.ContentObject

	for i := 1; i <= doc.PageCount(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := doc.Page(i)
		if err != nil {
			e.logger.Warn().Err(err).Int("page", i).Msg("Skipping page in image extraction")
			continue
		}

		images, err := page.Images()
		if err != nil {
			e.logger.Warn().Err(err).Int("page", i).Msg("Skipping page in image extraction")
			continue
		}

		for idx, img := range images {
			if img.Image == nil || img.BBox.Area() == 0 {
				continue
			}

			hash := PixelHash(img.Image)
			if !e.dedup.Register(hash) {
				e.logger.Debug().Int("page", i).Str("hash", shortHash(hash)).Msg("Skipping duplicate image")
				continue
			}

			filename := fmt.Sprintf("page_%d_img_%d_%s.png", i, idx, shortHash(hash))
			path, err := e.writer.WritePNG(filename, img.Image)
			if err != nil {
				e.logger.Warn().Err(err).Int("page", i).Str("filename", filename).Msg("Failed to write image")
				e.dedup.Forget(hash)
				continue
			}

			bounds := img.Image.Bounds()
			asset := &domain.Asset{
				Path:     path,
				Filename: filename,
				Dimensions: domain.Dimensions{
					Width:  bounds.Dx(),
					Height: bounds.Dy(),
				},
			}
			out = append(out, newAssetObject(domain.KindImage, page, img.BBox, asset, hash))
		}
	}

	return out, nil
}
