// Package extract turns a decoded document into normalized content objects
// and post-processes visual assets (dedup, row grouping).
package extract

import (
	"context"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/pdf"
)

// Extractor produces content objects of one kind from a document.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, doc pdf.Document) ([]domain.ContentObject, error)
}

// RunAll runs the extractors in order and concatenates their output. An
// extractor error degrades that extractor to an empty result; only context
// cancellation is returned.
func RunAll(ctx context.Context, logger *observability.Logger, doc pdf.Document, extractors ...Extractor) ([]domain.ContentObject, error) {
	var all []domain.ContentObject

	for _, ex := range extractors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		objects, err := ex.Extract(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn().Err(err).Str("extractor", ex.Name()).Msg("Extractor failed, continuing without its output")
			continue
		}

		logger.Debug().Str("extractor", ex.Name()).Int("objects", len(objects)).Msg("Extractor finished")
		all = append(all, objects...)
	}

	return all, nil
}

// newAssetObject builds an Image or Table object from a placed asset.
func newAssetObject(kind domain.ObjectKind, page pdf.Page, bbox domain.BBox, asset *domain.Asset, hash string) domain.ContentObject {
	rect := page.Rect()
	return domain.ContentObject{
		Kind:             kind,
		Page:             page.Number(),
		BBox:             bbox,
		RelativePosition: domain.Relativize(bbox, rect.Width(), rect.Height()),
		PageWidth:        rect.Width(),
		PageHeight:       rect.Height(),
		Asset:            asset,
		ContentHash:      hash,
	}
}
