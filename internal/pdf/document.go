// Package pdf defines the document decoder contract consumed by the
// extractors and a go-fitz backed implementation of it.
package pdf

import (
	"image"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// TextBlock is one native text block with its lines in reading order.
type TextBlock struct {
	BBox  domain.BBox
	Lines []string
}

// EmbeddedImage is an image drawn on a page, decoded to pixels.
type EmbeddedImage struct {
	BBox  domain.BBox
	Image image.Image
}

// Page is a single decoded page. Coordinates are in page points.
type Page interface {
	Number() int
	Rect() domain.BBox
	TextBlocks() ([]TextBlock, error)
	Images() ([]EmbeddedImage, error)
	// Raster renders the page; pixel coordinates scale by dpi/72.
	Raster(dpi float64) (*image.RGBA, error)
}

// Document is an opened PDF.
type Document interface {
	PageCount() int
	// Page returns the 1-based page i.
	Page(i int) (Page, error)
	Close() error
}

// Opener opens documents from the filesystem.
type Opener interface {
	Open(path string) (Document, error)
}

// PageSizes collects the dimensions of every page in doc.
func PageSizes(doc Document) ([]domain.PageSize, error) {
	sizes := make([]domain.PageSize, 0, doc.PageCount())
	for i := 1; i <= doc.PageCount(); i++ {
		page, err := doc.Page(i)
		if err != nil {
			return nil, err
		}
		rect := page.Rect()
		sizes = append(sizes, domain.PageSize{Page: i, Width: rect.Width(), Height: rect.Height()})
	}
	return sizes, nil
}
