// Package domain holds the pipeline's core types: extracted content objects,
// structured components, jobs and the error taxonomy.
package domain

import "math"

// ObjectKind is the kind of an extracted content object.
type ObjectKind string

const (
	KindText  ObjectKind = "text"
	KindImage ObjectKind = "image"
	KindTable ObjectKind = "table"
)

// IsAsset reports whether objects of this kind carry a binary asset.
func (k ObjectKind) IsAsset() bool {
	return k == KindImage || k == KindTable
}

// BBox is an axis-aligned rectangle in page space (x0, y0 top-left; x1, y1 bottom-right).
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Width returns the rectangle width.
func (b BBox) Width() float64 { return b.X1 - b.X0 }

// Height returns the rectangle height.
func (b BBox) Height() float64 { return b.Y1 - b.Y0 }

// Area returns the rectangle area, zero for degenerate rectangles.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Intersect returns the overlapping rectangle of b and o.
func (b BBox) Intersect(o BBox) BBox {
	return BBox{
		X0: math.Max(b.X0, o.X0),
		Y0: math.Max(b.Y0, o.Y0),
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
	}
}

// Contains reports whether the point lies inside b.
func (b BBox) Contains(x, y float64) bool {
	return x >= b.X0 && x <= b.X1 && y >= b.Y0 && y <= b.Y1
}

// Scale multiplies every coordinate by f.
func (b BBox) Scale(f float64) BBox {
	return BBox{X0: b.X0 * f, Y0: b.Y0 * f, X1: b.X1 * f, Y1: b.Y1 * f}
}

// Slice returns the rectangle as [x0, y0, x1, y1].
func (b BBox) Slice() []float64 {
	return []float64{b.X0, b.Y0, b.X1, b.Y1}
}

// RelativePosition is a bbox normalized to [0,1] by the page dimensions.
type RelativePosition struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Relativize normalizes b against a page of the given size.
func Relativize(b BBox, pageWidth, pageHeight float64) RelativePosition {
	if pageWidth <= 0 || pageHeight <= 0 {
		return RelativePosition{}
	}
	return RelativePosition{
		X:      b.X0 / pageWidth,
		Y:      b.Y0 / pageHeight,
		Width:  b.Width() / pageWidth,
		Height: b.Height() / pageHeight,
	}
}

// Dimensions is the pixel size of an asset.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Asset is the binary payload of an Image or Table object.
type Asset struct {
	Path       string     `json:"path"`
	Filename   string     `json:"filename"`
	URL        string     `json:"url,omitempty"`
	Dimensions Dimensions `json:"dimensions"`
}

// ContentObject is the unit produced by extraction.
type ContentObject struct {
	Kind             ObjectKind       `json:"kind"`
	Page             int              `json:"page"`
	BBox             BBox             `json:"bbox"`
	RelativePosition RelativePosition `json:"relative_position"`
	PageWidth        float64          `json:"page_width"`
	PageHeight       float64          `json:"page_height"`
	Text             string           `json:"text,omitempty"`
	Asset            *Asset           `json:"asset,omitempty"`
	ContentHash      string           `json:"content_hash,omitempty"`
	GroupID          string           `json:"group_id,omitempty"`
}

// Identifier returns the asset identifier used in structured output: the
// published URL when available, otherwise the filename.
func (o ContentObject) Identifier() string {
	if o.Asset == nil {
		return ""
	}
	if o.Asset.URL != "" {
		return o.Asset.URL
	}
	return o.Asset.Filename
}

// PageSize records the dimensions of one decoded page.
type PageSize struct {
	Page   int     `json:"page"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FilterKind returns the objects of the given kind, preserving order.
func FilterKind(objects []ContentObject, kind ObjectKind) []ContentObject {
	out := make([]ContentObject, 0, len(objects))
	for _, o := range objects {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// ByPage buckets objects by page, preserving order within each page.
func ByPage(objects []ContentObject) map[int][]ContentObject {
	out := make(map[int][]ContentObject)
	for _, o := range objects {
		out[o.Page] = append(out[o.Page], o)
	}
	return out
}
