package extract

import (
	"fmt"
	"math"
	"sort"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// RowTolerance is the largest rounded relative_y difference between two
// consecutive assets of the same row band.
const RowTolerance = 0.05

// SpatialGrouper assigns row-band group ids to same-page assets.
type SpatialGrouper struct {
	tolerance float64
}

// NewSpatialGrouper creates a grouper using RowTolerance.
func NewSpatialGrouper() *SpatialGrouper {
	return &SpatialGrouper{tolerance: RowTolerance}
}

// Group returns a copy of objects with GroupID populated on Image and Table
// objects. Output order matches input order; text objects pass through.
func (g *SpatialGrouper) Group(objects []domain.ContentObject) []domain.ContentObject {
	out := make([]domain.ContentObject, len(objects))
	copy(out, objects)

	byPage := make(map[int][]int)
	var pages []int
	for i, o := range out {
		if !o.Kind.IsAsset() {
			continue
		}
		if _, ok := byPage[o.Page]; !ok {
			pages = append(pages, o.Page)
		}
		byPage[o.Page] = append(byPage[o.Page], i)
	}

	for _, page := range pages {
		idx := byPage[page]
		sort.SliceStable(idx, func(a, b int) bool {
			ya, yb := roundTo2(out[idx[a]].RelativePosition.Y), roundTo2(out[idx[b]].RelativePosition.Y)
			if ya != yb {
				return ya < yb
			}
			return out[idx[a]].RelativePosition.X < out[idx[b]].RelativePosition.X
		})

		group := 0
		var lastY float64
		for n, i := range idx {
			y := roundTo2(out[i].RelativePosition.Y)
			if n > 0 && math.Abs(y-lastY) > g.tolerance+1e-9 {
				group++
			}
			out[i].GroupID = fmt.Sprintf("page%d_group%d", page, group)
			lastY = y
		}
	}

	return out
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
