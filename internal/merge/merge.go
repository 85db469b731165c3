// Package merge assembles per-page components into one document stream.
package merge

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// Merge concatenates pages in order, drops repeated assets and captions
// (first occurrence wins) and synthesizes components for extracted assets
// the structuring service left out. Synthesized components go at the end of
// their page. Asset references that resolve to no extracted asset are
// dropped; a record never points at an image that does not exist.
func Merge(pages [][]domain.Component, assets []domain.ContentObject) []domain.Component {
	idx := newAssetIndex(assets)
	seenAsset := make(map[int]bool)
	seenCaption := make(map[string]bool)

	var out []domain.Component
	for _, page := range pages {
		for _, c := range page {
			switch {
			case c.Type.IsAsset():
				i, ok := idx.find(c.Assets()[0])
				if !ok || seenAsset[i] {
					continue
				}
				seenAsset[i] = true
				idx.claimed[i] = true

			case c.Type.IsGroup():
				if !keepMembers(c, idx, seenAsset) {
					continue
				}

			case c.Type.IsCaption():
				norm := normalize(c.Text())
				if norm == "" || seenCaption[norm] {
					continue
				}
				seenCaption[norm] = true
			}
			out = append(out, c)
		}
	}

	for i, a := range idx.assets {
		if idx.claimed[i] {
			continue
		}
		out = append(out, Synthesize(a))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// keepMembers filters a group's members in place, dropping repeated and
// unresolvable references, and reports whether any survive.
func keepMembers(c domain.Component, idx *assetIndex, seen map[int]bool) bool {
	filter := func(members []domain.ImageProps) []domain.ImageProps {
		kept := members[:0]
		for _, m := range members {
			i, ok := idx.find(&m)
			if !ok || seen[i] {
				continue
			}
			seen[i] = true
			idx.claimed[i] = true
			kept = append(kept, m)
		}
		return kept
	}

	switch p := c.Props.(type) {
	case *domain.ImageGroupProps:
		p.Images = filter(p.Images)
		return len(p.Images) > 0
	case *domain.TableGroupProps:
		p.Tables = filter(p.Tables)
		return len(p.Tables) > 0
	}
	return false
}

// Synthesize builds a minimal Image or Table component from an extracted
// asset's own geometry.
func Synthesize(a domain.ContentObject) domain.Component {
	t := domain.TypeImage
	if a.Kind == domain.KindTable {
		t = domain.TypeTable
	}
	props := &domain.ImageProps{
		Src:         a.Identifier(),
		GroupID:     a.GroupID,
		ContentHash: a.ContentHash,
		BBox:        a.BBox.Slice(),
		Extra:       domain.Extra{"synthesized": json.RawMessage("true")},
	}
	if a.Asset != nil {
		props.Width = a.Asset.Dimensions.Width
		props.Height = a.Asset.Dimensions.Height
	}
	return domain.Component{Type: t, Page: a.Page, Props: props}
}

// assetIndex resolves component asset references to extracted assets by
// identifier, filename or content hash.
type assetIndex struct {
	assets  []domain.ContentObject
	lookup  map[string]int
	claimed []bool
}

func newAssetIndex(objects []domain.ContentObject) *assetIndex {
	idx := &assetIndex{lookup: make(map[string]int)}
	for _, o := range objects {
		if !o.Kind.IsAsset() || o.Asset == nil {
			continue
		}
		i := len(idx.assets)
		idx.assets = append(idx.assets, o)
		for _, k := range []string{"src:" + o.Identifier(), "src:" + o.Asset.Filename, "hash:" + o.ContentHash} {
			if k == "src:" || k == "hash:" {
				continue
			}
			if _, exists := idx.lookup[k]; !exists {
				idx.lookup[k] = i
			}
		}
	}
	idx.claimed = make([]bool, len(idx.assets))
	return idx
}

func (x *assetIndex) find(ref *domain.ImageProps) (int, bool) {
	src := strings.TrimSpace(ref.Src)
	if i, ok := x.lookup["src:"+src]; ok && src != "" {
		return i, true
	}
	if i, ok := x.lookup["hash:"+ref.ContentHash]; ok && ref.ContentHash != "" {
		return i, true
	}
	return 0, false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
