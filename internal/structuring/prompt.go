package structuring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

const systemPrompt = `You convert raw text extracted from one page of an academic PDF into structured components.

Respond with ONLY a JSON array. No prose, no Markdown fences. Each element is {"type": <type>, "props": {...}}.

Allowed types and their props:
- Heading: {"text": string, "level": 1-4}
- Text: {"text": string}
- Equation: {"latex": string, "number": string (optional)}
- List: {"items": [string], "ordered": bool}
- Blockquote: {"text": string}
- Code: {"code": string, "language": string (optional)}
- Image, InlineImage, Table: {"src": string, "alt": string, "width": int, "height": int, "group_id": string}
- ImageGroup: {"group_id": string, "images": [Image props]}
- TableGroup: {"group_id": string, "tables": [Table props]}
- FigureTitle, FigureCaption: {"text": string}

Rules:
1. Preserve the reading order of the input text. Do not invent, summarize or drop content.
2. Every "src" MUST be copied verbatim from the provided assets list, or from the references map when the text says "Figure N" or "Table N". Never invent identifiers.
3. Assets sharing a group_id sit side by side on the page; emit them as one ImageGroup or TableGroup.
4. Place each figure or table next to the text that first references it, with its FigureTitle and FigureCaption.
5. Write equations as LaTeX without $ delimiters and escape every backslash for JSON.
6. Omit running headers, footers and page numbers.`

// assetInfo is the per-asset context sent with every batch.
type assetInfo struct {
	Kind     string                  `json:"kind"`
	Src      string                  `json:"src"`
	Filename string                  `json:"filename"`
	BBox     domain.RelativePosition `json:"bbox"`
	Width    int                     `json:"width"`
	Height   int                     `json:"height"`
	GroupID  string                  `json:"group_id,omitempty"`
}

func describeAssets(assets []domain.ContentObject) []assetInfo {
	out := make([]assetInfo, 0, len(assets))
	for _, a := range assets {
		if a.Asset == nil {
			continue
		}
		out = append(out, assetInfo{
			Kind:     string(a.Kind),
			Src:      a.Identifier(),
			Filename: a.Asset.Filename,
			BBox:     a.RelativePosition,
			Width:    a.Asset.Dimensions.Width,
			Height:   a.Asset.Dimensions.Height,
			GroupID:  a.GroupID,
		})
	}
	return out
}

// buildUserPrompt renders one batch request.
func buildUserPrompt(page int, batch []domain.ContentObject, assets []domain.ContentObject, refs References) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Page: %d\n\n", page)

	b.WriteString("Assets on this page:\n")
	info, _ := json.MarshalIndent(describeAssets(assets), "", "  ")
	b.Write(info)
	b.WriteString("\n\n")

	b.WriteString("References:\n")
	labels, _ := json.MarshalIndent(refs.Labels(), "", "  ")
	b.Write(labels)
	b.WriteString("\n\n")

	b.WriteString("Text:\n")
	for _, t := range batch {
		b.WriteString(t.Text)
		b.WriteString("\n\n")
	}

	b.WriteString("JSON array:")
	return b.String()
}
