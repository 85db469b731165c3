package pdf

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// MuPDF's HTML device writes one absolutely positioned <p> per text line and
// one <img> per drawn image, all in page points.

type pageLayout struct {
	blocks []TextBlock
	images []EmbeddedImage
}

type htmlLine struct {
	text       string
	top        float64
	left       float64
	lineHeight float64
	fontSize   float64
}

// average glyph advance relative to the font size, used to estimate line width
const glyphAdvance = 0.5

func parsePageHTML(r io.Reader) (*pageLayout, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, domain.ConversionError("parsing page HTML", err)
	}

	var lines []htmlLine
	layout := &pageLayout{}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p":
				if line, ok := readLine(n); ok {
					lines = append(lines, line)
				}
				return
			case "img":
				if img, ok := readImage(n); ok {
					layout.images = append(layout.images, img)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	layout.blocks = groupLines(lines)
	return layout, nil
}

func readLine(n *html.Node) (htmlLine, bool) {
	style := parseStyle(attr(n, "style"))
	text := textContent(n)
	if strings.TrimSpace(text) == "" {
		return htmlLine{}, false
	}

	line := htmlLine{
		text:       text,
		top:        style["top"],
		left:       style["left"],
		lineHeight: style["line-height"],
	}
	line.fontSize = maxFontSize(n)
	if line.fontSize == 0 {
		line.fontSize = line.lineHeight
	}
	if line.lineHeight == 0 {
		line.lineHeight = line.fontSize
	}
	return line, true
}

func readImage(n *html.Node) (EmbeddedImage, bool) {
	src := attr(n, "src")
	if !strings.HasPrefix(src, "data:") {
		return EmbeddedImage{}, false
	}
	comma := strings.IndexByte(src, ',')
	if comma < 0 || !strings.Contains(src[:comma], ";base64") {
		return EmbeddedImage{}, false
	}
	data, err := base64.StdEncoding.DecodeString(src[comma+1:])
	if err != nil {
		return EmbeddedImage{}, false
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return EmbeddedImage{}, false
	}

	style := parseStyle(attr(n, "style"))
	left, top := style["left"], style["top"]
	width, height := style["width"], style["height"]
	if width == 0 || height == 0 {
		if w, err := strconv.ParseFloat(attr(n, "width"), 64); err == nil {
			width = w
		}
		if h, err := strconv.ParseFloat(attr(n, "height"), 64); err == nil {
			height = h
		}
	}

	return EmbeddedImage{
		BBox:  domain.BBox{X0: left, Y0: top, X1: left + width, Y1: top + height},
		Image: img,
	}, true
}

// groupLines merges consecutive lines into blocks. A line starts a new block
// when its vertical gap exceeds half a line height or it jumps back up the page.
func groupLines(lines []htmlLine) []TextBlock {
	var blocks []TextBlock
	var cur *TextBlock
	var prev htmlLine

	for _, line := range lines {
		bbox := domain.BBox{
			X0: line.left,
			Y0: line.top,
			X1: line.left + float64(len([]rune(line.text)))*line.fontSize*glyphAdvance,
			Y1: line.top + line.lineHeight,
		}

		if cur != nil {
			gap := line.top - (prev.top + prev.lineHeight)
			if gap <= prev.lineHeight*0.5 && line.top >= prev.top {
				cur.Lines = append(cur.Lines, line.text)
				cur.BBox = union(cur.BBox, bbox)
				prev = line
				continue
			}
			blocks = append(blocks, *cur)
		}

		cur = &TextBlock{BBox: bbox, Lines: []string{line.text}}
		prev = line
	}
	if cur != nil {
		blocks = append(blocks, *cur)
	}
	return blocks
}

func union(a, b domain.BBox) domain.BBox {
	return domain.BBox{
		X0: math.Min(a.X0, b.X0),
		Y0: math.Min(a.Y0, b.Y0),
		X1: math.Max(a.X1, b.X1),
		Y1: math.Max(a.Y1, b.Y1),
	}
}

func maxFontSize(n *html.Node) float64 {
	var size float64
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode {
			if fs := parseStyle(attr(c, "style"))["font-size"]; fs > size {
				size = fs
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return size
}

// parseStyle reads numeric CSS declarations such as "top:72.0pt".
func parseStyle(style string) map[string]float64 {
	out := make(map[string]float64)
	for _, decl := range strings.Split(style, ";") {
		key, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.ToLower(key))
		val = strings.TrimSpace(val)
		val = strings.TrimSuffix(strings.TrimSuffix(val, "pt"), "px")
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		out[key] = f
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return sb.String()
}
