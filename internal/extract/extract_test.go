package extract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/config"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/layout"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/pdf"
)

type fakePage struct {
	number int
	rect   domain.BBox
	blocks []pdf.TextBlock
	images []pdf.EmbeddedImage
	err    error
}

func (p *fakePage) Number() int       { return p.number }
func (p *fakePage) Rect() domain.BBox { return p.rect }

func (p *fakePage) TextBlocks() ([]pdf.TextBlock, error) { return p.blocks, p.err }

func (p *fakePage) Images() ([]pdf.EmbeddedImage, error) { return p.images, p.err }

func (p *fakePage) Raster(dpi float64) (*image.RGBA, error) {
	if p.err != nil {
		return nil, p.err
	}
	scale := dpi / 72
	w, h := int(p.rect.Width()*scale), int(p.rect.Height()*scale)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x ^ y), 255})
		}
	}
	return img, nil
}

type fakeDoc struct {
	pages []*fakePage
}

func (d *fakeDoc) PageCount() int { return len(d.pages) }

func (d *fakeDoc) Page(i int) (pdf.Page, error) {
	if i < 1 || i > len(d.pages) {
		return nil, errors.New("page out of range")
	}
	return d.pages[i-1], nil
}

func (d *fakeDoc) Close() error { return nil }

var letter = domain.BBox{X0: 0, Y0: 0, X1: 100, Y1: 100}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestTextExtractor(t *testing.T) {
	doc := &fakeDoc{pages: []*fakePage{
		{number: 1, rect: letter, blocks: []pdf.TextBlock{
			{BBox: domain.BBox{X0: 10, Y0: 10, X1: 90, Y1: 20}, Lines: []string{"\ufeffHello   world", "second\u200b line"}},
			{BBox: domain.BBox{X0: 10, Y0: 30, X1: 90, Y1: 40}, Lines: []string{"   ", "\u200e"}},
		}},
		{number: 2, rect: letter, err: errors.New("broken page")},
	}}

	objects, err := NewTextExtractor(observability.NopLogger()).Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, objects, 1)

	o := objects[0]
	assert.Equal(t, domain.KindText, o.Kind)
	assert.Equal(t, 1, o.Page)
	assert.Equal(t, "Hello world\nsecond line", o.Text)
	assert.InDelta(t, 0.1, o.RelativePosition.X, 1e-9)
	assert.InDelta(t, 0.8, o.RelativePosition.Width, 1e-9)
}

func TestImageExtractor_DeduplicatesByPixels(t *testing.T) {
	red := solid(4, 4, color.RGBA{255, 0, 0, 255})
	blue := solid(4, 4, color.RGBA{0, 0, 255, 255})
	doc := &fakeDoc{pages: []*fakePage{
		{number: 1, rect: letter, images: []pdf.EmbeddedImage{
			{BBox: domain.BBox{X0: 10, Y0: 10, X1: 50, Y1: 50}, Image: red},
			{BBox: domain.BBox{X0: 60, Y0: 10, X1: 90, Y1: 50}, Image: blue},
		}},
		{number: 2, rect: letter, images: []pdf.EmbeddedImage{
			{BBox: domain.BBox{X0: 10, Y0: 10, X1: 50, Y1: 50}, Image: solid(4, 4, color.RGBA{255, 0, 0, 255})},
		}},
	}}

	writer, err := NewAssetWriter(t.TempDir())
	require.NoError(t, err)
	dedup := NewAssetDeduplicator()
	ex := NewImageExtractor(observability.NopLogger(), dedup, writer)

	objects, err := ex.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, objects, 2)

	first := objects[0]
	assert.Equal(t, domain.KindImage, first.Kind)
	assert.Regexp(t, `^page_1_img_0_[0-9a-f]{8}\.png$`, first.Asset.Filename)
	assert.Equal(t, domain.Dimensions{Width: 4, Height: 4}, first.Asset.Dimensions)
	assert.Equal(t, PixelHash(red), first.ContentHash)
	_, err = os.Stat(filepath.Join(writer.Dir(), first.Asset.Filename))
	assert.NoError(t, err)

	again, err := ex.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, 2, dedup.Len())
}

type fakeDetector struct {
	regions []layout.Region
	calls   int
}

func (d *fakeDetector) Detect(ctx context.Context, png []byte) ([]layout.Region, error) {
	d.calls++
	return d.regions, nil
}

func TestTableExtractor(t *testing.T) {
	doc := &fakeDoc{pages: []*fakePage{{
		number: 1,
		rect:   letter,
		blocks: []pdf.TextBlock{
			{BBox: domain.BBox{X0: 12, Y0: 5, X1: 88, Y1: 20}, Lines: []string{"Department of Physics, University of Somewhere"}},
			{BBox: domain.BBox{X0: 12, Y0: 62, X1: 88, Y1: 88}, Lines: []string{"Col A Col B", "1 2", "3 4"}},
		},
	}}}
	detector := &fakeDetector{regions: []layout.Region{
		{Class: layout.ClassTable, Score: 0.9, BBox: domain.BBox{X0: 20, Y0: 120, X1: 180, Y1: 180}},
		{Class: layout.ClassTable, Score: 0.9, BBox: domain.BBox{X0: 20, Y0: 8, X1: 180, Y1: 44}},
		{Class: layout.ClassFigure, Score: 0.99, BBox: domain.BBox{X0: 20, Y0: 120, X1: 180, Y1: 180}},
		{Class: layout.ClassTable, Score: 0.2, BBox: domain.BBox{X0: 20, Y0: 120, X1: 180, Y1: 180}},
	}}

	writer, err := NewAssetWriter(t.TempDir())
	require.NoError(t, err)
	ex := NewTableExtractor(observability.NopLogger(), NewAssetDeduplicator(), writer, detector, config.DefaultTablePolicy(), 144)

	objects, err := ex.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, objects, 1)

	o := objects[0]
	assert.Equal(t, domain.KindTable, o.Kind)
	assert.Equal(t, domain.BBox{X0: 10, Y0: 60, X1: 90, Y1: 90}, o.BBox)
	assert.Regexp(t, `^page_1_table_0_[0-9a-f]{8}\.png$`, o.Asset.Filename)
	assert.Equal(t, domain.Dimensions{Width: 160, Height: 60}, o.Asset.Dimensions)
	assert.NotEmpty(t, o.ContentHash)
	assert.Equal(t, 1, detector.calls)
}

func TestTableExtractor_Filter(t *testing.T) {
	ex := NewTableExtractor(observability.NopLogger(), NewAssetDeduplicator(), nil, layout.NoopDetector{}, config.DefaultTablePolicy(), 144)

	tests := []struct {
		name  string
		cands []candidate
		want  []string
	}{
		{
			name:  "empty region rejected by density",
			cands: []candidate{{bbox: domain.BBox{X0: 0, Y0: 50, X1: 50, Y1: 90}, text: ""}},
			want:  nil,
		},
		{
			name:  "email in top zone rejected",
			cands: []candidate{{bbox: domain.BBox{X0: 0, Y0: 5, X1: 50, Y1: 20}, text: "Jane Roe jane@example.org"}},
			want:  nil,
		},
		{
			name:  "keywords below top zone kept",
			cands: []candidate{{bbox: domain.BBox{X0: 0, Y0: 50, X1: 50, Y1: 90}, text: "University ranking 2020 2021"}},
			want:  []string{"University ranking 2020 2021"},
		},
		{
			name: "overlap keeps region with more text",
			cands: []candidate{
				{bbox: domain.BBox{X0: 0, Y0: 50, X1: 50, Y1: 90}, text: "a b c d e f g h"},
				{bbox: domain.BBox{X0: 0, Y0: 52, X1: 50, Y1: 92}, text: "a b c d e f g h i j k"},
			},
			want: []string{"a b c d e f g h i j k"},
		},
		{
			name: "disjoint regions both kept",
			cands: []candidate{
				{bbox: domain.BBox{X0: 0, Y0: 40, X1: 40, Y1: 60}, text: "left table 1 2 3"},
				{bbox: domain.BBox{X0: 50, Y0: 40, X1: 90, Y1: 60}, text: "right table 4 5 6"},
			},
			want: []string{"left table 1 2 3", "right table 4 5 6"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, c := range ex.filter(letter, tt.cands) {
				got = append(got, c.text)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSpatialGrouper(t *testing.T) {
	at := func(page int, x, y float64, kind domain.ObjectKind) domain.ContentObject {
		return domain.ContentObject{Kind: kind, Page: page, RelativePosition: domain.RelativePosition{X: x, Y: y}}
	}
	in := []domain.ContentObject{
		at(1, 0.5, 0.11, domain.KindImage),
		at(1, 0.1, 0.10, domain.KindImage),
		at(1, 0.1, 0.30, domain.KindTable),
		at(1, 0.1, 0.10, domain.KindText),
		at(2, 0.1, 0.10, domain.KindImage),
	}

	out := NewSpatialGrouper().Group(in)
	require.Len(t, out, len(in))

	assert.Equal(t, "page1_group0", out[0].GroupID)
	assert.Equal(t, "page1_group0", out[1].GroupID)
	assert.Equal(t, "page1_group1", out[2].GroupID)
	assert.Empty(t, out[3].GroupID)
	assert.Equal(t, "page2_group0", out[4].GroupID)

	assert.Empty(t, in[0].GroupID, "input must not be mutated")
	assert.Equal(t, out, NewSpatialGrouper().Group(in))
}

func TestAssetDeduplicator(t *testing.T) {
	d := NewAssetDeduplicator()
	assert.False(t, d.Seen("h"))
	assert.True(t, d.Register("h"))
	assert.False(t, d.Register("h"))
	assert.True(t, d.Seen("h"))
	assert.Equal(t, 1, d.Len())

	d.Forget("h")
	assert.False(t, d.Seen("h"))
	assert.True(t, d.Register("h"))
}

func TestImageExtractor_FailedWriteDoesNotClaimHash(t *testing.T) {
	red := solid(4, 4, color.RGBA{255, 0, 0, 255})
	doc := &fakeDoc{pages: []*fakePage{
		{number: 1, rect: letter, images: []pdf.EmbeddedImage{
			{BBox: domain.BBox{X0: 10, Y0: 10, X1: 50, Y1: 50}, Image: red},
		}},
	}}

	dir := filepath.Join(t.TempDir(), "assets")
	writer, err := NewAssetWriter(dir)
	require.NoError(t, err)
	dedup := NewAssetDeduplicator()
	ex := NewImageExtractor(observability.NopLogger(), dedup, writer)

	require.NoError(t, os.RemoveAll(dir))
	objects, err := ex.Extract(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, objects)
	assert.False(t, dedup.Seen(PixelHash(red)))

	require.NoError(t, os.MkdirAll(dir, 0o755))
	objects, err = ex.Extract(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	_, err = os.Stat(filepath.Join(dir, objects[0].Asset.Filename))
	assert.NoError(t, err)
}

type failingExtractor struct{ err error }

func (f failingExtractor) Name() string { return "failing" }

func (f failingExtractor) Extract(ctx context.Context, doc pdf.Document) ([]domain.ContentObject, error) {
	return nil, f.err
}

func TestRunAll_SkipsFailingExtractor(t *testing.T) {
	doc := &fakeDoc{pages: []*fakePage{{number: 1, rect: letter, blocks: []pdf.TextBlock{
		{BBox: domain.BBox{X0: 1, Y0: 1, X1: 2, Y1: 2}, Lines: []string{"kept"}},
	}}}}

	objects, err := RunAll(context.Background(), observability.NopLogger(), doc,
		failingExtractor{err: errors.New("boom")},
		NewTextExtractor(observability.NopLogger()),
	)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "kept", objects[0].Text)
}

func TestRunAll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunAll(ctx, observability.NopLogger(), &fakeDoc{}, NewTextExtractor(observability.NopLogger()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a b", CleanText("  a\t\u200d b \u00ad"))
	assert.Equal(t, "", CleanText("\ufeff\u200b"))
}
