package pdf

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// FitzOpener opens documents with go-fitz (MuPDF).
type FitzOpener struct {
	validator *Validator
}

// NewFitzOpener creates an opener; maxSize bounds accepted files in bytes.
func NewFitzOpener(maxSize int64) *FitzOpener {
	return &FitzOpener{validator: NewValidator(maxSize)}
}

// Open validates and opens the PDF at path.
func (o *FitzOpener) Open(path string) (Document, error) {
	if err := o.validator.ValidatePDFPath(path); err != nil {
		return nil, err
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.ConversionError("failed to open PDF", err)
	}

	if doc.NumPage() == 0 {
		doc.Close()
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	return &fitzDocument{doc: doc, pages: make(map[int]*fitzPage)}, nil
}

type fitzDocument struct {
	mu    sync.Mutex
	doc   *fitz.Document
	pages map[int]*fitzPage
}

func (d *fitzDocument) PageCount() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) Page(i int) (Page, error) {
	if i < 1 || i > d.doc.NumPage() {
		return nil, domain.ValidationError(fmt.Sprintf("page %d out of range 1..%d", i, d.doc.NumPage()), nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pages[i]; ok {
		return p, nil
	}

	bound, err := d.doc.Bound(i - 1)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("failed to read bounds of page %d", i), err)
	}

	p := &fitzPage{
		doc:    d,
		number: i,
		rect: domain.BBox{
			X0: float64(bound.Min.X),
			Y0: float64(bound.Min.Y),
			X1: float64(bound.Max.X),
			Y1: float64(bound.Max.Y),
		},
	}
	d.pages[i] = p
	return p, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages = nil
	return d.doc.Close()
}

type fitzPage struct {
	doc    *fitzDocument
	number int
	rect   domain.BBox

	once   sync.Once
	layout *pageLayout
	err    error
}

func (p *fitzPage) Number() int       { return p.number }
func (p *fitzPage) Rect() domain.BBox { return p.rect }

func (p *fitzPage) TextBlocks() ([]TextBlock, error) {
	layout, err := p.load()
	if err != nil {
		return nil, err
	}
	return layout.blocks, nil
}

func (p *fitzPage) Images() ([]EmbeddedImage, error) {
	layout, err := p.load()
	if err != nil {
		return nil, err
	}
	return layout.images, nil
}

func (p *fitzPage) Raster(dpi float64) (*image.RGBA, error) {
	img, err := p.doc.doc.ImageDPI(p.number-1, dpi)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("failed to rasterize page %d", p.number), err)
	}
	return img, nil
}

// load renders the page's structured text as HTML once and parses it.
func (p *fitzPage) load() (*pageLayout, error) {
	p.once.Do(func() {
		markup, err := p.doc.doc.HTML(p.number-1, false)
		if err != nil {
			p.err = domain.ConversionError(fmt.Sprintf("failed to read text of page %d", p.number), err)
			return
		}
		p.layout, p.err = parsePageHTML(strings.NewReader(markup))
	})
	return p.layout, p.err
}
