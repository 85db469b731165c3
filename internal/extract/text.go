package extract

import (
	"context"
	"strings"
	"unicode"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/pdf"
)

// TextExtractor emits one object per native text block.
type TextExtractor struct {
	logger *observability.Logger
}

// NewTextExtractor creates a text extractor.
func NewTextExtractor(logger *observability.Logger) *TextExtractor {
	return &TextExtractor{logger: logger}
}

func (e *TextExtractor) Name() string { return "text" }

// Extract walks every page's text blocks. A page that fails to decode is
// logged and skipped.
func (e *TextExtractor) Extract(ctx context.Context, doc pdf.Document) ([]domain.ContentObject, error) {
	var out []domain.ContentObject

	for i := 1; i <= doc.PageCount(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := doc.Page(i)
		if err != nil {
			e.logger.Warn().Err(err).Int("page", i).Msg("Skipping page in text extraction")
			continue
		}

		blocks, err := page.TextBlocks()
		if err != nil {
			e.logger.Warn().Err(err).Int("page", i).Msg("Skipping page in text extraction")
			continue
		}

		rect := page.Rect()
		for _, block := range blocks {
			text := CleanLines(block.Lines)
			if text == "" {
				continue
			}
			out = append(out, domain.ContentObject{
				Kind:             domain.KindText,
				Page:             i,
				BBox:             block.BBox,
				RelativePosition: domain.Relativize(block.BBox, rect.Width(), rect.Height()),
				PageWidth:        rect.Width(),
				PageHeight:       rect.Height(),
				Text:             text,
			})
		}
	}

	return out, nil
}

// CleanLines normalizes each line and joins the non-empty ones with newlines.
func CleanLines(lines []string) string {
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if l := CleanText(line); l != "" {
			cleaned = append(cleaned, l)
		}
	}
	return strings.Join(cleaned, "\n")
}

// CleanText drops directional and zero-width marks and collapses runs of
// whitespace to a single space.
func CleanText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false

	for _, r := range s {
		if isArtifact(r) {
			continue
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}

	return sb.String()
}

func isArtifact(r rune) bool {
	switch {
	case r >= '\u200b' && r <= '\u200f':
		return true
	case r >= '\u202a' && r <= '\u202e':
		return true
	case r >= '\u2066' && r <= '\u2069':
		return true
	case r == '\ufeff', r == '\u00ad', r == '\ufffd', r == 0:
		return true
	}
	return false
}
