package structuring

import (
	"unicode/utf8"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// DefaultBatchChars is the default character budget of one request.
const DefaultBatchChars = 1200

// Batch splits text objects into consecutive runs whose combined text fits
// budget characters. A single object larger than budget forms its own batch.
func Batch(texts []domain.ContentObject, budget int) [][]domain.ContentObject {
	if budget <= 0 {
		budget = DefaultBatchChars
	}

	var batches [][]domain.ContentObject
	var current []domain.ContentObject
	size := 0

	for _, t := range texts {
		n := utf8.RuneCountInString(t.Text)
		if len(current) > 0 && size+n > budget {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, t)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
