package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Index fills Vector on every chunk, embedding batchSize texts per call.
func Index(ctx context.Context, e Embedder, chunks []Chunk, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 64
	}

	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))

		texts := make([]string, 0, end-i)
		for _, c := range chunks[i:end] {
			texts = append(texts, c.Content)
		}

		vectors, err := e.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		for j, v := range vectors {
			chunks[i+j].Vector = v
		}
	}
	return nil
}

// Hit is a chunk returned by a similarity search.
type Hit struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

// Searcher reads stored chunks for one document.
type Searcher interface {
	SearchChunks(ctx context.Context, file string, vector []float32, limit int) ([]Hit, error)
	ListChunks(ctx context.Context, file string) ([]Chunk, error)
}

// Neighbors is the text immediately around a chunk.
type Neighbors struct {
	Previous string `json:"previous,omitempty"`
	Current  string `json:"current"`
	Next     string `json:"next,omitempty"`
}

// Context is everything known about a sentence selected in a document.
type Context struct {
	Sentence      string     `json:"clicked_sentence"`
	Similar       []Hit      `json:"similar_chunks"`
	Immediate     *Neighbors `json:"immediate_context"`
	SectionTitle  string     `json:"section_title,omitempty"`
	ParagraphText string     `json:"paragraph_text,omitempty"`
}

// Lookup finds the chunks most similar to sentence and, when the sentence
// itself is stored, its neighbors and hierarchy.
func Lookup(ctx context.Context, s Searcher, e Embedder, file, sentence string, limit int) (*Context, error) {
	sentence = strings.TrimSpace(sentence)
	out := &Context{Sentence: sentence}

	vectors, err := e.Embed(ctx, []string{sentence})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 1 {
		if out.Similar, err = s.SearchChunks(ctx, file, vectors[0], limit); err != nil {
			return nil, err
		}
	}

	chunks, err := s.ListChunks(ctx, file)
	if err != nil {
		return nil, err
	}
	for i, c := range chunks {
		if !strings.Contains(c.Content, sentence) {
			continue
		}
		n := &Neighbors{Current: c.Content}
		if i > 0 {
			n.Previous = chunks[i-1].Content
		}
		if i < len(chunks)-1 {
			n.Next = chunks[i+1].Content
		}
		out.Immediate = n
		out.SectionTitle = c.SectionTitle
		out.ParagraphText = c.ParagraphText
		break
	}
	return out, nil
}
