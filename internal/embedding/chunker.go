package embedding

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// MinSentenceChars is the shortest sentence worth embedding.
const MinSentenceChars = 10

// Chunk types.
const (
	ChunkHeading  = "heading"
	ChunkSentence = "sentence"
	ChunkEquation = "equation"
	ChunkCaption  = "caption"
	ChunkListItem = "list_item"
)

// Chunk is one embeddable unit with its place in the document hierarchy.
type Chunk struct {
	ID            uuid.UUID `json:"id"`
	Index         int       `json:"chunk_index"`
	Type          string    `json:"chunk_type"`
	Content       string    `json:"content"`
	Page          int       `json:"page"`
	SectionTitle  string    `json:"section_title,omitempty"`
	HeadingLevel  int       `json:"heading_level,omitempty"`
	ParagraphText string    `json:"paragraph_text,omitempty"`
	SentenceIndex int       `json:"sentence_index"`
	Vector        []float32 `json:"-"`
}

// BuildChunks walks merged components in order and emits heading, sentence,
// equation, caption and list-item chunks. Sentences carry the enclosing
// section title and paragraph text.
func BuildChunks(components []domain.Component) []Chunk {
	var out []Chunk
	section := ""

	add := func(c Chunk) {
		c.ID = uuid.New()
		c.Index = len(out)
		c.SectionTitle = section
		out = append(out, c)
	}

	for _, comp := range components {
		switch comp.Type {
		case domain.TypeHeading:
			text := strings.TrimSpace(comp.Text())
			if text == "" {
				continue
			}
			section = text
			level := 1
			if p, ok := comp.Props.(*domain.HeadingProps); ok && p.Level > 0 {
				level = p.Level
			}
			add(Chunk{Type: ChunkHeading, Content: text, Page: comp.Page, HeadingLevel: level})

		case domain.TypeText, domain.TypeBlockquote:
			paragraph := strings.TrimSpace(comp.Text())
			for i, s := range SplitSentences(paragraph) {
				if utf8.RuneCountInString(s) < MinSentenceChars {
					continue
				}
				add(Chunk{Type: ChunkSentence, Content: s, Page: comp.Page, ParagraphText: paragraph, SentenceIndex: i})
			}

		case domain.TypeEquation:
			p, ok := comp.Props.(*domain.EquationProps)
			if !ok || strings.TrimSpace(p.Latex) == "" {
				continue
			}
			content := p.Latex
			if p.Number != "" {
				content = fmt.Sprintf("Equation %s: %s", p.Number, p.Latex)
			}
			add(Chunk{Type: ChunkEquation, Content: content, Page: comp.Page})

		case domain.TypeFigureTitle, domain.TypeFigureCaption:
			if text := strings.TrimSpace(comp.Text()); text != "" {
				add(Chunk{Type: ChunkCaption, Content: text, Page: comp.Page})
			}

		case domain.TypeList:
			p, ok := comp.Props.(*domain.ListProps)
			if !ok {
				continue
			}
			paragraph := strings.Join(p.Items, "\n")
			for i, item := range p.Items {
				item = strings.TrimSpace(item)
				if utf8.RuneCountInString(item) < MinSentenceChars {
					continue
				}
				add(Chunk{Type: ChunkListItem, Content: item, Page: comp.Page, ParagraphText: paragraph, SentenceIndex: i})
			}
		}
	}
	return out
}

// SplitSentences splits after '.', '!' or '?' when followed by whitespace.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)

	for i := 0; i < len(runes)-1; i++ {
		if strings.ContainsRune(".!?", runes[i]) && unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
