package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
)

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("First sentence here. Second one?  Third! trailing e.g.without space")
	assert.Equal(t, []string{"First sentence here.", "Second one?", "Third!", "trailing e.g.without space"}, got)
	assert.Empty(t, SplitSentences("   "))
}

func TestBuildChunks(t *testing.T) {
	components := []domain.Component{
		{Type: domain.TypeHeading, Page: 1, Props: &domain.HeadingProps{Text: "1 Introduction", Level: 2}},
		{Type: domain.TypeText, Page: 1, Props: &domain.TextProps{Text: "Transformers changed NLP. Short. They use attention."}},
		{Type: domain.TypeEquation, Page: 1, Props: &domain.EquationProps{Latex: `\sigma(x)`, Number: "(1)"}},
		{Type: domain.TypeImage, Page: 1, Props: &domain.ImageProps{Src: "a.png"}},
		{Type: domain.TypeFigureCaption, Page: 2, Props: &domain.TextProps{Text: "Figure 1: Model."}},
		{Type: domain.TypeList, Page: 2, Props: &domain.ListProps{Items: []string{"first list item", "x"}}},
	}

	chunks := BuildChunks(components)
	require.Len(t, chunks, 6)

	assert.Equal(t, ChunkHeading, chunks[0].Type)
	assert.Equal(t, 2, chunks[0].HeadingLevel)

	assert.Equal(t, ChunkSentence, chunks[1].Type)
	assert.Equal(t, "Transformers changed NLP.", chunks[1].Content)
	assert.Equal(t, "1 Introduction", chunks[1].SectionTitle)
	assert.Equal(t, "Transformers changed NLP. Short. They use attention.", chunks[1].ParagraphText)
	assert.Equal(t, "They use attention.", chunks[2].Content)
	assert.Equal(t, 2, chunks[2].SentenceIndex)

	assert.Equal(t, `Equation (1): \sigma(x)`, chunks[3].Content)
	assert.Equal(t, ChunkCaption, chunks[4].Type)
	assert.Equal(t, ChunkListItem, chunks[5].Type)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEqual(t, [16]byte{}, [16]byte(c.ID))
	}
}

func TestIndex_Batches(t *testing.T) {
	chunks := make([]Chunk, 5)
	for i := range chunks {
		chunks[i].Content = string(rune('a'+i)) + " chunk text"
	}

	rec := &recordingEmbedder{MockClient: NewMockClient(8)}
	require.NoError(t, Index(context.Background(), rec, chunks, 2))
	assert.Equal(t, []int{2, 2, 1}, rec.batches)
	for _, c := range chunks {
		assert.Len(t, c.Vector, 8)
	}
}

type recordingEmbedder struct {
	*MockClient
	batches []int
}

func (r *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.batches = append(r.batches, len(texts))
	return r.MockClient.Embed(ctx, texts)
}

func TestClient_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL, Dimension: 2}, observability.NopLogger())
	require.NoError(t, err)

	vectors, err := client.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestClient_EmbedMissingVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL}, observability.NopLogger())
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"a", "b"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeTransport))
}

type memorySearcher struct {
	chunks []Chunk
}

func (m *memorySearcher) SearchChunks(ctx context.Context, file string, vector []float32, limit int) ([]Hit, error) {
	var hits []Hit
	for _, c := range m.chunks {
		hits = append(hits, Hit{Chunk: c, Distance: Cosine(vector, c.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *memorySearcher) ListChunks(ctx context.Context, file string) ([]Chunk, error) {
	return m.chunks, nil
}

func TestLookup(t *testing.T) {
	mock := NewMockClient(32)
	chunks := BuildChunks([]domain.Component{
		{Type: domain.TypeHeading, Props: &domain.HeadingProps{Text: "Methods"}},
		{Type: domain.TypeText, Props: &domain.TextProps{Text: "We train the model for ten epochs. Evaluation uses held-out data."}},
	})
	require.NoError(t, Index(context.Background(), mock, chunks, 10))

	got, err := Lookup(context.Background(), &memorySearcher{chunks: chunks}, mock, "doc", "We train the model for ten epochs.", 2)
	require.NoError(t, err)

	require.Len(t, got.Similar, 2)
	assert.Equal(t, "We train the model for ten epochs.", got.Similar[0].Chunk.Content)
	require.NotNil(t, got.Immediate)
	assert.Equal(t, "Methods", got.Immediate.Previous)
	assert.Equal(t, "Evaluation uses held-out data.", got.Immediate.Next)
	assert.Equal(t, "Methods", got.SectionTitle)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 1, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 1.0, Cosine([]float32{1}, []float32{1, 2}))
}
