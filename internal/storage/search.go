package storage

import (
	"context"
	"database/sql"
	"sort"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/embedding"
)

const chunkColumns = `id, chunk_index, chunk_type, content, page, section_title, heading_level, paragraph_text, sentence_index, embedding`

// SearchChunks returns the limit chunks of file nearest to vector by cosine
// distance. PostgreSQL ranks with pgvector; SQLite ranks in process.
func (r *ResultRepository) SearchChunks(ctx context.Context, file string, vector []float32, limit int) ([]embedding.Hit, error) {
	if limit <= 0 {
		limit = 3
	}

	if r.db.driver == DriverPostgres {
		rows, err := r.db.QueryContext(ctx, `
			SELECT `+chunkColumns+`, embedding <=> $2 AS distance
			FROM pdf_embeddings
			WHERE file = $1
			ORDER BY distance
			LIMIT $3
		`, file, pgvector.NewVector(vector), limit)
		if err != nil {
			return nil, domain.PersistenceError("search embeddings", err)
		}
		defer rows.Close()

		var hits []embedding.Hit
		for rows.Next() {
			var distance float64
			c, err := r.scanChunk(rows, &distance)
			if err != nil {
				return nil, err
			}
			hits = append(hits, embedding.Hit{Chunk: c, Distance: distance})
		}
		if err := rows.Err(); err != nil {
			return nil, domain.PersistenceError("search embeddings", err)
		}
		return hits, nil
	}

	chunks, err := r.ListChunks(ctx, file)
	if err != nil {
		return nil, err
	}
	hits := make([]embedding.Hit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, embedding.Hit{Chunk: c, Distance: embedding.Cosine(vector, c.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ListChunks returns every stored chunk of file in document order.
func (r *ResultRepository) ListChunks(ctx context.Context, file string) ([]embedding.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT `+chunkColumns+`
		FROM pdf_embeddings
		WHERE file = $1
		ORDER BY chunk_index
	`), file)
	if err != nil {
		return nil, domain.PersistenceError("list embeddings", err)
	}
	defer rows.Close()

	var out []embedding.Chunk
	for rows.Next() {
		c, err := r.scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError("list embeddings", err)
	}
	return out, nil
}

func (r *ResultRepository) scanChunk(rows *sql.Rows, extra ...any) (embedding.Chunk, error) {
	var (
		c     embedding.Chunk
		rawID string
		raw   any
	)
	dest := append([]any{
		&rawID, &c.Index, &c.Type, &c.Content, &c.Page, &c.SectionTitle,
		&c.HeadingLevel, &c.ParagraphText, &c.SentenceIndex, &raw,
	}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return c, domain.PersistenceError("scan embedding", err)
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return c, domain.PersistenceError("parse embedding id", err)
	}
	c.ID = id

	if c.Vector, err = r.decodeVector(raw); err != nil {
		return c, domain.ConversionError("decode embedding vector", err)
	}
	return c, nil
}

var _ embedding.Searcher = (*ResultRepository)(nil)
