package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/embedding"
)

// Result is everything one job produces.
type Result struct {
	JobID          uuid.UUID
	File           string
	Components     []domain.Component
	Assets         []domain.ContentObject
	PageSizes      []domain.PageSize
	Chunks         []embedding.Chunk
	EmbeddingModel string
}

// ResultRepository writes and reads job output.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new result repository.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Persist writes components, assets and embeddings in one transaction,
// replacing earlier rows for the same file. When res.JobID is set the job
// moves from Processing to Success in the same transaction, so a job is
// either Success with all of its rows or has none of them.
func (r *ResultRepository) Persist(ctx context.Context, res *Result) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.clear(ctx, tx, res.File); err != nil {
			return err
		}
		if err := r.insertComponents(ctx, tx, res); err != nil {
			return err
		}
		if err := r.insertAssets(ctx, tx, res); err != nil {
			return err
		}
		if err := r.insertChunks(ctx, tx, res); err != nil {
			return err
		}
		if res.JobID != uuid.Nil {
			return transition(ctx, r.db, tx, res.JobID, domain.JobStatusProcessing, domain.JobStatusSuccess, "")
		}
		return nil
	})
}

func (r *ResultRepository) clear(ctx context.Context, tx *sql.Tx, file string) error {
	for _, table := range []string{"pdf_objects", "pdf_assets", "pdf_embeddings"} {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM `+table+` WHERE file = $1`), file); err != nil {
			return domain.PersistenceError("clear "+table, err)
		}
	}
	return nil
}

func (r *ResultRepository) insertComponents(ctx context.Context, tx *sql.Tx, res *Result) error {
	sizes := make(map[int]domain.PageSize, len(res.PageSizes))
	for _, s := range res.PageSizes {
		sizes[s.Page] = s
	}

	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
		INSERT INTO pdf_objects (job_id, file, seq, page, type, content, bbox, page_width, page_height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`))
	if err != nil {
		return domain.PersistenceError("prepare component insert", err)
	}
	defer stmt.Close()

	for i, c := range res.Components {
		content, err := json.Marshal(c.Props)
		if err != nil {
			return domain.ConversionError("marshal component props", err)
		}

		var bbox any
		if p, ok := c.Props.(*domain.ImageProps); ok && len(p.BBox) == 4 {
			b, _ := json.Marshal(p.BBox)
			bbox = string(b)
		}

		var width, height any
		if s, ok := sizes[c.Page]; ok {
			width, height = s.Width, s.Height
		}

		_, err = stmt.ExecContext(ctx,
			jobID(res.JobID), res.File, i, c.Page, string(c.Type), stripJSONNUL(string(content)), bbox, width, height,
		)
		if err != nil {
			return domain.PersistenceError("insert component", err)
		}
	}
	return nil
}

func (r *ResultRepository) insertAssets(ctx context.Context, tx *sql.Tx, res *Result) error {
	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
		INSERT INTO pdf_assets (job_id, file, page, kind, filename, url, content_hash, group_id, width, height, bbox)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`))
	if err != nil {
		return domain.PersistenceError("prepare asset insert", err)
	}
	defer stmt.Close()

	for _, o := range res.Assets {
		if o.Asset == nil {
			continue
		}
		bbox, _ := json.Marshal(o.BBox.Slice())
		_, err := stmt.ExecContext(ctx,
			jobID(res.JobID), res.File, o.Page, string(o.Kind), o.Asset.Filename, o.Asset.URL,
			o.ContentHash, o.GroupID, o.Asset.Dimensions.Width, o.Asset.Dimensions.Height, string(bbox),
		)
		if err != nil {
			return domain.PersistenceError("insert asset", err)
		}
	}
	return nil
}

func (r *ResultRepository) insertChunks(ctx context.Context, tx *sql.Tx, res *Result) error {
	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
		INSERT INTO pdf_embeddings (id, job_id, file, chunk_index, chunk_type, content, page,
			section_title, heading_level, paragraph_text, sentence_index, model, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`))
	if err != nil {
		return domain.PersistenceError("prepare embedding insert", err)
	}
	defer stmt.Close()

	for _, c := range res.Chunks {
		if len(c.Vector) == 0 {
			continue
		}
		vector, err := r.encodeVector(c.Vector)
		if err != nil {
			return err
		}
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		_, err = stmt.ExecContext(ctx,
			id.String(), jobID(res.JobID), res.File, c.Index, c.Type, stripNUL(c.Content), c.Page,
			stripNUL(c.SectionTitle), c.HeadingLevel, stripNUL(c.ParagraphText), c.SentenceIndex,
			res.EmbeddingModel, vector,
		)
		if err != nil {
			return domain.PersistenceError("insert embedding", err)
		}
	}
	return nil
}

func (r *ResultRepository) encodeVector(v []float32) (any, error) {
	if r.db.driver == DriverPostgres {
		return pgvector.NewVector(v), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, domain.ConversionError("marshal embedding", err)
	}
	return string(b), nil
}

func (r *ResultRepository) decodeVector(raw any) ([]float32, error) {
	if r.db.driver == DriverPostgres {
		var v pgvector.Vector
		if err := v.Scan(raw); err != nil {
			return nil, err
		}
		return v.Slice(), nil
	}
	var s string
	switch t := raw.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ListComponents returns a file's stored components in order.
func (r *ResultRepository) ListComponents(ctx context.Context, file string) ([]domain.Component, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT page, type, content FROM pdf_objects WHERE file = $1 ORDER BY seq
	`), file)
	if err != nil {
		return nil, domain.PersistenceError("list components", err)
	}
	defer rows.Close()

	var out []domain.Component
	for rows.Next() {
		var (
			c       domain.Component
			typ     string
			content []byte
		)
		if err := rows.Scan(&c.Page, &typ, &content); err != nil {
			return nil, domain.PersistenceError("scan component", err)
		}
		c.Type = domain.ComponentType(typ)
		if c.Props, err = domain.DecodeProps(c.Type, content); err != nil {
			return nil, domain.ConversionError("decode stored component", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError("list components", err)
	}
	return out, nil
}

// Count returns the number of rows stored for file in table.
func (r *ResultRepository) Count(ctx context.Context, table, file string) (int, error) {
	switch table {
	case "pdf_objects", "pdf_assets", "pdf_embeddings":
	default:
		return 0, domain.ValidationError("unknown table "+table, nil)
	}
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE file = $1`), file).Scan(&n)
	if err != nil {
		return 0, domain.PersistenceError("count "+table, err)
	}
	return n, nil
}

func jobID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

// stripNUL removes raw NUL characters, which stores reject.
func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// stripJSONNUL removes raw NULs and \u0000 escapes from JSON text, leaving
// escaped backslashes followed by "u0000" intact.
func stripJSONNUL(s string) string {
	s = stripNUL(s)
	if !strings.Contains(s, `\u0000`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		if strings.HasPrefix(s[i+1:], "u0000") {
			i += 5
			continue
		}
		b.WriteByte(s[i])
		b.WriteByte(s[i+1])
		i++
	}
	return b.String()
}
