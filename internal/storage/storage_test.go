package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/config"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/embedding"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: DriverSQLite, SQLite: config.SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	applied, err := db.Migrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0001_init"}, applied)
	return db
}

func TestRebind(t *testing.T) {
	sqlite := &DB{driver: DriverSQLite}
	pg := &DB{driver: DriverPostgres}

	q := `SELECT * FROM t WHERE a = $1 AND b = $12`
	assert.Equal(t, `SELECT * FROM t WHERE a = ?1 AND b = ?12`, sqlite.Rebind(q))
	assert.Equal(t, q, pg.Rebind(q))
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)

	applied, err := db.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

func TestJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	jobs := NewJobRepository(openTestDB(t))

	job := &domain.Job{Name: "paper.pdf", SourceURL: "https://example.com/paper.pdf"}
	require.NoError(t, jobs.Create(ctx, job))
	require.NotEqual(t, uuid.Nil, job.ID)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, "paper.pdf", got.Name)

	require.NoError(t, jobs.Transition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, ""))

	err = jobs.Transition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, "")
	assert.True(t, errors.Is(err, ErrConflict))

	err = jobs.Transition(ctx, job.ID, domain.JobStatusSuccess, domain.JobStatusProcessing, "")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	require.NoError(t, jobs.Transition(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusFailed, "download failed\x00"))
	got, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "download failed", got.Error)

	_, err = jobs.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func sampleResult(jobID uuid.UUID) *Result {
	return &Result{
		JobID: jobID,
		File:  "paper.pdf",
		Components: []domain.Component{
			{Type: domain.TypeHeading, Page: 1, Props: &domain.HeadingProps{Text: "Title", Level: 1}},
			{Type: domain.TypeText, Page: 1, Props: &domain.TextProps{Text: "bad\x00byte and \\u0000 escape"}},
			{Type: domain.TypeImage, Page: 2, Props: &domain.ImageProps{Src: "page_2_image_0_ab.png", BBox: []float64{1, 2, 3, 4}}},
		},
		Assets: []domain.ContentObject{{
			Kind: domain.KindImage, Page: 2, BBox: domain.BBox{X0: 1, Y0: 2, X1: 3, Y1: 4},
			Asset:       &domain.Asset{Filename: "page_2_image_0_ab.png", Dimensions: domain.Dimensions{Width: 10, Height: 20}},
			ContentHash: "ab",
		}},
		PageSizes: []domain.PageSize{{Page: 1, Width: 612, Height: 792}, {Page: 2, Width: 612, Height: 792}},
		Chunks: []embedding.Chunk{
			{ID: uuid.New(), Index: 0, Type: embedding.ChunkHeading, Content: "Title", Vector: []float32{1, 0}},
			{ID: uuid.New(), Index: 1, Type: embedding.ChunkSentence, Content: "Second sentence.", SectionTitle: "Title", Vector: []float32{0, 1}},
		},
		EmbeddingModel: "mock",
	}
}

func TestResultRepository_PersistSuccess(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	jobs := NewJobRepository(db)
	results := NewResultRepository(db)

	job := &domain.Job{Name: "paper.pdf", SourceURL: "https://example.com/paper.pdf"}
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, jobs.Transition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, ""))

	require.NoError(t, results.Persist(ctx, sampleResult(job.ID)))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccess, got.Status)

	components, err := results.ListComponents(ctx, "paper.pdf")
	require.NoError(t, err)
	require.Len(t, components, 3)
	assert.Equal(t, "badbyte and \\u0000 escape", components[1].Text())
	assert.Equal(t, domain.TypeImage, components[2].Type)
	assert.Equal(t, 2, components[2].Page)

	n, err := results.Count(ctx, "pdf_assets", "paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = results.Count(ctx, "pdf_embeddings", "paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResultRepository_PersistRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	jobs := NewJobRepository(db)
	results := NewResultRepository(db)

	job := &domain.Job{Name: "paper.pdf", SourceURL: "https://example.com/paper.pdf"}
	require.NoError(t, jobs.Create(ctx, job))

	// Still Pending, so the final status update conflicts.
	err := results.Persist(ctx, sampleResult(job.ID))
	require.ErrorIs(t, err, ErrConflict)

	for _, table := range []string{"pdf_objects", "pdf_assets", "pdf_embeddings"} {
		n, err := results.Count(ctx, table, "paper.pdf")
		require.NoError(t, err)
		assert.Zero(t, n, table)
	}

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
}

func TestResultRepository_PersistReplacesFile(t *testing.T) {
	ctx := context.Background()
	results := NewResultRepository(openTestDB(t))

	require.NoError(t, results.Persist(ctx, sampleResult(uuid.Nil)))
	require.NoError(t, results.Persist(ctx, sampleResult(uuid.Nil)))

	n, err := results.Count(ctx, "pdf_objects", "paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestResultRepository_SearchChunks(t *testing.T) {
	ctx := context.Background()
	results := NewResultRepository(openTestDB(t))
	require.NoError(t, results.Persist(ctx, sampleResult(uuid.Nil)))

	hits, err := results.SearchChunks(ctx, "paper.pdf", []float32{0.1, 0.9}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Second sentence.", hits[0].Chunk.Content)
	assert.Equal(t, "Title", hits[0].Chunk.SectionTitle)

	chunks, err := results.ListChunks(ctx, "paper.pdf")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []float32{1, 0}, chunks[0].Vector)

	_, err = results.Count(ctx, "users", "paper.pdf")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestStripNUL(t *testing.T) {
	assert.Equal(t, "ab", stripNUL("a\x00b"))
	assert.Equal(t, "clean", stripNUL("clean"))
	assert.Equal(t, `{"t":"ab"}`, stripJSONNUL(`{"t":"a\u0000b"}`))
	assert.Equal(t, `{"t":"a\\u0000b"}`, stripJSONNUL(`{"t":"a\\u0000b"}`))
	assert.Equal(t, `{"t":"ab\n"}`, stripJSONNUL("{\"t\":\"a\x00b\\n\"}"))
}
