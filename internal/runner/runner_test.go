package runner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/blob"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/config"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/embedding"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/pdf"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/queue"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/structuring"
)

func testConfig(t *testing.T) config.RunnerConfig {
	return config.RunnerConfig{
		PollInterval:    10 * time.Millisecond,
		ErrorBackoff:    10 * time.Millisecond,
		DownloadTimeout: 5 * time.Second,
		WorkDir:         t.TempDir(),
	}
}

func openStores(t *testing.T) (*storage.JobRepository, *storage.ResultRepository) {
	t.Helper()
	db, err := storage.Open(context.Background(), config.DatabaseConfig{Driver: storage.DriverSQLite, SQLite: config.SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Migrate(context.Background())
	require.NoError(t, err)
	return storage.NewJobRepository(db), storage.NewResultRepository(db)
}

type countingQueue struct {
	queue.Queue
	pops atomic.Int32
	err  error
}

func (q *countingQueue) Pop(ctx context.Context) (domain.JobPayload, bool, error) {
	q.pops.Add(1)
	if q.err != nil {
		return domain.JobPayload{}, false, q.err
	}
	return q.Queue.Pop(ctx)
}

type processorFunc func(ctx context.Context, name, path, workDir string) (*Output, error)

func (f processorFunc) Process(ctx context.Context, name, path, workDir string) (*Output, error) {
	return f(ctx, name, path, workDir)
}

func pdfServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.7\n%fake\n"))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunner_EmptyQueueRepolls(t *testing.T) {
	jobs, results := openStores(t)
	q := &countingQueue{Queue: queue.NewMemoryQueue()}
	r := New(q, jobs, results, nil, nil, testConfig(t), observability.NopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Run(ctx))
	assert.GreaterOrEqual(t, q.pops.Load(), int32(3))
}

func TestRunner_QueueErrorBacksOff(t *testing.T) {
	jobs, results := openStores(t)
	q := &countingQueue{Queue: queue.NewMemoryQueue(), err: domain.QueueError("redis down", nil)}
	cfg := testConfig(t)
	cfg.ErrorBackoff = 30 * time.Millisecond
	r := New(q, jobs, results, nil, nil, cfg, observability.NopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Run(ctx))
	pops := q.pops.Load()
	assert.GreaterOrEqual(t, pops, int32(2))
	assert.LessOrEqual(t, pops, int32(5))
}

func TestRunner_MalformedURLFails(t *testing.T) {
	ctx := context.Background()
	jobs, results := openStores(t)
	q := queue.NewMemoryQueue()

	called := false
	processor := processorFunc(func(ctx context.Context, name, path, workDir string) (*Output, error) {
		called = true
		return &Output{}, nil
	})
	r := New(q, jobs, results, processor, NewHTTPDownloader(time.Second, 0, observability.NopLogger()), testConfig(t), observability.NopLogger())

	job := &domain.Job{Name: "broken.pdf", SourceURL: "ht!tp://not a url"}
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, q.Push(ctx, domain.JobPayload{ID: job.ID.String(), Name: job.Name, URL: job.SourceURL}))

	processed, err := r.Step(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.False(t, called)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)

	n, err := results.Count(ctx, "pdf_objects", "broken.pdf")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunner_SuccessPersistsAndCleansUp(t *testing.T) {
	ctx := context.Background()
	jobs, results := openStores(t)
	q := queue.NewMemoryQueue()
	server := pdfServer(t)

	var workDir string
	processor := processorFunc(func(ctx context.Context, name, path, dir string) (*Output, error) {
		workDir = dir
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
		return &Output{
			Components: []domain.Component{
				{Type: domain.TypeHeading, Page: 1, Props: &domain.HeadingProps{Text: "Paper", Level: 1}},
				{Type: domain.TypeText, Page: 1, Props: &domain.TextProps{Text: "Body text."}},
			},
			PageSizes: []domain.PageSize{{Page: 1, Width: 612, Height: 792}},
		}, nil
	})
	r := New(q, jobs, results, processor, NewHTTPDownloader(time.Second, 1<<20, observability.NopLogger()), testConfig(t), observability.NopLogger())

	// Producers may push bare {name, url} payloads.
	require.NoError(t, q.Push(ctx, domain.JobPayload{Name: "paper.pdf", URL: server.URL + "/paper.pdf"}))

	processed, err := r.Step(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	components, err := results.ListComponents(ctx, "paper.pdf")
	require.NoError(t, err)
	assert.Len(t, components, 2)

	_, err = os.Stat(workDir)
	assert.True(t, os.IsNotExist(err), "work dir should be removed")
}

func TestRunner_ProcessorErrorMarksFailed(t *testing.T) {
	ctx := context.Background()
	jobs, results := openStores(t)
	q := queue.NewMemoryQueue()
	server := pdfServer(t)

	processor := processorFunc(func(ctx context.Context, name, path, dir string) (*Output, error) {
		return nil, domain.ValidationError("file does not start with a PDF header", nil)
	})
	r := New(q, jobs, results, processor, NewHTTPDownloader(time.Second, 0, observability.NopLogger()), testConfig(t), observability.NopLogger())

	job := &domain.Job{Name: "bad.pdf", SourceURL: server.URL + "/bad.pdf"}
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, q.Push(ctx, domain.JobPayload{ID: job.ID.String(), Name: job.Name, URL: job.SourceURL}))

	_, err := r.Step(ctx)
	require.NoError(t, err)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "PDF header")
}

func TestRunner_ProcessorPanicMarksFailed(t *testing.T) {
	ctx := context.Background()
	jobs, results := openStores(t)
	q := queue.NewMemoryQueue()
	server := pdfServer(t)
	cfg := testConfig(t)

	var workDir string
	processor := processorFunc(func(ctx context.Context, name, path, dir string) (*Output, error) {
		workDir = dir
		panic("decoder blew up")
	})
	r := New(q, jobs, results, processor, NewHTTPDownloader(time.Second, 0, observability.NopLogger()), cfg, observability.NopLogger())

	job := &domain.Job{Name: "crash.pdf", SourceURL: server.URL + "/crash.pdf"}
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, q.Push(ctx, domain.JobPayload{ID: job.ID.String(), Name: job.Name, URL: job.SourceURL}))

	var (
		taken bool
		err   error
	)
	require.NotPanics(t, func() { taken, err = r.Step(ctx) })
	require.NoError(t, err)
	assert.True(t, taken)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "decoder blew up")

	require.NotEmpty(t, workDir)
	_, statErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr), "work dir must be removed")

	n, err := results.Count(ctx, "pdf_objects", job.Name)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingResults struct{}

func (failingResults) Persist(ctx context.Context, res *storage.Result) error {
	return domain.PersistenceError("disk full", nil)
}

func TestRunner_PersistenceErrorMarksFailed(t *testing.T) {
	ctx := context.Background()
	jobs, _ := openStores(t)
	q := queue.NewMemoryQueue()
	server := pdfServer(t)

	processor := processorFunc(func(ctx context.Context, name, path, dir string) (*Output, error) {
		return &Output{}, nil
	})
	r := New(q, jobs, failingResults{}, processor, NewHTTPDownloader(time.Second, 0, observability.NopLogger()), testConfig(t), observability.NopLogger())

	job := &domain.Job{Name: "a.pdf", SourceURL: server.URL + "/a.pdf"}
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, q.Push(ctx, domain.JobPayload{ID: job.ID.String()}))

	_, err := r.Step(ctx)
	require.NoError(t, err)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "disk full")
}

func TestRunner_SkipsNonPendingJob(t *testing.T) {
	ctx := context.Background()
	jobs, results := openStores(t)
	q := queue.NewMemoryQueue()

	r := New(q, jobs, results, nil, nil, testConfig(t), observability.NopLogger())

	job := &domain.Job{Name: "a.pdf", SourceURL: "https://example.com/a.pdf"}
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, jobs.Transition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, ""))
	require.NoError(t, jobs.Transition(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusSuccess, ""))
	require.NoError(t, q.Push(ctx, domain.JobPayload{ID: job.ID.String()}))

	processed, err := r.Step(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccess, got.Status)
}

func TestHTTPDownloader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.pdf":
			http.NotFound(w, r)
		default:
			w.Write([]byte("%PDF-" + strings.Repeat("x", 100)))
		}
	}))
	defer server.Close()

	d := NewHTTPDownloader(time.Second, 50, observability.NopLogger())
	dest := filepath.Join(t.TempDir(), "out.pdf")

	err := d.Download(context.Background(), server.URL+"/big.pdf", dest)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	err = d.Download(context.Background(), server.URL+"/missing.pdf", dest)
	assert.True(t, domain.IsType(err, domain.ErrorTypeTransport))

	for _, raw := range []string{"", "ftp://host/a.pdf", "https://", "::"} {
		_, err := ValidateURL(raw)
		assert.Error(t, err, raw)
	}
}

func TestDocumentName(t *testing.T) {
	assert.Equal(t, "given.pdf", DocumentName(domain.JobPayload{Name: "given.pdf", URL: "https://x/y.pdf"}))
	assert.Equal(t, "y.pdf", DocumentName(domain.JobPayload{URL: "https://x/a/y.pdf?sig=1"}))
	assert.Equal(t, "document.pdf", DocumentName(domain.JobPayload{URL: "https://x/"}))
}

// Pipeline tests use an in-memory document.

type memPage struct {
	number int
	blocks []pdf.TextBlock
	images []pdf.EmbeddedImage
}

func (p *memPage) Number() int                          { return p.number }
func (p *memPage) Rect() domain.BBox                    { return domain.BBox{X1: 200, Y1: 200} }
func (p *memPage) TextBlocks() ([]pdf.TextBlock, error) { return p.blocks, nil }
func (p *memPage) Images() ([]pdf.EmbeddedImage, error) { return p.images, nil }
func (p *memPage) Raster(dpi float64) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 10, 10)), nil
}

type memDoc struct{ pages []*memPage }

func (d *memDoc) PageCount() int { return len(d.pages) }
func (d *memDoc) Page(i int) (pdf.Page, error) {
	if i < 1 || i > len(d.pages) {
		return nil, errors.New("page out of range")
	}
	return d.pages[i-1], nil
}
func (d *memDoc) Close() error { return nil }

type memOpener struct{ doc *memDoc }

func (o memOpener) Open(path string) (pdf.Document, error) { return o.doc, nil }

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return "```json\n[{\"type\":\"Heading\",\"props\":{\"text\":\"Results\",\"level\":2}},{\"type\":\"Text\",\"props\":{\"text\":\"We report accuracy. It improves by ten points.\"}},]\n```", nil
}

func TestPipeline_Process(t *testing.T) {
	square := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range square.Pix {
		square.Pix[i] = 200
	}
	square.Set(1, 1, color.RGBA{1, 2, 3, 255})

	doc := &memDoc{pages: []*memPage{{
		number: 1,
		blocks: []pdf.TextBlock{{BBox: domain.BBox{X0: 10, Y0: 10, X1: 190, Y1: 40}, Lines: []string{"Results", "We report accuracy. It improves by ten points."}}},
		images: []pdf.EmbeddedImage{{BBox: domain.BBox{X0: 10, Y0: 100, X1: 90, Y1: 180}, Image: square}},
	}}}

	assetsDir := t.TempDir()
	completer := &fakeCompleter{}
	var pages int
	p := NewPipeline(PipelineDeps{
		Opener:       memOpener{doc: doc},
		Extraction:   config.DefaultConfig().Extraction,
		Publisher:    blob.NewPublisher(nil, blob.NewLocalStore(assetsDir, "/pdf-assets"), "", observability.NopLogger()),
		Orchestrator: structuring.New(completer, structuring.DefaultOptions(), observability.NopLogger()),
		Embedder:     embedding.NewMockClient(16),
		EmbedBatch:   8,
	}, observability.NopLogger())
	p.OnOpen = func(n int) { pages = n }

	out, err := p.Process(context.Background(), "paper.pdf", "ignored.pdf", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Equal(t, 1, completer.calls)

	require.Len(t, out.Assets, 1)
	url := out.Assets[0].Asset.URL
	assert.True(t, strings.HasPrefix(url, "/pdf-assets/paper/page_1_img_0_"), url)
	_, err = os.Stat(filepath.Join(assetsDir, "paper", out.Assets[0].Asset.Filename))
	require.NoError(t, err)

	// The structuring response never mentions the image, so it is synthesized.
	var images []domain.Component
	for _, c := range out.Components {
		if c.Type == domain.TypeImage {
			images = append(images, c)
		}
	}
	require.Len(t, images, 1)
	assert.Equal(t, url, images[0].Assets()[0].Src)

	assert.Equal(t, domain.TypeHeading, out.Components[0].Type)
	require.NotEmpty(t, out.Chunks)
	assert.Equal(t, "mock-embedding-model", out.EmbeddingModel)
	for _, c := range out.Chunks {
		assert.Len(t, c.Vector, 16)
	}
	assert.Equal(t, []domain.PageSize{{Page: 1, Width: 200, Height: 200}}, out.PageSizes)
}

type failingEmbedder struct{ *embedding.MockClient }

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, domain.TransportError("embedding API status 500", nil)
}

func TestPipeline_EmbeddingFailureIsNotFatal(t *testing.T) {
	doc := &memDoc{pages: []*memPage{{
		number: 1,
		blocks: []pdf.TextBlock{{BBox: domain.BBox{X0: 10, Y0: 10, X1: 190, Y1: 40}, Lines: []string{"Some body text here."}}},
	}}}

	p := NewPipeline(PipelineDeps{
		Opener:       memOpener{doc: doc},
		Extraction:   config.DefaultConfig().Extraction,
		Orchestrator: structuring.New(&fakeCompleter{}, structuring.DefaultOptions(), observability.NopLogger()),
		Embedder:     failingEmbedder{embedding.NewMockClient(4)},
	}, observability.NopLogger())

	out, err := p.Process(context.Background(), "doc.pdf", "ignored.pdf", t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, out.Components)
	assert.Empty(t, out.Chunks)
	assert.Empty(t, out.EmbeddingModel)
}

func TestPipeline_ValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))

	p := NewPipeline(PipelineDeps{
		Opener:    memOpener{doc: &memDoc{}},
		Validator: pdf.NewValidator(0),
	}, observability.NopLogger())

	_, err := p.Process(context.Background(), "fake.pdf", path, t.TempDir())
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}
