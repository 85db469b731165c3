package runner

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/blob"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/config"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/embedding"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/extract"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/layout"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/merge"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/pdf"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/structuring"
)

// Output is what one document produces before persistence.
type Output struct {
	Components     []domain.Component
	Assets         []domain.ContentObject
	PageSizes      []domain.PageSize
	Chunks         []embedding.Chunk
	EmbeddingModel string
}

// Processor turns a local PDF into structured output.
type Processor interface {
	Process(ctx context.Context, name, path, workDir string) (*Output, error)
}

// Pipeline runs extraction, grouping, publication, structuring, merge and
// embedding for one document.
type Pipeline struct {
	opener       pdf.Opener
	validator    *pdf.Validator
	detector     layout.Detector
	extraction   config.ExtractionConfig
	publisher    *blob.Publisher
	orchestrator *structuring.Orchestrator
	embedder     embedding.Embedder
	embedBatch   int
	logger       *observability.Logger

	// OnOpen, when set, receives the page count once the document is decoded.
	OnOpen func(pages int)
}

// PipelineDeps are the collaborators a Pipeline needs. Publisher and
// Embedder may be nil.
type PipelineDeps struct {
	Opener       pdf.Opener
	Validator    *pdf.Validator
	Detector     layout.Detector
	Extraction   config.ExtractionConfig
	Publisher    *blob.Publisher
	Orchestrator *structuring.Orchestrator
	Embedder     embedding.Embedder
	EmbedBatch   int
}

// NewPipeline creates a pipeline.
func NewPipeline(deps PipelineDeps, logger *observability.Logger) *Pipeline {
	detector := deps.Detector
	if detector == nil {
		detector = layout.NoopDetector{}
	}
	return &Pipeline{
		opener:       deps.Opener,
		validator:    deps.Validator,
		detector:     detector,
		extraction:   deps.Extraction,
		publisher:    deps.Publisher,
		orchestrator: deps.Orchestrator,
		embedder:     deps.Embedder,
		embedBatch:   deps.EmbedBatch,
		logger:       logger,
	}
}

// Process runs the pipeline on path. Assets are written under workDir.
func (p *Pipeline) Process(ctx context.Context, name, path, workDir string) (*Output, error) {
	start := time.Now()

	if p.validator != nil {
		if err := p.validator.ValidatePDFPath(path); err != nil {
			return nil, err
		}
	}

	doc, err := p.opener.Open(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if p.OnOpen != nil {
		p.OnOpen(doc.PageCount())
	}

	sizes, err := pdf.PageSizes(doc)
	if err != nil {
		return nil, err
	}

	writer, err := extract.NewAssetWriter(filepath.Join(workDir, "assets"))
	if err != nil {
		return nil, err
	}
	dedup := extract.NewAssetDeduplicator()

	objects, err := extract.RunAll(ctx, p.logger, doc,
		extract.NewTextExtractor(p.logger),
		extract.NewImageExtractor(p.logger, dedup, writer),
		extract.NewTableExtractor(p.logger, dedup, writer, p.detector, p.extraction.Table, p.extraction.RasterDPI),
	)
	if err != nil {
		return nil, err
	}
	objects = extract.NewSpatialGrouper().Group(objects)

	if p.publisher != nil {
		remote := p.publisher.Publish(ctx, name, objects)
		p.logger.Debug().Int("remote", remote).Msg("Assets published")
	}

	var assets []domain.ContentObject
	for _, o := range objects {
		if o.Kind.IsAsset() {
			assets = append(assets, o)
		}
	}

	p.logger.Info().
		Int("pages", doc.PageCount()).
		Int("objects", len(objects)).
		Int("assets", len(assets)).
		Msg("Extraction complete")

	pages := p.orchestrator.StructureDocument(ctx, objects)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	components := merge.Merge(pages, assets)

	out := &Output{
		Components: components,
		Assets:     assets,
		PageSizes:  sizes,
	}

	if p.embedder != nil {
		chunks := embedding.BuildChunks(components)
		if err := embedding.Index(ctx, p.embedder, chunks, p.embedBatch); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn().Err(err).Int("chunks", len(chunks)).Msg("Embedding failed, continuing without embeddings")
		} else {
			out.Chunks = chunks
			out.EmbeddingModel = p.embedder.Model()
		}
	}

	p.logger.Info().
		Int("components", len(components)).
		Int("chunks", len(out.Chunks)).
		Dur("duration", time.Since(start)).
		Msg("Document structured")

	return out, nil
}
