// Package structuring turns extracted page content into typed components by
// way of an external text-structuring service.
package structuring

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/llm"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
)

// Heading policies.
const (
	HeadingsFirstPageOnly = "first_page_only"
	HeadingsKeepAll       = "keep_all"
)

// Options tunes the orchestrator.
type Options struct {
	MaxConcurrent int
	BatchChars    int
	CallTimeout   time.Duration
	HeadingPolicy string
	// OnPageDone, if set, is called once per page after it is structured.
	OnPageDone func(page int)
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrent: 3,
		BatchChars:    DefaultBatchChars,
		CallTimeout:   60 * time.Second,
		HeadingPolicy: HeadingsFirstPageOnly,
	}
}

// Orchestrator fans structuring calls out under one shared concurrency bound.
type Orchestrator struct {
	completer llm.Completer
	sem       *semaphore.Weighted
	opts      Options
	logger    *observability.Logger
}

// New creates an orchestrator. Zero-valued options fall back to defaults.
func New(completer llm.Completer, opts Options, logger *observability.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = def.MaxConcurrent
	}
	if opts.BatchChars <= 0 {
		opts.BatchChars = def.BatchChars
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	if opts.HeadingPolicy == "" {
		opts.HeadingPolicy = def.HeadingPolicy
	}
	return &Orchestrator{
		completer: completer,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		opts:      opts,
		logger:    logger,
	}
}

// StructureDocument structures every page that has content and returns the
// per-page component lists in ascending page order. A page that fails as a
// whole yields an empty list.
func (o *Orchestrator) StructureDocument(ctx context.Context, objects []domain.ContentObject) [][]domain.Component {
	byPage := domain.ByPage(objects)
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	results := make([][]domain.Component, len(pages))
	var g errgroup.Group

	for i, page := range pages {
		objs := byPage[page]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error().Int("page", page).Str("panic", fmt.Sprint(r)).Msg("Page structuring panicked")
					results[i] = nil
				}
			}()

			results[i] = o.StructurePage(ctx, page,
				domain.FilterKind(objs, domain.KindText),
				domain.FilterKind(objs, domain.KindImage),
				domain.FilterKind(objs, domain.KindTable),
			)
			if o.opts.OnPageDone != nil {
				o.opts.OnPageDone(page)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// StructurePage structures one page. Batch failures degrade to placeholder
// components; the call itself never fails.
func (o *Orchestrator) StructurePage(ctx context.Context, page int, text, images, tables []domain.ContentObject) []domain.Component {
	logger := o.logger.WithPage(page)
	assets := append(append([]domain.ContentObject{}, images...), tables...)
	refs := BuildReferences(text, images, tables)
	batches := Batch(text, o.opts.BatchChars)

	results := make([][]domain.Component, len(batches))
	var g errgroup.Group

	for i, batch := range batches {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Int("batch", i).Str("panic", fmt.Sprint(r)).Msg("Batch structuring panicked")
					results[i] = []domain.Component{Placeholder(page, fmt.Errorf("panic: %v", r))}
				}
			}()
			results[i] = o.structureBatch(ctx, logger, page, i, batch, assets, refs)
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.Component
	for _, r := range results {
		out = append(out, r...)
	}

	out = o.postProcess(page, out, assets, refs)
	logger.Debug().Int("batches", len(batches)).Int("components", len(out)).Msg("Page structured")
	return out
}

func (o *Orchestrator) structureBatch(ctx context.Context, logger *observability.Logger, page, idx int, batch, assets []domain.ContentObject, refs References) []domain.Component {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		logger.Warn().Err(err).Int("batch", idx).Msg("Structuring cancelled before dispatch")
		return []domain.Component{Placeholder(page, err)}
	}
	defer o.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	raw, err := o.completer.Complete(callCtx, systemPrompt, buildUserPrompt(page, batch, assets, refs))
	if err != nil {
		logger.Warn().Err(err).Int("batch", idx).Dur("elapsed", time.Since(start)).Msg("Structuring call failed")
		return []domain.Component{Placeholder(page, err)}
	}

	components, err := Decode(raw, logger)
	if err != nil {
		logger.Warn().Err(err).Int("batch", idx).Int("response_len", len(raw)).Msg("Structuring response unrecoverable")
		return []domain.Component{Placeholder(page, err)}
	}
	return components
}

// postProcess rewrites asset references, applies the heading policy and
// stamps the page number, which is authoritative over anything the service
// returned.
func (o *Orchestrator) postProcess(page int, components []domain.Component, assets []domain.ContentObject, refs References) []domain.Component {
	byIdentifier := make(map[string]domain.ContentObject, len(assets)*2)
	for _, a := range assets {
		if a.Asset == nil {
			continue
		}
		byIdentifier[a.Identifier()] = a
		byIdentifier[a.Asset.Filename] = a
	}

	out := components[:0]
	for _, c := range components {
		if c.Type == domain.TypeHeading && o.opts.HeadingPolicy == HeadingsFirstPageOnly && page != 1 {
			continue
		}
		for _, ref := range c.Assets() {
			if id, ok := refs.Resolve(ref.Src); ok {
				ref.Src = id
			}
			if a, ok := byIdentifier[ref.Src]; ok {
				annotate(ref, a)
			}
		}
		c.Page = page
		out = append(out, c)
	}
	return out
}

// annotate pins ref to asset a, filling in anything the service left out.
func annotate(ref *domain.ImageProps, a domain.ContentObject) {
	ref.Src = a.Identifier()
	ref.ContentHash = a.ContentHash
	if ref.GroupID == "" {
		ref.GroupID = a.GroupID
	}
	if ref.Width == 0 && ref.Height == 0 {
		ref.Width, ref.Height = a.Asset.Dimensions.Width, a.Asset.Dimensions.Height
	}
	if len(ref.BBox) == 0 {
		ref.BBox = a.BBox.Slice()
	}
}

// Placeholder is the Text component standing in for a batch that could not
// be structured.
func Placeholder(page int, err error) domain.Component {
	return domain.Component{
		Type: domain.TypeText,
		Page: page,
		Props: &domain.TextProps{
			Text:  fmt.Sprintf("[Content on page %d could not be structured]", page),
			Extra: domain.Extra{"placeholder": json.RawMessage("true"), "error": mustJSON(errString(err))},
		},
	}
}

// IsPlaceholder reports whether c was produced by Placeholder.
func IsPlaceholder(c domain.Component) bool {
	p, ok := c.Props.(*domain.TextProps)
	if !ok || p.Extra == nil {
		return false
	}
	return string(p.Extra["placeholder"]) == "true"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
