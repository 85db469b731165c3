package blob

import (
	"context"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
)

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Publisher assigns a public URL to every asset object, trying the remote
// store first and the local store second. An asset neither store accepts
// keeps an empty URL and is identified by its filename.
type Publisher struct {
	remote Store
	local  *LocalStore
	prefix string
	logger *observability.Logger
}

// NewPublisher creates a publisher. remote may be nil.
func NewPublisher(remote Store, local *LocalStore, prefix string, logger *observability.Logger) *Publisher {
	return &Publisher{remote: remote, local: local, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Publish sets Asset.URL on the asset objects of document in place and
// returns how many were published remotely.
func (p *Publisher) Publish(ctx context.Context, document string, objects []domain.ContentObject) int {
	doc := DocumentSegment(document)
	remote := 0

	for i := range objects {
		o := &objects[i]
		if !o.Kind.IsAsset() || o.Asset == nil || o.Asset.URL != "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return remote
		}

		data, err := os.ReadFile(o.Asset.Path)
		if err != nil {
			p.logger.Warn().Err(err).Str("filename", o.Asset.Filename).Msg("Asset file missing, leaving unpublished")
			continue
		}

		if p.remote != nil {
			key := path.Join(p.prefix, doc, o.Asset.Filename)
			url, err := p.remote.Put(ctx, key, data, "image/png")
			if err == nil && url != "" {
				o.Asset.URL = url
				remote++
				continue
			}
			p.logger.Warn().Err(err).Str("filename", o.Asset.Filename).Msg("Remote upload failed, using local fallback")
		}

		if p.local == nil {
			continue
		}
		url, err := p.local.Put(ctx, path.Join(doc, o.Asset.Filename), data, "image/png")
		if err != nil {
			p.logger.Warn().Err(err).Str("filename", o.Asset.Filename).Msg("Local fallback failed")
			continue
		}
		o.Asset.URL = url
	}

	return remote
}

// DocumentSegment turns a document name into a safe single path segment.
func DocumentSegment(name string) string {
	name = strings.TrimSuffix(path.Base(strings.ReplaceAll(name, "\\", "/")), ".pdf")
	name = strings.Trim(unsafeSegment.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "document"
	}
	return name
}
