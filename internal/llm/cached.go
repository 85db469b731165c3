package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/cache"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
)

// CachedCompleter memoizes responses by prompt digest. Responses replace,
// never append, so replaying a cached answer is equivalent to a retry.
type CachedCompleter struct {
	next   Completer
	cache  cache.Client
	ttl    time.Duration
	model  string
	logger *observability.Logger

	// Accept, when set, decides whether a response may be stored. Rejected
	// responses are still returned to the caller.
	Accept func(response string) bool
}

// NewCachedCompleter wraps next with cache c. model is folded into the key so
// switching models does not serve stale answers.
func NewCachedCompleter(next Completer, c cache.Client, ttl time.Duration, model string, logger *observability.Logger) *CachedCompleter {
	return &CachedCompleter{next: next, cache: c, ttl: ttl, model: model, logger: logger}
}

// Complete serves from cache when possible. Cache failures fall through to
// the wrapped completer.
func (c *CachedCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	key := promptKey(c.model, systemPrompt, userPrompt)

	if data, err := c.cache.Get(ctx, key); err == nil {
		return string(data), nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Msg("Response cache read failed")
	}

	out, err := c.next.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}

	if c.Accept != nil && !c.Accept(out) {
		c.logger.Debug().Int("response_len", len(out)).Msg("Response not cached, rejected by validator")
		return out, nil
	}
	if err := c.cache.Set(ctx, key, []byte(out), c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("Response cache write failed")
	}
	return out, nil
}

func promptKey(model, systemPrompt, userPrompt string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(systemPrompt))
	h.Write([]byte{0})
	h.Write([]byte(userPrompt))
	return "structure:" + hex.EncodeToString(h.Sum(nil))
}
