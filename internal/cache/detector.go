package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/doppelganger/personaprep/internal/filter"
)

// undetermined is stored for texts the detector could not classify, so
// repeated texts skip detection either way
const undetermined = "-"

const detectTimeout = 200 * time.Millisecond

// CachedDetector memoizes language detection results in Redis. Redis
// failures fall through to the wrapped detector.
type CachedDetector struct {
	next   filter.LanguageDetector
	cache  *Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedDetector wraps next with the cache. A nil cache returns next unchanged.
func NewCachedDetector(next filter.LanguageDetector, c *Cache, ttl time.Duration, logger *zap.Logger) filter.LanguageDetector {
	if c == nil {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedDetector{
		next:   next,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "language-cache")),
	}
}

// Detect implements filter.LanguageDetector
func (d *CachedDetector) Detect(text string) (string, error) {
	key := "lang:" + HashKey(text)

	ctx, cancel := context.WithTimeout(context.Background(), detectTimeout)
	defer cancel()

	cached, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		if cached == undetermined {
			return "", filter.ErrUndetermined
		}
		return cached, nil
	case !errors.Is(err, ErrMiss):
		d.logger.Debug("Language cache read failed", zap.Error(err))
	}

	lang, detectErr := d.next.Detect(text)
	value := lang
	if detectErr != nil {
		if !errors.Is(detectErr, filter.ErrUndetermined) {
			return "", detectErr
		}
		value = undetermined
	}

	if err := d.cache.Set(ctx, key, value, d.ttl); err != nil {
		d.logger.Debug("Language cache write failed", zap.Error(err))
	}
	return lang, detectErr
}
