package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SecretFetcher loads the current signing secret from the provider.
type SecretFetcher interface {
	WebhookSigningSecret(ctx context.Context) (string, error)
}

// SecretFetcherFunc adapts a function to SecretFetcher.
type SecretFetcherFunc func(ctx context.Context) (string, error)

func (f SecretFetcherFunc) WebhookSigningSecret(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticSecret always returns the configured secret.
func StaticSecret(secret string) SecretFetcher {
	return SecretFetcherFunc(func(context.Context) (string, error) {
		if secret == "" {
			return "", errors.New("static signing secret is empty")
		}
		return secret, nil
	})
}

// DefaultRefetchInterval bounds how often Invalidate may force a new fetch.
const DefaultRefetchInterval = time.Minute

// SecretCache keeps the signing secret in process memory for ttl.
type SecretCache struct {
	fetcher    SecretFetcher
	ttl        time.Duration
	minRefetch time.Duration
	now        func() time.Time

	mu        sync.Mutex
	secret    string
	fetchedAt time.Time
}

// SecretCacheOption customizes a SecretCache.
type SecretCacheOption func(*SecretCache)

// WithRefetchInterval sets the minimum age a cached secret must reach before
// Invalidate drops it. Zero disables the limit.
func WithRefetchInterval(d time.Duration) SecretCacheOption {
	return func(c *SecretCache) {
		if d >= 0 {
			c.minRefetch = d
		}
	}
}

// NewSecretCache wraps fetcher; ttl <= 0 caches until Invalidate is called.
func NewSecretCache(fetcher SecretFetcher, ttl time.Duration, opts ...SecretCacheOption) (*SecretCache, error) {
	if fetcher == nil {
		return nil, errors.New("secret fetcher is required")
	}
	c := &SecretCache{fetcher: fetcher, ttl: ttl, minRefetch: DefaultRefetchInterval, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Secret returns the cached secret while fresh, otherwise fetches a new one.
// A failed fetch leaves the cache empty.
func (c *SecretCache) Secret(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.secret != "" && (c.ttl <= 0 || c.now().Sub(c.fetchedAt) < c.ttl) {
		return c.secret, nil
	}

	secret, err := c.fetcher.WebhookSigningSecret(ctx)
	if err != nil {
		c.secret = ""
		return "", fmt.Errorf("fetch webhook signing secret: %w", err)
	}
	if secret == "" {
		c.secret = ""
		return "", errors.New("fetch webhook signing secret: empty secret")
	}
	c.secret = secret
	c.fetchedAt = c.now()
	return secret, nil
}

// Invalidate drops the cached secret so the next call refetches. A secret
// fetched less than the refetch interval ago is kept, and false is returned.
// Unsigned traffic therefore costs at most one provider call per interval.
func (c *SecretCache) Invalidate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secret != "" && c.now().Sub(c.fetchedAt) < c.minRefetch {
		return false
	}
	c.secret = ""
	return true
}
