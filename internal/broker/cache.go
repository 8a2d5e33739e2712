package broker

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const accountNumbersKey = "account_numbers"

// CachedProvider caches the account list for a TTL. Account details are
// always fetched fresh since positions change between syncs.
type CachedProvider struct {
	provider DataProvider
	cache    *gocache.Cache
}

var _ DataProvider = (*CachedProvider)(nil)

// NewCachedProvider wraps provider with an account-list cache. A non-positive
// ttl disables caching.
func NewCachedProvider(provider DataProvider, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		return &CachedProvider{provider: provider}
	}
	return &CachedProvider{
		provider: provider,
		cache:    gocache.New(ttl, 2*ttl),
	}
}

// Connect connects the wrapped provider and drops anything cached.
func (c *CachedProvider) Connect(ctx context.Context) error {
	c.Invalidate()
	return c.provider.Connect(ctx)
}

// Close closes the wrapped provider and drops anything cached.
func (c *CachedProvider) Close() error {
	c.Invalidate()
	return c.provider.Close()
}

// Invalidate empties the cache.
func (c *CachedProvider) Invalidate() {
	if c.cache != nil {
		c.cache.Flush()
	}
}

// GetAccountNumbers returns the cached account list or fetches and caches it.
func (c *CachedProvider) GetAccountNumbers(ctx context.Context) ([]AccountNumber, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(accountNumbersKey); ok {
			cached := v.([]AccountNumber)
			out := make([]AccountNumber, len(cached))
			copy(out, cached)
			return out, nil
		}
	}
	accounts, err := c.provider.GetAccountNumbers(ctx)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		stored := make([]AccountNumber, len(accounts))
		copy(stored, accounts)
		c.cache.SetDefault(accountNumbersKey, stored)
	}
	return accounts, nil
}

// GetAccount passes through to the wrapped provider.
func (c *CachedProvider) GetAccount(ctx context.Context, hash string) (*AccountResponse, error) {
	return c.provider.GetAccount(ctx, hash)
}
