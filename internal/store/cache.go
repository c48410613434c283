package store

import (
	"context"
	"sync"
	"time"
)

// cachedClient is a client and the time it should be evicted.
type cachedClient struct {
	client  OAuthClient
	expires time.Time
}

// CachingStore wraps a Store with a small read-through TTL cache over
// GetClient, invalidated on any client mutation (spec.md §4.2: "1h TTL;
// cache invalidated on any client mutation"). It generalizes the teacher's
// in-memory keys cache in server/oauth2.go ("TODO(ericchiang): Cache
// this.") from signing keys to OAuth clients, which this gateway's
// authorize/token hot path reads on every request.
type CachingStore struct {
	Store
	ttl time.Duration

	mu    sync.Mutex
	cache map[string]cachedClient
}

// NewCachingStore wraps st with a client cache using the given TTL. A TTL
// of zero disables caching (every call passes through to st).
func NewCachingStore(st Store, ttl time.Duration) *CachingStore {
	return &CachingStore{Store: st, ttl: ttl, cache: make(map[string]cachedClient)}
}

func (c *CachingStore) GetClient(ctx context.Context, clientID string) (OAuthClient, error) {
	if c.ttl <= 0 {
		return c.Store.GetClient(ctx, clientID)
	}

	c.mu.Lock()
	entry, ok := c.cache[clientID]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.client, nil
	}

	client, err := c.Store.GetClient(ctx, clientID)
	if err != nil {
		return client, err
	}

	c.mu.Lock()
	c.cache[clientID] = cachedClient{client: client, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return client, nil
}

func (c *CachingStore) CreateClient(ctx context.Context, cl OAuthClient) error {
	err := c.Store.CreateClient(ctx, cl)
	c.invalidate(cl.ClientID)
	return err
}

func (c *CachingStore) UpdateClient(ctx context.Context, clientID string, updater func(OAuthClient) (OAuthClient, error)) error {
	err := c.Store.UpdateClient(ctx, clientID, updater)
	c.invalidate(clientID)
	return err
}

func (c *CachingStore) invalidate(clientID string) {
	c.mu.Lock()
	delete(c.cache, clientID)
	c.mu.Unlock()
}
