// pkg/tool/platformkeys/platformkeys.go
package platformkeys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

/*
Platform keyset retrieval.

Fetcher performs a fresh HTTP GET of a platform's published JWKS on
every call: platform key rotation must be observed, so no cache is
built in. Callers that tolerate short staleness can wrap a Fetcher in
a CachingFetcher with a small TTL.
*/

// ErrKeyRetrieval signals an unreachable or malformed platform keyset.
var ErrKeyRetrieval = errors.New("platformkeys: could not retrieve platform keyset")

// KeySource returns the public key set published at the given URL.
type KeySource interface {
	KeysFor(ctx context.Context, keysetURL string) (jwk.Set, error)
}

// Fetcher retrieves platform key sets over HTTP, always fresh.
type Fetcher struct {
	HTTP *http.Client
}

// NewFetcher returns a Fetcher with a 15 s request timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{HTTP: &http.Client{Timeout: 15 * time.Second}}
}

func (f *Fetcher) KeysFor(ctx context.Context, keysetURL string) (jwk.Set, error) {
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keysetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyRetrieval, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyRetrieval, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: keyset endpoint returned %s", ErrKeyRetrieval, resp.Status)
	}

	// 1 MiB is generous for any real keyset.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyRetrieval, err)
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyRetrieval, err)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("%w: keyset contains no keys", ErrKeyRetrieval)
	}
	return set, nil
}

// ------------------------------ Caching wrapper ------------------------------

// CachingFetcher wraps a KeySource with a per-URL TTL cache. Keep the
// TTL short; a stale set makes freshly rotated platform keys invisible
// until expiry.
type CachingFetcher struct {
	Source KeySource
	TTL    time.Duration

	// Optional: override the clock (useful in tests).
	Now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	set       jwk.Set
	expiresAt time.Time
}

// NewCachingFetcher wraps source with the given TTL (default 5 minutes).
func NewCachingFetcher(source KeySource, ttl time.Duration) *CachingFetcher {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachingFetcher{Source: source, TTL: ttl, entries: make(map[string]cacheEntry)}
}

func (c *CachingFetcher) KeysFor(ctx context.Context, keysetURL string) (jwk.Set, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[keysetURL]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.set, nil
	}

	set, err := c.Source.KeysFor(ctx, keysetURL)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[keysetURL] = cacheEntry{set: set, expiresAt: now.Add(c.TTL)}
	c.mu.Unlock()
	return set, nil
}

// Invalidate drops a cached entry, forcing a fresh fetch on next use.
func (c *CachingFetcher) Invalidate(keysetURL string) {
	c.mu.Lock()
	delete(c.entries, keysetURL)
	c.mu.Unlock()
}

func (c *CachingFetcher) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
