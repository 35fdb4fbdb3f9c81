// pkg/tool/token/broker.go
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mind-engage/lti-tool/pkg/tool/registry"
	"github.com/mind-engage/lti-tool/pkg/tool/reply"
)

/*
OAuth2 client-credentials broker.

Every AGS call needs a bearer token from the platform's access-token
endpoint, obtained with a private_key_jwt client assertion. Tokens are
cached per (platform, context) with the requested scope set recorded
alongside: a cached token is reused only while the scope sets match
exactly and the clock has not passed the safety-margined expiry.
Concurrent misses on one key collapse into a single exchange.
*/

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ErrTokenRetrieval signals a rejected or unreachable token exchange.
var ErrTokenRetrieval = errors.New("token: access token exchange failed")

// Source yields bearer tokens for a fixed platform/context pairing.
type Source interface {
	Token(ctx context.Context, scopes []string) (string, error)
}

// Broker performs and caches client-credentials exchanges.
type Broker struct {
	// Assertions signs the private_key_jwt client assertions.
	Assertions *reply.Builder

	HTTP *http.Client

	// Margin is subtracted from expires_in at cache-write time so a
	// token is never presented near its real expiry. Zero means 300 s.
	Margin time.Duration

	// Optional: override the clock (useful in tests).
	Now func() time.Time

	mu     sync.Mutex
	cache  map[string]cachedToken
	inproc singleflight.Group
}

type cachedToken struct {
	token     string
	scopes    []string // sorted
	expiresAt time.Time
}

func NewBroker(assertions *reply.Builder) *Broker {
	return &Broker{
		Assertions: assertions,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		cache:      make(map[string]cachedToken),
	}
}

// AccessToken returns a bearer token for the platform valid for the
// requested scopes. contextKey names the launch context the token is
// used on behalf of; two contexts never share a cache slot even with
// identical scope sets.
func (b *Broker) AccessToken(ctx context.Context, p registry.Platform, contextKey string, scopes []string) (string, error) {
	norm := normalizeScopes(scopes)
	key := strconv.FormatInt(p.ID, 10) + "|" + contextKey

	if tok, ok := b.cached(key, norm); ok {
		return tok, nil
	}

	// Collapse concurrent misses for the same key and scope set.
	v, err, _ := b.inproc.Do(key+"|"+strings.Join(norm, " "), func() (any, error) {
		if tok, ok := b.cached(key, norm); ok {
			return tok, nil
		}
		tok, expiresAt, err := b.exchange(ctx, p, norm)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		if b.cache == nil {
			b.cache = make(map[string]cachedToken)
		}
		b.cache[key] = cachedToken{token: tok, scopes: norm, expiresAt: expiresAt}
		b.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Broker) cached(key string, norm []string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.cache[key]
	if !ok {
		return "", false
	}
	if !scopesEqual(entry.scopes, norm) {
		return "", false
	}
	if !b.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}

func (b *Broker) exchange(ctx context.Context, p registry.Platform, norm []string) (string, time.Time, error) {
	assertion, err := b.Assertions.ClientAssertion(p.ClientID, p.AccessTokenURL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenRetrieval, err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)
	form.Set("scope", strings.Join(norm, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.AccessTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenRetrieval, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := b.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenRetrieval, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return "", time.Time{}, fmt.Errorf("%w: token endpoint returned %s: %s", ErrTokenRetrieval, resp.Status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenRetrieval, err)
	}
	if payload.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: response carries no access_token", ErrTokenRetrieval)
	}

	margin := b.Margin
	if margin <= 0 {
		margin = 300 * time.Second
	}
	// The margin is burned in at write time, not checked at read time.
	expiresAt := b.now().Add(time.Duration(payload.ExpiresIn) * time.Second).Add(-margin)
	return payload.AccessToken, expiresAt, nil
}

func (b *Broker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Bind fixes a platform and context so callers that only know how to
// ask for scopes, like the AGS client, can use the broker.
func (b *Broker) Bind(p registry.Platform, contextKey string) Source {
	return boundSource{broker: b, platform: p, contextKey: contextKey}
}

type boundSource struct {
	broker     *Broker
	platform   registry.Platform
	contextKey string
}

func (s boundSource) Token(ctx context.Context, scopes []string) (string, error) {
	return s.broker.AccessToken(ctx, s.platform, s.contextKey, scopes)
}

// ------------------------------ scope sets -----------------------------------

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func scopesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
