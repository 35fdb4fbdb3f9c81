// pkg/tool/launch/login.go
package launch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/mind-engage/lti-tool/pkg/tool/registry"
)

/*
OIDC third-party login initiation.

A platform opens a launch by POSTing iss / lti_deployment_id /
login_hint / target_link_uri to the tool's login endpoint. The
Initiator resolves the platform, mints a nonce and a state token,
parks them as a PendingLogin, and answers with a redirect to the
platform's authorization endpoint. The launch comes back on the
tool's fixed launch endpoint, where the Validator consumes the
PendingLogin exactly once.
*/

// ErrLoginRequest signals a login initiation missing required fields.
var ErrLoginRequest = errors.New("launch: invalid login initiation request")

// PendingLogin is the per-attempt state parked between the login
// redirect and the launch response. Consumed exactly once.
type PendingLogin struct {
	State         string
	Nonce         string
	PlatformID    int64
	TargetLinkURI string
	CreatedAt     time.Time
}

// PendingStore holds pending logins keyed by state. Consume removes
// the entry so a second consume of the same state fails.
type PendingStore interface {
	Put(ctx context.Context, p PendingLogin) error
	Consume(ctx context.Context, state string) (PendingLogin, error)
}

var errNoPendingLogin = errors.New("launch: no pending login for state")

// MemoryPendingStore keeps pending logins in process memory with a
// fixed TTL. Good for a single instance; multi-instance deployments
// want a shared store behind the same interface.
type MemoryPendingStore struct {
	TTL time.Duration

	// Optional: override the clock (useful in tests).
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]PendingLogin
}

// NewMemoryPendingStore returns a store with the given TTL (default 5 minutes).
func NewMemoryPendingStore(ttl time.Duration) *MemoryPendingStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryPendingStore{TTL: ttl, entries: make(map[string]PendingLogin)}
}

func (s *MemoryPendingStore) Put(_ context.Context, p PendingLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Opportunistic sweep keeps abandoned logins from accumulating.
	now := s.now()
	for state, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.TTL {
			delete(s.entries, state)
		}
	}
	s.entries[p.State] = p
	return nil
}

func (s *MemoryPendingStore) Consume(_ context.Context, state string) (PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[state]
	if !ok {
		return PendingLogin{}, errNoPendingLogin
	}
	delete(s.entries, state)
	if s.now().Sub(p.CreatedAt) > s.TTL {
		return PendingLogin{}, errNoPendingLogin
	}
	return p, nil
}

func (s *MemoryPendingStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ------------------------------ Initiator ------------------------------------

// LoginRequest carries the form fields of a third-party login POST.
type LoginRequest struct {
	Issuer         string // iss
	DeploymentID   string // lti_deployment_id
	LoginHint      string // login_hint
	TargetLinkURI  string // target_link_uri
	ClientIDHint   string // client_id, optional, overrides the registered one
	LTIMessageHint string // lti_message_hint, optional pass-through
}

// Initiator builds the authorization-request redirect for a login POST.
type Initiator struct {
	Platforms registry.Store
	Pending   PendingStore

	// LaunchURL is the tool's fixed launch endpoint; every
	// authorization request names it as redirect_uri regardless of
	// the requested target_link_uri.
	LaunchURL string

	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

// Initiate resolves the platform, parks a PendingLogin, and returns
// the fully encoded authorization URL for the HTTP redirect.
func (in *Initiator) Initiate(ctx context.Context, req LoginRequest) (string, PendingLogin, error) {
	if req.Issuer == "" || req.LoginHint == "" || req.TargetLinkURI == "" {
		return "", PendingLogin{}, ErrLoginRequest
	}

	p, err := in.Platforms.GetByIssuerDeployment(ctx, req.Issuer, req.DeploymentID)
	if err != nil {
		return "", PendingLogin{}, err
	}

	// 32 random bytes hex-encoded: well past the 128-bit floor.
	nonce, err := randHex(32)
	if err != nil {
		return "", PendingLogin{}, err
	}
	state, err := randHex(24)
	if err != nil {
		return "", PendingLogin{}, err
	}

	pending := PendingLogin{
		State:         state,
		Nonce:         nonce,
		PlatformID:    p.ID,
		TargetLinkURI: req.TargetLinkURI,
		CreatedAt:     in.now(),
	}
	if err := in.Pending.Put(ctx, pending); err != nil {
		return "", PendingLogin{}, fmt.Errorf("launch: persist pending login: %w", err)
	}

	authURL, err := url.Parse(p.AuthReqURL)
	if err != nil {
		return "", PendingLogin{}, fmt.Errorf("launch: platform auth url: %w", err)
	}

	clientID := p.ClientID
	if req.ClientIDHint != "" {
		clientID = req.ClientIDHint
	}

	q := authURL.Query()
	q.Set("scope", "openid")
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("prompt", "none")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", in.LaunchURL)
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("login_hint", req.LoginHint)
	if req.LTIMessageHint != "" {
		q.Set("lti_message_hint", req.LTIMessageHint)
	}
	authURL.RawQuery = q.Encode()
	return authURL.String(), pending, nil
}

func (in *Initiator) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

func randHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
