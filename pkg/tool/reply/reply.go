// pkg/tool/reply/reply.go
package reply

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/lti-tool/pkg/tool/keyset"
)

/*
Outbound message signing.

Every JWT the tool sends back to a platform (client assertions for the
token endpoint, deep-linking response messages) goes through a Builder:
it stamps the standard time and identity claims, merges the caller's
message claims, and signs with the tool's current key. The key's kid
rides in the JOSE header so the platform can pick the matching entry
from the tool's published keyset.
*/

// ErrNoKey signals that the builder has no signing key to use.
var ErrNoKey = errors.New("reply: no signing key available")

// Builder assembles and signs outbound JWTs.
type Builder struct {
	Keys *keyset.KeyStore

	// Issuer is the value stamped into iss (the tool's client_id for
	// a given platform, or the tool origin for deep-linking).
	Issuer string

	// Lifetime bounds exp - iat. Zero means 60 seconds.
	Lifetime time.Duration

	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

// Build signs a JWT carrying the standard claims plus extra. aud is the
// intended recipient. Claims in extra win over the stamped defaults,
// except iat/exp/jti which the builder always controls.
func (b *Builder) Build(aud string, extra map[string]any) (string, error) {
	return b.build(b.Issuer, aud, extra)
}

// BuildAs is Build with an explicit issuer, for messages issued under
// a per-platform identity instead of the builder's default.
func (b *Builder) BuildAs(iss, aud string, extra map[string]any) (string, error) {
	return b.build(iss, aud, extra)
}

// ClientAssertion builds the private_key_jwt assertion used at a
// platform's access-token endpoint: iss and sub both carry the tool's
// client_id and aud names the token URL.
func (b *Builder) ClientAssertion(clientID, tokenURL string) (string, error) {
	return b.build(clientID, tokenURL, map[string]any{"sub": clientID})
}

func (b *Builder) build(iss, aud string, extra map[string]any) (string, error) {
	if b.Keys == nil {
		return "", ErrNoKey
	}
	key, err := b.Keys.Current()
	if err != nil {
		return "", ErrNoKey
	}

	now := b.now()
	lifetime := b.Lifetime
	if lifetime <= 0 {
		lifetime = time.Minute
	}

	claims := map[string]any{
		"iss": iss,
		"aud": aud,
	}
	for k, v := range extra {
		claims[k] = v
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(lifetime).Unix()
	claims["jti"] = uuid.NewString()

	return b.Keys.Sign(claims, key.KID())
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}
