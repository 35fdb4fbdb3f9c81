// pkg/tool/launch/validate.go
package launch

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/lti-tool/pkg/tool/platformkeys"
	"github.com/mind-engage/lti-tool/pkg/tool/registry"
)

// ErrLaunchValidation covers every way an id_token can fail to verify:
// bad signature, claim mismatch, nonce mismatch, unknown pending state.
// One opaque kind on purpose; the remote party never learns which
// check failed. The wrapped detail is for local logs only.
var ErrLaunchValidation = errors.New("launch: launch verification failed")

// ErrRedirectValidation signals a target_link_uri outside the
// registered allow-list.
var ErrRedirectValidation = errors.New("launch: target link is not registered")

// Validator verifies launch id_tokens against the platform recorded at
// login time.
type Validator struct {
	Platforms registry.Store
	Keys      platformkeys.KeySource
	Pending   PendingStore

	// Leeway tolerated on exp/iat/nbf. Zero means 30 seconds.
	Leeway time.Duration

	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

// Validate consumes the PendingLogin for state and verifies idToken
// against the platform it recorded. The pending entry is consumed
// before any check runs, so a failed validation can never be retried
// with the same nonce. On success the validated claim bundle and the
// resolved platform are returned.
func (v *Validator) Validate(ctx context.Context, idToken, state string) (*Claims, registry.Platform, error) {
	// The platform comes from the session reference, never from the
	// token's own iss/aud; those are checked against it afterwards.
	pending, err := v.Pending.Consume(ctx, state)
	if err != nil {
		return nil, registry.Platform{}, fmt.Errorf("%w: %v", ErrLaunchValidation, err)
	}
	p, err := v.Platforms.GetByID(ctx, pending.PlatformID)
	if err != nil {
		return nil, registry.Platform{}, fmt.Errorf("%w: %v", ErrLaunchValidation, err)
	}

	set, err := v.Keys.KeysFor(ctx, p.PubKeyURL)
	if err != nil {
		// Keyset trouble is an operational failure, not evidence of a
		// forged launch; it keeps its own error kind.
		return nil, registry.Platform{}, err
	}

	leeway := v.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(p.Issuer),
		jwt.WithAudience(p.ClientID),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}

	tok, err := jwt.Parse(idToken, func(tok *jwt.Token) (any, error) {
		kid, _ := tok.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		jwkKey, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("kid %q not in platform keyset", kid)
		}
		var pub rsa.PublicKey
		if err := jwkKey.Raw(&pub); err != nil {
			return nil, err
		}
		return &pub, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, registry.Platform{}, fmt.Errorf("%w: %v", ErrLaunchValidation, err)
	}

	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, registry.Platform{}, fmt.Errorf("%w: unexpected claim shape", ErrLaunchValidation)
	}
	claims, err := decodeClaims(map[string]any(mc))
	if err != nil {
		return nil, registry.Platform{}, fmt.Errorf("%w: %v", ErrLaunchValidation, err)
	}

	if claims.Nonce == "" || claims.Nonce != pending.Nonce {
		return nil, registry.Platform{}, fmt.Errorf("%w: nonce mismatch", ErrLaunchValidation)
	}
	if claims.DeploymentID != p.DeploymentID {
		return nil, registry.Platform{}, fmt.Errorf("%w: deployment mismatch", ErrLaunchValidation)
	}
	if claims.Version != LTIVersion {
		return nil, registry.Platform{}, fmt.Errorf("%w: unsupported message version", ErrLaunchValidation)
	}
	if claims.MessageType == "" {
		return nil, registry.Platform{}, fmt.Errorf("%w: missing message type", ErrLaunchValidation)
	}
	if claims.Subject == "" {
		return nil, registry.Platform{}, fmt.Errorf("%w: missing subject", ErrLaunchValidation)
	}
	return claims, p, nil
}
