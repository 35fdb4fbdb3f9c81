// pkg/tool/launch/pipeline.go
package launch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mind-engage/lti-tool/pkg/tool/registry"
)

/*
Post-validation pipeline.

Once an id_token verifies, the remaining launch work runs as an
explicit ordered list of stages over a shared State: redirect
allow-listing, user resolution, platform-claim refresh, role checks.
Each stage either enriches the State or fails the launch; there is no
implicit chaining between them.
*/

// ErrNotAuthorized signals a launch whose roles do not satisfy a
// RequireRole stage.
var ErrNotAuthorized = errors.New("launch: role not authorized for this resource")

// State is the mutable carrier threaded through pipeline stages.
type State struct {
	Claims   *Claims
	Platform registry.Platform

	// Username is the tool-local stable identity for the launching
	// user, set by ResolveUser.
	Username string

	// RedirectURI is where the browser goes after the launch, set by
	// CheckRedirect.
	RedirectURI string
}

// Stage transforms the launch state or fails the launch.
type Stage func(ctx context.Context, s *State) error

// Pipeline runs stages in order, stopping at the first failure.
type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

func (p *Pipeline) Run(ctx context.Context, s *State) error {
	for _, stage := range p.stages {
		if err := stage(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// ------------------------------ Stages ---------------------------------------

// RedirectPolicy decides whether a claimed target_link_uri belongs to
// a registered resource.
type RedirectPolicy interface {
	Allowed(targetLinkURI string) bool
}

// CheckRedirect rejects launches whose target_link_uri is outside the
// allow-list. Deep-linking launches carry no content target and skip
// the check.
func CheckRedirect(policy RedirectPolicy) Stage {
	return func(_ context.Context, s *State) error {
		if s.Claims.MessageType == MessageTypeDeepLinking {
			return nil
		}
		if !policy.Allowed(s.Claims.TargetLinkURI) {
			return fmt.Errorf("%w: %s", ErrRedirectValidation, s.Claims.TargetLinkURI)
		}
		s.RedirectURI = s.Claims.TargetLinkURI
		return nil
	}
}

// ResolveUser derives the tool-local username from the launch
// identity. iss+sub is the only stable cross-launch identity a
// platform guarantees, so the username is its SHA-1 hex digest.
func ResolveUser() Stage {
	return func(_ context.Context, s *State) error {
		if s.Claims.Issuer == "" || s.Claims.Subject == "" {
			return fmt.Errorf("%w: incomplete identity", ErrLaunchValidation)
		}
		sum := sha1.Sum([]byte(s.Claims.Issuer + s.Claims.Subject))
		s.Username = hex.EncodeToString(sum[:])
		return nil
	}
}

// RefreshPlatformClaim stores the launch's tool_platform claim as
// display metadata on the platform record. Identity fields are never
// touched from launch data. A missing claim is not an error.
func RefreshPlatformClaim(store registry.Store) Stage {
	return func(ctx context.Context, s *State) error {
		if s.Claims.PlatformClaim == nil {
			return nil
		}
		return store.UpdateClaim(ctx, s.Platform.ID, s.Claims.PlatformClaim)
	}
}

// RequireRole fails the launch unless at least one of the given role
// URIs is present in the claims.
func RequireRole(roles ...string) Stage {
	return func(_ context.Context, s *State) error {
		if !s.Claims.HasRole(roles...) {
			return ErrNotAuthorized
		}
		return nil
	}
}
