// pkg/tool/token/secret.go
package token

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
)

// SecretSource is the fallback for platforms provisioned with a shared
// client secret instead of a registered tool key. It speaks plain
// client-credentials through oauth2 and reuses that package's token
// caching, so it skips the broker entirely.
type SecretSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

func (s SecretSource) Token(ctx context.Context, scopes []string) (string, error) {
	cfg := clientcredentials.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     s.TokenURL,
		Scopes:       normalizeScopes(scopes),
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRetrieval, err)
	}
	return strings.TrimSpace(tok.AccessToken), nil
}
