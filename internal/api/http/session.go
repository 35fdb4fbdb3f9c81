// internal/api/http/session.go
package http

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/mind-engage/lti-tool/pkg/tool/launch"
)

// launchSessions parks validated launch state between the launch
// redirect and follow-on calls like the deep-link response POST. One
// process, short TTL; the protocol core never sees it.
type launchSessions struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]sessionEntry
}

type sessionEntry struct {
	state     *launch.State
	expiresAt time.Time
}

func newLaunchSessions(ttl time.Duration) *launchSessions {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &launchSessions{ttl: ttl, entries: make(map[string]sessionEntry)}
}

func (s *launchSessions) Add(state *launch.State) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	now := time.Now()
	for tok, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, tok)
		}
	}
	s.entries[token] = sessionEntry{state: state, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
	return token, nil
}

func (s *launchSessions) Get(token string) (*launch.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.state, true
}
