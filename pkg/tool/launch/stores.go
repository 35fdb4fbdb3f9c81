// pkg/tool/launch/stores.go
package launch

import (
	"context"
	"sync"
	"time"
)

/*
Launch-driven upserts.

Every validated launch carries the authoritative copy of the user and
course-context metadata. The stores below let the tool keep a local
mirror of both, refreshed on each launch. They are interfaces so a
deployment can back them with its own persistence; the in-memory
implementations are enough for a single instance.
*/

// User is the tool-local record for a launching user. Username is the
// stable identity derived by ResolveUser; issuer and subject are kept
// so the record can be traced back to its platform.
type User struct {
	Username   string
	PlatformID int64
	Issuer     string
	Subject    string
	Roles      []string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// UserStore mirrors launching users. Upsert creates the record on
// first launch and refreshes roles and LastSeen on every later one.
type UserStore interface {
	Upsert(ctx context.Context, u User) (User, error)
	Get(ctx context.Context, username string) (User, bool)
}

// ContextRecord is the tool-local mirror of a course context, keyed
// by (platform, context id).
type ContextRecord struct {
	PlatformID int64
	Context    Context
	UpdatedAt  time.Time
}

// ContextStore mirrors course contexts seen in launches.
type ContextStore interface {
	Upsert(ctx context.Context, c ContextRecord) (ContextRecord, error)
	Get(ctx context.Context, platformID int64, contextID string) (ContextRecord, bool)
}

// ------------------------------ In-memory ------------------------------------

type MemoryUserStore struct {
	// Optional: override the clock (useful in tests).
	Now func() time.Time

	mu    sync.Mutex
	users map[string]User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User)}
}

func (s *MemoryUserStore) Upsert(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	existing, ok := s.users[u.Username]
	if ok {
		u.FirstSeen = existing.FirstSeen
	} else {
		u.FirstSeen = now
	}
	u.LastSeen = now
	s.users[u.Username] = u
	return u, nil
}

func (s *MemoryUserStore) Get(_ context.Context, username string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	return u, ok
}

func (s *MemoryUserStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type contextKey struct {
	platformID int64
	contextID  string
}

type MemoryContextStore struct {
	// Optional: override the clock (useful in tests).
	Now func() time.Time

	mu       sync.Mutex
	contexts map[contextKey]ContextRecord
}

func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{contexts: make(map[contextKey]ContextRecord)}
}

func (s *MemoryContextStore) Upsert(_ context.Context, c ContextRecord) (ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = s.now()
	s.contexts[contextKey{c.PlatformID, c.Context.ID}] = c
	return c, nil
}

func (s *MemoryContextStore) Get(_ context.Context, platformID int64, contextID string) (ContextRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[contextKey{platformID, contextID}]
	return c, ok
}

func (s *MemoryContextStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ------------------------------ Stages ---------------------------------------

// UpsertUser mirrors the launching user into the store. Must run
// after ResolveUser; the launch fails if the username is not set yet.
func UpsertUser(store UserStore) Stage {
	return func(ctx context.Context, s *State) error {
		if s.Username == "" {
			return ErrLaunchValidation
		}
		_, err := store.Upsert(ctx, User{
			Username:   s.Username,
			PlatformID: s.Platform.ID,
			Issuer:     s.Claims.Issuer,
			Subject:    s.Claims.Subject,
			Roles:      s.Claims.Roles,
		})
		return err
	}
}

// UpsertContext mirrors the launch's course context into the store.
// Launches without a context claim pass through untouched.
func UpsertContext(store ContextStore) Stage {
	return func(ctx context.Context, s *State) error {
		if s.Claims.Context == nil || s.Claims.Context.ID == "" {
			return nil
		}
		_, err := store.Upsert(ctx, ContextRecord{
			PlatformID: s.Platform.ID,
			Context:    *s.Claims.Context,
		})
		return err
	}
}
