// pkg/tool/registry/platform.go
package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
)

/*
Platform registry.

A Platform row identifies a remote LMS this tool is registered with:
its issuer, deployment, OAuth client id, the three endpoint URLs the
LTI 1.3 flow needs, and the kid of the tool key used to sign
assertions toward it. (issuer, deployment_id) is the LTI platform
identity and is unique across the registry.

PlatformClaim holds the last observed tool_platform claim from a
launch. It is display metadata only; launches may refresh it but never
touch identity fields.
*/

var (
	// ErrUnknownPlatform signals an unrecognized (issuer, deployment_id).
	ErrUnknownPlatform = errors.New("registry: unknown platform")
	// ErrDuplicatePlatform signals a uniqueness violation on create.
	ErrDuplicatePlatform = errors.New("registry: platform already registered")
)

// Platform is the identity of a remote LMS.
type Platform struct {
	ID             int64
	Issuer         string
	DeploymentID   string
	ClientID       string
	AuthReqURL     string
	PubKeyURL      string
	AccessTokenURL string
	KeyKID         string

	// Non-authoritative display metadata from the tool_platform claim.
	PlatformClaim map[string]any
}

// Store persists Platform records.
type Store interface {
	Create(ctx context.Context, p Platform) (Platform, error)
	Update(ctx context.Context, p Platform) error
	GetByID(ctx context.Context, id int64) (Platform, error)
	GetByIssuerDeployment(ctx context.Context, issuer, deploymentID string) (Platform, error)
	List(ctx context.Context) ([]Platform, error)
	Delete(ctx context.Context, id int64) error

	// UpdateClaim refreshes only the platform_claim blob.
	UpdateClaim(ctx context.Context, id int64, claim map[string]any) error
}

// ------------------------------ Memory store ---------------------------------

// MemoryStore is a process-local Store (dev/tests).
type MemoryStore struct {
	mu     sync.RWMutex
	seq    int64
	byID   map[int64]Platform
	byName map[string]int64 // issuer|deployment_id -> id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]Platform), byName: make(map[string]int64)}
}

func identityKey(issuer, deploymentID string) string {
	return strings.TrimSpace(issuer) + "|" + strings.TrimSpace(deploymentID)
}

func (s *MemoryStore) Create(_ context.Context, p Platform) (Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identityKey(p.Issuer, p.DeploymentID)
	if _, ok := s.byName[key]; ok {
		return Platform{}, ErrDuplicatePlatform
	}
	s.seq++
	p.ID = s.seq
	s.byID[p.ID] = clonePlatform(p)
	s.byName[key] = p.ID
	return p, nil
}

func (s *MemoryStore) Update(_ context.Context, p Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[p.ID]
	if !ok {
		return ErrUnknownPlatform
	}
	newKey := identityKey(p.Issuer, p.DeploymentID)
	oldKey := identityKey(old.Issuer, old.DeploymentID)
	if newKey != oldKey {
		if _, taken := s.byName[newKey]; taken {
			return ErrDuplicatePlatform
		}
		delete(s.byName, oldKey)
		s.byName[newKey] = p.ID
	}
	s.byID[p.ID] = clonePlatform(p)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return Platform{}, ErrUnknownPlatform
	}
	return clonePlatform(p), nil
}

func (s *MemoryStore) GetByIssuerDeployment(_ context.Context, issuer, deploymentID string) (Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[identityKey(issuer, deploymentID)]
	if !ok {
		return Platform{}, ErrUnknownPlatform
	}
	return clonePlatform(s.byID[id]), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Platform, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, clonePlatform(p))
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrUnknownPlatform
	}
	delete(s.byID, id)
	delete(s.byName, identityKey(p.Issuer, p.DeploymentID))
	return nil
}

func (s *MemoryStore) UpdateClaim(_ context.Context, id int64, claim map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return ErrUnknownPlatform
	}
	p.PlatformClaim = claim
	s.byID[id] = p
	return nil
}

func clonePlatform(p Platform) Platform {
	if p.PlatformClaim != nil {
		claim := make(map[string]any, len(p.PlatformClaim))
		for k, v := range p.PlatformClaim {
			claim[k] = v
		}
		p.PlatformClaim = claim
	}
	return p
}
