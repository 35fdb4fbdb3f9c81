// pkg/tool/resources/resources.go
package resources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

/*
Launchable-resource registry.

Every kind of content the tool can be launched into registers a
Descriptor at process start: a type tag, the path prefix its launch
URLs live under, and a lookup function. The registry is the single
authority on which target_link_uri values a launch may redirect to
and on what the deep-linking picker can offer.
*/

// ErrUnknownResource signals a lookup for an id the kind does not have.
var ErrUnknownResource = errors.New("resources: no such resource")

// ErrDuplicateKind signals two registrations under one type tag.
var ErrDuplicateKind = errors.New("resources: kind already registered")

// Resource is one launchable item of some kind.
type Resource struct {
	Kind  string
	ID    string
	Title string
}

// Descriptor describes one resource kind.
type Descriptor struct {
	// Kind is the type tag, e.g. "quiz".
	Kind string

	// PathPrefix is the tool-local path its launch URLs live under,
	// e.g. "/launch/quiz/". The resource id follows the prefix.
	PathPrefix string

	// Find resolves an id to its resource record; it returns
	// ErrUnknownResource for ids that do not exist.
	Find func(ctx context.Context, id string) (Resource, error)
}

// Registry maps resource kinds to descriptors and checks launch
// targets against them.
type Registry struct {
	// BaseURL is the tool origin, e.g. "https://tool.example". Launch
	// URLs on any other origin are never allowed.
	BaseURL string

	// DeepLinkPath is the tool's deep-linking endpoint path; it is a
	// valid launch target even though no resource lives there.
	DeepLinkPath string

	mu    sync.RWMutex
	kinds map[string]Descriptor
	order []string
}

func NewRegistry(baseURL string) *Registry {
	return &Registry{
		BaseURL: strings.TrimRight(baseURL, "/"),
		kinds:   make(map[string]Descriptor),
	}
}

// Register adds a kind. Registration order is preserved for listing.
func (r *Registry) Register(d Descriptor) error {
	if d.Kind == "" || d.PathPrefix == "" || d.Find == nil {
		return fmt.Errorf("resources: incomplete descriptor for kind %q", d.Kind)
	}
	if !strings.HasPrefix(d.PathPrefix, "/") {
		d.PathPrefix = "/" + d.PathPrefix
	}
	if !strings.HasSuffix(d.PathPrefix, "/") {
		d.PathPrefix += "/"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kinds[d.Kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, d.Kind)
	}
	r.kinds[d.Kind] = d
	r.order = append(r.order, d.Kind)
	return nil
}

// Kinds returns the registered descriptors in registration order.
func (r *Registry) Kinds() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, kind := range r.order {
		out = append(out, r.kinds[kind])
	}
	return out
}

// LaunchURL builds the launch target for a resource of a registered kind.
func (r *Registry) LaunchURL(kind, id string) (string, error) {
	r.mu.RLock()
	d, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: kind %s", ErrUnknownResource, kind)
	}
	return r.BaseURL + d.PathPrefix + url.PathEscape(id), nil
}

// Resolve matches a target_link_uri to a registered resource: origin
// check, prefix match, then the kind's own lookup.
func (r *Registry) Resolve(ctx context.Context, targetLinkURI string) (Resource, error) {
	target, err := url.Parse(targetLinkURI)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %v", ErrUnknownResource, err)
	}
	base, err := url.Parse(r.BaseURL)
	if err != nil {
		return Resource{}, fmt.Errorf("resources: bad base url: %w", err)
	}
	if target.Scheme != base.Scheme || target.Host != base.Host {
		return Resource{}, fmt.Errorf("%w: foreign origin %s", ErrUnknownResource, target.Host)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, kind := range r.order {
		d := r.kinds[kind]
		if !strings.HasPrefix(target.Path, d.PathPrefix) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimPrefix(target.Path, d.PathPrefix))
		if err != nil || id == "" || strings.Contains(id, "/") {
			continue
		}
		return d.Find(ctx, id)
	}
	return Resource{}, fmt.Errorf("%w: %s", ErrUnknownResource, target.Path)
}

// Allowed reports whether a target_link_uri resolves to a registered
// resource or the deep-linking endpoint. It satisfies the launch
// pipeline's redirect policy.
func (r *Registry) Allowed(targetLinkURI string) bool {
	if r.DeepLinkPath != "" && targetLinkURI == r.BaseURL+r.DeepLinkPath {
		return true
	}
	_, err := r.Resolve(context.Background(), targetLinkURI)
	return err == nil
}
