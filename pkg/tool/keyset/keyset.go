// pkg/tool/keyset/keyset.go
package keyset

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

/*
Tool key management & signing.

A KeyStore owns the tool's RSA key pairs:

  - Generate() mints a fresh RSA-2048 key; the kid is the RFC 7638
    thumbprint of the public key.
  - ImportPEM() accepts admin-supplied private key material in PKCS#8
    PEM form and rejects anything else with ErrKeyFormat.
  - PublicJWKSet() aggregates the public halves of all known keys for
    the tool's published keys endpoint. Private material never leaves
    this package except through PrivatePEM (admin display).
  - Sign() produces RS256 JWTs (client assertions, deep-link responses)
    carrying the signing key's kid in the header.

Adding a key persists its public export through the Storage interface;
provide a durable implementation in production.
*/

var (
	ErrKeyFormat    = errors.New("keyset: private key must be PKCS#8 PEM")
	ErrNoCurrentKey = errors.New("keyset: no current signing key")
	ErrUnknownKID   = errors.New("keyset: unknown kid")
)

// ToolKey is an RSA key pair identified by its RFC 7638 thumbprint.
// Immutable once created; rotation replaces, never mutates.
type ToolKey struct {
	kid       string
	private   *rsa.PrivateKey
	createdAt time.Time
}

// Generate mints a fresh RSA-2048 key pair.
func Generate() (*ToolKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("keyset: rsa generate: %w", err)
	}
	return fromPrivate(priv)
}

// ImportPEM builds a ToolKey from admin-supplied PKCS#8 PEM material.
func ImportPEM(pemText string) (*ToolKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, ErrKeyFormat
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, ErrKeyFormat
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrKeyFormat
	}
	return fromPrivate(priv)
}

func fromPrivate(priv *rsa.PrivateKey) (*ToolKey, error) {
	kid, err := thumbprint(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &ToolKey{kid: kid, private: priv, createdAt: time.Now().UTC()}, nil
}

// thumbprint computes the RFC 7638 SHA-256 thumbprint of the public key,
// base64url-encoded without padding.
func thumbprint(pub *rsa.PublicKey) (string, error) {
	key, err := jwk.FromRaw(pub)
	if err != nil {
		return "", fmt.Errorf("keyset: jwk from public key: %w", err)
	}
	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("keyset: thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// KID returns the key identifier (RFC 7638 thumbprint).
func (k *ToolKey) KID() string { return k.kid }

// CreatedAt returns the in-process creation instant.
func (k *ToolKey) CreatedAt() time.Time { return k.createdAt }

// PrivatePEM exports the private key as PKCS#8 PEM. Admin display only.
func (k *ToolKey) PrivatePEM() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return "", fmt.Errorf("keyset: marshal pkcs8: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// PublicPEM exports the public key as PKIX PEM.
func (k *ToolKey) PublicPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.private.PublicKey)
	if err != nil {
		return "", fmt.Errorf("keyset: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// PublicJWK returns the public half as a jwk.Key with kid/alg/use set.
func (k *ToolKey) PublicJWK() (jwk.Key, error) {
	key, err := jwk.FromRaw(&k.private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keyset: public jwk: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, k.kid); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}
	return key, nil
}

// -------------------------------- Storage ------------------------------------

// Record is the persisted form of a key: its public export only.
type Record struct {
	KID       string
	PublicJWK []byte
	CreatedAt time.Time
}

// Storage persists public key exports. Provide a durable implementation
// (SQL) in production; NopStorage is fine for tests.
type Storage interface {
	Save(ctx context.Context, rec Record) error
}

// NopStorage discards records (dev/tests).
type NopStorage struct{}

func (NopStorage) Save(context.Context, Record) error { return nil }

// ------------------------------- KeyStore ------------------------------------

// KeyStore owns all tool keys and designates one as current for signing.
type KeyStore struct {
	storage Storage

	mu      sync.RWMutex
	keys    map[string]*ToolKey
	current string
}

// New returns an empty KeyStore persisting public exports to storage.
// A nil storage behaves like NopStorage.
func New(storage Storage) *KeyStore {
	if storage == nil {
		storage = NopStorage{}
	}
	return &KeyStore{storage: storage, keys: make(map[string]*ToolKey)}
}

// Add registers a key and makes it current, persisting its public export.
func (s *KeyStore) Add(ctx context.Context, k *ToolKey) error {
	pub, err := k.PublicJWK()
	if err != nil {
		return err
	}
	raw, err := jwkJSON(pub)
	if err != nil {
		return err
	}
	if err := s.storage.Save(ctx, Record{KID: k.kid, PublicJWK: raw, CreatedAt: k.createdAt}); err != nil {
		return fmt.Errorf("keyset: persist public export: %w", err)
	}
	s.mu.Lock()
	s.keys[k.kid] = k
	s.current = k.kid
	s.mu.Unlock()
	return nil
}

// Current returns the current signing key.
func (s *KeyStore) Current() (*ToolKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[s.current]
	if !ok {
		return nil, ErrNoCurrentKey
	}
	return k, nil
}

// Get returns a key by kid.
func (s *KeyStore) Get(kid string) (*ToolKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[kid]
	if !ok {
		return nil, ErrUnknownKID
	}
	return k, nil
}

// All returns every key, newest first.
func (s *KeyStore) All() []*ToolKey {
	s.mu.RLock()
	keys := make([]*ToolKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].createdAt.After(keys[j].createdAt) })
	return keys
}

// PublicJWKSet aggregates the public halves of all known keys, newest first.
func (s *KeyStore) PublicJWKSet() (jwk.Set, error) {
	s.mu.RLock()
	keys := make([]*ToolKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].createdAt.After(keys[j].createdAt) })

	set := jwk.NewSet()
	for _, k := range keys {
		pub, err := k.PublicJWK()
		if err != nil {
			return nil, err
		}
		if err := set.AddKey(pub); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Sign produces an RS256 JWT over claims. An empty kid selects the
// current key; otherwise the named key must exist.
func (s *KeyStore) Sign(claims map[string]any, kid string) (string, error) {
	var (
		k   *ToolKey
		err error
	)
	if kid == "" {
		k, err = s.Current()
	} else {
		k, err = s.Get(kid)
	}
	if err != nil {
		return "", err
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(claims))
	tok.Header["kid"] = k.kid
	signed, err := tok.SignedString(k.private)
	if err != nil {
		return "", fmt.Errorf("keyset: sign: %w", err)
	}
	return signed, nil
}

func jwkJSON(key jwk.Key) ([]byte, error) {
	b, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("keyset: marshal jwk: %w", err)
	}
	return b, nil
}
