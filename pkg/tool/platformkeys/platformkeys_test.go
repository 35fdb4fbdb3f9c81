package platformkeys_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/mind-engage/lti-tool/pkg/tool/platformkeys"
)

func jwksBody(t *testing.T, kid string) []byte {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := jwk.FromRaw(priv.Public())
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("add key: %v", err)
	}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}
	return body
}

func TestFetcherReturnsPublishedKeys(t *testing.T) {
	body := jwksBody(t, "kid-1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	defer srv.Close()

	set, err := platformkeys.NewFetcher().KeysFor(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("KeysFor: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("set.Len() = %d, want 1", set.Len())
	}
	if _, ok := set.LookupKeyID("kid-1"); !ok {
		t.Fatalf("kid-1 not found in fetched set")
	}
}

func TestFetcherWrapsFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not a keyset</html>"))
		}},
		{"empty set", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"keys":[]}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			_, err := platformkeys.NewFetcher().KeysFor(context.Background(), srv.URL)
			if !errors.Is(err, platformkeys.ErrKeyRetrieval) {
				t.Fatalf("err = %v, want ErrKeyRetrieval", err)
			}
		})
	}
}

func TestFetcherUnreachableHost(t *testing.T) {
	f := platformkeys.NewFetcher()
	f.HTTP = &http.Client{Timeout: 500 * time.Millisecond}
	_, err := f.KeysFor(context.Background(), "http://127.0.0.1:1/jwks.json")
	if !errors.Is(err, platformkeys.ErrKeyRetrieval) {
		t.Fatalf("err = %v, want ErrKeyRetrieval", err)
	}
}

func TestCachingFetcherServesFromCacheUntilTTL(t *testing.T) {
	var hits int64
	body := jwksBody(t, "kid-cache")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write(body)
	}))
	defer srv.Close()

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	cf := platformkeys.NewCachingFetcher(platformkeys.NewFetcher(), time.Minute)
	cf.Now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := cf.KeysFor(context.Background(), srv.URL); err != nil {
			t.Fatalf("KeysFor: %v", err)
		}
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Fatalf("endpoint hits = %d, want 1", got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cf.KeysFor(context.Background(), srv.URL); err != nil {
		t.Fatalf("KeysFor after expiry: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Fatalf("endpoint hits after expiry = %d, want 2", got)
	}
}

func TestCachingFetcherInvalidate(t *testing.T) {
	var hits int64
	body := jwksBody(t, "kid-inv")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write(body)
	}))
	defer srv.Close()

	cf := platformkeys.NewCachingFetcher(platformkeys.NewFetcher(), time.Hour)
	if _, err := cf.KeysFor(context.Background(), srv.URL); err != nil {
		t.Fatalf("KeysFor: %v", err)
	}
	cf.Invalidate(srv.URL)
	if _, err := cf.KeysFor(context.Background(), srv.URL); err != nil {
		t.Fatalf("KeysFor after invalidate: %v", err)
	}
	if got := atomic.LoadInt64(&hits); got != 2 {
		t.Fatalf("endpoint hits = %d, want 2", got)
	}
}
