// pkg/tool/keyset/handler.go
package keyset

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Handler serves the tool's public key set as JWKS (RFC 7517).
// Platforms fetch it to verify JWTs signed by this tool.
type Handler struct {
	Keys *KeyStore

	// Optional: cache control for responses (default: 10 minutes).
	CacheMaxAge time.Duration
	// Optional: override the clock (useful in tests).
	Now func() time.Time
}

// ServeHTTP implements http.Handler for the keys endpoint.
//
// Mount it like:
//
//	r.Get("/lti/keys", handler.ServeHTTP)
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Keys == nil {
		http.Error(w, "keys: not configured", http.StatusInternalServerError)
		return
	}
	set, err := h.Keys.PublicJWKSet()
	if err != nil {
		http.Error(w, "keys: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Marshal once to compute ETag and to write the body.
	payload, err := json.Marshal(set)
	if err != nil {
		http.Error(w, "keys: marshal error", http.StatusInternalServerError)
		return
	}

	now := h.now()
	etag := computeETag(payload)
	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.cacheAge().Seconds())))
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", now.UTC().Format(http.TimeFormat))

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) cacheAge() time.Duration {
	if h.CacheMaxAge > 0 {
		return h.CacheMaxAge
	}
	return 10 * time.Minute
}

func computeETag(b []byte) string {
	sum := sha256.Sum256(b)
	// weak ETag is fine here
	return `W/"` + base64.RawURLEncoding.EncodeToString(sum[:]) + `"`
}
