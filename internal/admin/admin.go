// internal/admin/admin.go
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/lti-tool/internal/db"
	"github.com/mind-engage/lti-tool/pkg/tool/keyset"
	"github.com/mind-engage/lti-tool/pkg/tool/registry"
)

/*
Package admin exposes the operator HTTP API:
  - Platforms (issuer, deployment_id, client_id, the three endpoint
    URLs, signing-key binding)
  - Tool keys (generate, import PEM, inspect)

Everything here sits behind HTTP basic auth checked against a bcrypt
hash. Mount under /admin.
*/

// Deps wires the stores the handlers work against.
type Deps struct {
	Platforms registry.Store
	Keys      *keyset.KeyStore

	// KeyStorage persists private PEMs so keys survive restarts. Nil
	// keeps keys in memory only.
	KeyStorage *db.KeyStorage

	User     string
	PassHash string // bcrypt
}

// Routes returns the authenticated admin router.
func Routes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(basicAuth(d.User, d.PassHash))

	r.Post("/platforms", createPlatform(d))
	r.Get("/platforms", listPlatforms(d))
	r.Get("/platforms/{id}", getPlatform(d))
	r.Put("/platforms/{id}", updatePlatform(d))
	r.Delete("/platforms/{id}", deletePlatform(d))

	r.Post("/keys", createKey(d))
	r.Get("/keys", listKeys(d))
	r.Get("/keys/{kid}", getKey(d))

	return r
}

func basicAuth(user, passHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || passHash == "" ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(passHash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

/* ------------------------------ Platforms --------------------------------- */

type platformReq struct {
	Issuer         string `json:"issuer"`
	DeploymentID   string `json:"deployment_id"`
	ClientID       string `json:"client_id"`
	AuthReqURL     string `json:"auth_req_url"`
	PubKeyURL      string `json:"pub_key_url"`
	AccessTokenURL string `json:"access_token_url"`
	KeyKID         string `json:"key_kid,omitempty"`
}

func (req platformReq) validate() string {
	for name, v := range map[string]string{
		"issuer":           req.Issuer,
		"deployment_id":    req.DeploymentID,
		"client_id":        req.ClientID,
		"auth_req_url":     req.AuthReqURL,
		"pub_key_url":      req.PubKeyURL,
		"access_token_url": req.AccessTokenURL,
	} {
		if strings.TrimSpace(v) == "" {
			return name + " is required"
		}
	}
	return ""
}

func (req platformReq) toPlatform() registry.Platform {
	return registry.Platform{
		Issuer:         strings.TrimSpace(req.Issuer),
		DeploymentID:   strings.TrimSpace(req.DeploymentID),
		ClientID:       strings.TrimSpace(req.ClientID),
		AuthReqURL:     strings.TrimSpace(req.AuthReqURL),
		PubKeyURL:      strings.TrimSpace(req.PubKeyURL),
		AccessTokenURL: strings.TrimSpace(req.AccessTokenURL),
		KeyKID:         strings.TrimSpace(req.KeyKID),
	}
}

func createPlatform(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req platformReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if msg := req.validate(); msg != "" {
			writeErr(w, http.StatusBadRequest, msg)
			return
		}
		p, err := d.Platforms.Create(r.Context(), req.toPlatform())
		if err != nil {
			if errors.Is(err, registry.ErrDuplicatePlatform) {
				writeErr(w, http.StatusConflict, "platform identity already registered")
				return
			}
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func listPlatforms(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := d.Platforms.List(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		if items == nil {
			items = []registry.Platform{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func getPlatform(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := platformID(w, r)
		if !ok {
			return
		}
		p, err := d.Platforms.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, registry.ErrUnknownPlatform) {
				writeErr(w, http.StatusNotFound, "platform not found")
				return
			}
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func updatePlatform(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := platformID(w, r)
		if !ok {
			return
		}
		var req platformReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if msg := req.validate(); msg != "" {
			writeErr(w, http.StatusBadRequest, msg)
			return
		}
		p := req.toPlatform()
		p.ID = id
		if err := d.Platforms.Update(r.Context(), p); err != nil {
			switch {
			case errors.Is(err, registry.ErrUnknownPlatform):
				writeErr(w, http.StatusNotFound, "platform not found")
			case errors.Is(err, registry.ErrDuplicatePlatform):
				writeErr(w, http.StatusConflict, "platform identity already registered")
			default:
				writeErr(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func deletePlatform(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := platformID(w, r)
		if !ok {
			return
		}
		if err := d.Platforms.Delete(r.Context(), id); err != nil {
			if errors.Is(err, registry.ErrUnknownPlatform) {
				writeErr(w, http.StatusNotFound, "platform not found")
				return
			}
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func platformID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid platform id")
		return 0, false
	}
	return id, true
}

/* ------------------------------ Tool keys --------------------------------- */

type createKeyReq struct {
	// PrivatePEM imports existing PKCS#8 material; empty generates a
	// fresh RSA-2048 pair.
	PrivatePEM string `json:"private_pem,omitempty"`
}

type keyResp struct {
	KID       string `json:"kid"`
	CreatedAt string `json:"created_at"`
	PublicPEM string `json:"public_pem,omitempty"`
	Current   bool   `json:"current"`
}

func createKey(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createKeyReq
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
		}

		var (
			key *keyset.ToolKey
			err error
		)
		if req.PrivatePEM != "" {
			key, err = keyset.ImportPEM(req.PrivatePEM)
		} else {
			key, err = keyset.Generate()
		}
		if err != nil {
			if errors.Is(err, keyset.ErrKeyFormat) {
				writeErr(w, http.StatusBadRequest, "private_pem is not a PKCS#8 RSA key")
				return
			}
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}

		if err := d.Keys.Add(r.Context(), key); err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		if d.KeyStorage != nil {
			if err := persistPrivate(r.Context(), d.KeyStorage, key); err != nil {
				writeErr(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusCreated, keyResp{
			KID:       key.KID(),
			CreatedAt: key.CreatedAt().UTC().Format("2006-01-02T15:04:05Z"),
			Current:   true,
		})
	}
}

func persistPrivate(ctx context.Context, storage *db.KeyStorage, key *keyset.ToolKey) error {
	pem, err := key.PrivatePEM()
	if err != nil {
		return err
	}
	return storage.SavePrivate(ctx, key.KID(), pem)
}

func listKeys(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, _ := d.Keys.Current()
		out := []keyResp{}
		for _, key := range d.Keys.All() {
			out = append(out, keyResp{
				KID:       key.KID(),
				CreatedAt: key.CreatedAt().UTC().Format("2006-01-02T15:04:05Z"),
				Current:   current != nil && key.KID() == current.KID(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getKey(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := d.Keys.Get(chi.URLParam(r, "kid"))
		if err != nil {
			writeErr(w, http.StatusNotFound, "key not found")
			return
		}
		publicPEM, err := key.PublicPEM()
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		current, _ := d.Keys.Current()
		writeJSON(w, http.StatusOK, keyResp{
			KID:       key.KID(),
			CreatedAt: key.CreatedAt().UTC().Format("2006-01-02T15:04:05Z"),
			PublicPEM: publicPEM,
			Current:   current != nil && key.KID() == current.KID(),
		})
	}
}

/* ------------------------------ Helpers ----------------------------------- */

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errResp struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}
