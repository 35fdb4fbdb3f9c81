package admin_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/lti-tool/internal/admin"
	"github.com/mind-engage/lti-tool/pkg/tool/keyset"
	"github.com/mind-engage/lti-tool/pkg/tool/registry"
)

func newAPI(t *testing.T) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return admin.Routes(admin.Deps{
		Platforms: registry.NewMemoryStore(),
		Keys:      keyset.New(nil),
		User:      "admin",
		PassHash:  string(hash),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.SetBasicAuth("admin", "s3cret")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const platformBody = `{
	"issuer": "https://lms.example",
	"deployment_id": "dep1",
	"client_id": "client-1",
	"auth_req_url": "https://lms.example/auth",
	"pub_key_url": "https://lms.example/jwks",
	"access_token_url": "https://lms.example/token"
}`

func TestAuthRequired(t *testing.T) {
	h := newAPI(t)
	if rr := do(t, h, http.MethodGet, "/platforms", "", false); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/platforms", nil)
	req.SetBasicAuth("admin", "wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rr.Code)
	}
}

func TestPlatformLifecycle(t *testing.T) {
	h := newAPI(t)

	rr := do(t, h, http.MethodPost, "/platforms", platformBody, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/platforms", platformBody, true); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/platforms/1", "", true); rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodDelete, "/platforms/1", "", true); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/platforms/1", "", true); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
}

func TestPlatformValidation(t *testing.T) {
	h := newAPI(t)
	rr := do(t, h, http.MethodPost, "/platforms", `{"issuer":"https://lms.example"}`, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("incomplete platform status = %d", rr.Code)
	}
}

func TestKeyGenerationAndImport(t *testing.T) {
	h := newAPI(t)

	rr := do(t, h, http.MethodPost, "/keys", "", true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("generate status = %d: %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodGet, "/keys", "", true); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"current":true`) {
		t.Fatalf("list = %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/keys", `{"private_pem":"not a pem"}`, true); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad pem status = %d", rr.Code)
	}
}
