package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func authRequest(t *testing.T, auth *Auth, mutate func(*http.Request)) int {
	t.Helper()
	handler := auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthOpenSurfaceWithoutToken(t *testing.T) {
	auth := NewAuth(ServerConfig{})
	if code := authRequest(t, auth, nil); code != http.StatusOK {
		t.Fatalf("open surface must allow all, got %d", code)
	}
}

func TestAuthPlaintextToken(t *testing.T) {
	cfg := ServerConfig{}
	cfg.Security.AdminToken = "hunter2"
	auth := NewAuth(cfg)

	if code := authRequest(t, auth, nil); code != http.StatusUnauthorized {
		t.Fatalf("missing token must be rejected, got %d", code)
	}
	if code := authRequest(t, auth, func(r *http.Request) {
		r.Header.Set("X-Admin-Token", "wrong")
	}); code != http.StatusUnauthorized {
		t.Fatalf("wrong token must be rejected, got %d", code)
	}
	if code := authRequest(t, auth, func(r *http.Request) {
		r.Header.Set("X-Admin-Token", "hunter2")
	}); code != http.StatusOK {
		t.Fatalf("correct token must pass, got %d", code)
	}
}

func TestAuthBearerHeader(t *testing.T) {
	cfg := ServerConfig{}
	cfg.Security.AdminToken = "hunter2"
	auth := NewAuth(cfg)

	if code := authRequest(t, auth, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer hunter2")
	}); code != http.StatusOK {
		t.Fatalf("bearer token must pass, got %d", code)
	}
}

func TestAuthBcryptHashTakesPrecedence(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	cfg := ServerConfig{}
	cfg.Security.AdminToken = "plaintext-ignored"
	cfg.Security.AdminTokenBcrypt = string(hash)
	auth := NewAuth(cfg)

	if code := authRequest(t, auth, func(r *http.Request) {
		r.Header.Set("X-Admin-Token", "plaintext-ignored")
	}); code != http.StatusUnauthorized {
		t.Fatalf("plaintext token must lose to the hash, got %d", code)
	}
	if code := authRequest(t, auth, func(r *http.Request) {
		r.Header.Set("X-Admin-Token", "s3cret")
	}); code != http.StatusOK {
		t.Fatalf("hash preimage must pass, got %d", code)
	}
}
