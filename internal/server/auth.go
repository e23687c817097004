package server

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Auth guards the control surface with a shared admin token. The token may be
// configured in plaintext or as a bcrypt hash; the hash wins when both are
// present. With neither configured the surface is open, which is only sane
// behind a private network.
type Auth struct {
	adminToken  string
	bcryptHash  string
	openSurface bool
}

func NewAuth(cfg ServerConfig) *Auth {
	token := strings.TrimSpace(cfg.Security.AdminToken)
	hash := strings.TrimSpace(cfg.Security.AdminTokenBcrypt)
	return &Auth{
		adminToken:  token,
		bcryptHash:  hash,
		openSurface: token == "" && hash == "",
	}
}

func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.authenticate(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) authenticate(r *http.Request) bool {
	if a.openSurface {
		return true
	}
	token := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	if token == "" {
		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			token = strings.TrimSpace(authHeader[7:])
		}
	}
	if token == "" {
		return false
	}
	if a.bcryptHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.bcryptHash), []byte(token)) == nil
	}
	return subtleConstantCompare(token, a.adminToken)
}

func subtleConstantCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	diff := byte(0)
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
