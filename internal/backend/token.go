package backend

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenHolder caches a backend auth token together with its expiry. It is an
// explicit object handed to the processing loop at startup, never a
// package-level singleton.
type TokenHolder struct {
	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenHolder creates an empty holder.
func NewTokenHolder() *TokenHolder {
	return &TokenHolder{}
}

// Set stores a token, reading its expiry from the JWT exp claim when present.
// Tokens without a readable exp claim are kept valid for a conservative
// five minutes.
func (h *TokenHolder) Set(token string) {
	expires := time.Now().Add(5 * time.Minute)
	if exp, ok := jwtExpiry(token); ok {
		expires = exp
	}
	h.mu.Lock()
	h.token = token
	h.expires = expires
	h.mu.Unlock()
}

// Get returns the cached token and whether it is still valid. A small skew
// margin avoids using a token that expires mid-call.
func (h *TokenHolder) Get() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token == "" || time.Now().Add(30*time.Second).After(h.expires) {
		return "", false
	}
	return h.token, true
}

// Invalidate drops the cached token, forcing the next caller to re-authenticate.
func (h *TokenHolder) Invalidate() {
	h.mu.Lock()
	h.token = ""
	h.expires = time.Time{}
	h.mu.Unlock()
}

// jwtExpiry reads the exp claim without verifying the signature; the backend
// signed the token, we only need its lifetime.
func jwtExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
