package backend

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "bot@acme.com",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func TestTokenHolder_Empty(t *testing.T) {
	h := NewTokenHolder()
	_, ok := h.Get()
	assert.False(t, ok)
}

func TestTokenHolder_SetAndGet(t *testing.T) {
	h := NewTokenHolder()
	token := signedToken(t, time.Now().Add(time.Hour))
	h.Set(token)

	got, ok := h.Get()
	require.True(t, ok)
	assert.Equal(t, token, got)
}

func TestTokenHolder_ExpiredTokenIsInvalid(t *testing.T) {
	h := NewTokenHolder()
	h.Set(signedToken(t, time.Now().Add(-time.Minute)))

	_, ok := h.Get()
	assert.False(t, ok)
}

func TestTokenHolder_SkewMargin(t *testing.T) {
	// A token expiring in 10 seconds is inside the 30-second skew margin and
	// must not be handed out.
	h := NewTokenHolder()
	h.Set(signedToken(t, time.Now().Add(10*time.Second)))

	_, ok := h.Get()
	assert.False(t, ok)
}

func TestTokenHolder_OpaqueTokenGetsFallbackLifetime(t *testing.T) {
	h := NewTokenHolder()
	h.Set("not-a-jwt")

	got, ok := h.Get()
	require.True(t, ok, "opaque tokens get the conservative fallback lifetime")
	assert.Equal(t, "not-a-jwt", got)
}

func TestTokenHolder_Invalidate(t *testing.T) {
	h := NewTokenHolder()
	h.Set(signedToken(t, time.Now().Add(time.Hour)))
	h.Invalidate()

	_, ok := h.Get()
	assert.False(t, ok)
}
