package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteAddr(r *http.Request) string { return r.RemoteAddr }

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	token, err := m.GenerateToken(&User{Subject: "installer", Role: RoleAdmin})
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "installer", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Len(t, claims.ID, 36, "token id is a uuid")
	assert.True(t, claims.User().IsAdmin())

	other, err := m.GenerateToken(&User{Subject: "installer", Role: RoleAdmin})
	require.NoError(t, err)
	otherClaims, err := m.ValidateToken(other)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, otherClaims.ID)
}

func TestJWTRejections(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	_, err := m.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewJWTManager("other", time.Hour).GenerateToken(&User{Subject: "x", Role: RoleAdmin})
	require.NoError(t, err)
	_, err = m.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)

	badRole := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role:             "root",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
	})
	signed, err = badRole.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNeverExpiringToken(t *testing.T) {
	m := NewJWTManager("secret", 0)
	token, err := m.GenerateToken(&User{Subject: "panel", Role: RoleReadOnly})
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("readonly")
	require.NoError(t, err)
	assert.Equal(t, RoleReadOnly, r)

	_, err = ParseRole("owner")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	mw := NewMiddleware(m, remoteAddr)

	var seen *User
	protected := mw.RequireAuth(mw.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
	})))

	admin, err := m.GenerateToken(&User{Subject: "installer", Role: RoleAdmin})
	require.NoError(t, err)
	viewer, err := m.GenerateToken(&User{Subject: "panel", Role: RoleReadOnly})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + admin, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"read only", "Bearer " + viewer, http.StatusForbidden},
		{"admin", "bearer " + admin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/config", nil)
			req.RemoteAddr = "10.0.0." + tt.name
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	require.NotNil(t, seen)
	assert.Equal(t, "installer", seen.Subject)
}

func TestMiddlewareBlocksRepeatedFailures(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	mw := NewMiddleware(m, remoteAddr)
	h := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
		req.RemoteAddr = "10.0.0.9"
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, do("Bearer nope"))
	}

	good, err := m.GenerateToken(&User{Subject: "x", Role: RoleReadOnly})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, do("Bearer "+good), "blocked even with a valid token")
}

func TestFailureLimiterWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewFailureLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		rl.RecordFailure("a")
	}
	blocked, _ := rl.Blocked("a")
	assert.False(t, blocked)

	// The window restarts after it expires
	now = now.Add(3 * time.Minute)
	rl.RecordFailure("a")
	blocked, _ = rl.Blocked("a")
	assert.False(t, blocked)

	for i := 0; i < 4; i++ {
		rl.RecordFailure("a")
	}
	blocked, remaining := rl.Blocked("a")
	assert.True(t, blocked)
	assert.Equal(t, 300, remaining)

	now = now.Add(6 * time.Minute)
	blocked, _ = rl.Blocked("a")
	assert.False(t, blocked)

	rl.RecordFailure("b")
	rl.Reset("b")
	assert.NotContains(t, rl.attempts, "b")
}

func TestWSTokenStore(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewWSTokenStore()
	s.now = func() time.Time { return now }

	token, err := s.Generate("installer")
	require.NoError(t, err)
	assert.Len(t, token, 2*WSTokenLength)

	subject, ok := s.Validate(token)
	assert.True(t, ok)
	assert.Equal(t, "installer", subject)

	_, ok = s.Validate(token)
	assert.False(t, ok, "tokens are one-time use")

	stale, err := s.Generate("installer")
	require.NoError(t, err)
	now = now.Add(WSTokenTTL + time.Second)
	_, ok = s.Validate(stale)
	assert.False(t, ok)

	_, err = s.Generate("a")
	require.NoError(t, err)
	now = now.Add(WSTokenTTL + time.Second)
	_, err = s.Generate("b")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len(), "expired tokens are dropped")
}
