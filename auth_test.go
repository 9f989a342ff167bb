package wickchat

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func TestIssueAndValidateToken(t *testing.T) {
	token, err := IssueToken(testSecret, "alice", "user", time.Hour)
	require.NoError(t, err)

	u, err := validateToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, &AuthUser{Username: "alice", Role: "user"}, u)

	_, err = validateToken([]byte("other"), token)
	assert.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	token, err := IssueToken(testSecret, "alice", "user", -time.Minute)
	require.NoError(t, err)
	_, err = validateToken(testSecret, token)
	assert.ErrorContains(t, err, "invalid token")
}

func TestIssueTokenRejectsEmptyInputs(t *testing.T) {
	_, err := IssueToken(nil, "alice", "", time.Hour)
	assert.Error(t, err)
	_, err = IssueToken(testSecret, "", "", time.Hour)
	assert.Error(t, err)
}

// whoami echoes the resolved user, or "-" when unauthenticated.
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	u := ResolveUser(r)
	if u == "" {
		u = "-"
	}
	w.Write([]byte(u))
})

func serve(h http.Handler, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddlewareJWT(t *testing.T) {
	h := authMiddleware(&AppConfig{JWTSecret: string(testSecret)}, whoami)
	token, err := IssueToken(testSecret, "bob", "user", time.Hour)
	require.NoError(t, err)

	t.Run("header", func(t *testing.T) {
		rec := serve(h, "/api/chat", token)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bob", rec.Body.String())
	})
	t.Run("query parameter", func(t *testing.T) {
		rec := serve(h, "/api/chat/ws?token="+token, "")
		assert.Equal(t, "bob", rec.Body.String())
	})
	t.Run("no token passes through", func(t *testing.T) {
		rec := serve(h, "/api/chat", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "-", rec.Body.String())
	})
	t.Run("bad token", func(t *testing.T) {
		rec := serve(h, "/api/chat", "garbage")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthMiddlewareGateway(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/me" || r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, AuthUser{Username: "carol", Role: "admin"})
	}))
	defer gw.Close()

	h := authMiddleware(&AppConfig{WickGatewayURL: gw.URL}, whoami)

	rec := serve(h, "/api/chat", "good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", rec.Body.String())

	rec = serve(h, "/api/chat", "bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, "/api/chat", "")
	assert.Equal(t, "-", rec.Body.String())
}

func TestAuthMiddlewareGatewayUnreachable(t *testing.T) {
	gw := httptest.NewServer(http.NotFoundHandler())
	url := gw.URL
	gw.Close()

	rec := serve(authMiddleware(&AppConfig{WickGatewayURL: url}, whoami), "/api/chat", "tok")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAuthMiddlewareLocal(t *testing.T) {
	rec := serve(authMiddleware(&AppConfig{}, whoami), "/api/chat", "")
	assert.Equal(t, LocalUser, rec.Body.String())
}

func TestAuthProxy(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeJSON(w, http.StatusCreated, map[string]string{"token": "t"})
	}))
	defer gw.Close()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	authProxy(gw.URL).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"token":"t"}`, rec.Body.String())
}
