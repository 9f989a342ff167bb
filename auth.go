package wickchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"goa.design/clue/log"
)

type contextKey int

const userCtxKey contextKey = 0

// LocalUser is injected on every request when no auth backend is configured.
const LocalUser = "local"

// AuthUser represents an authenticated user.
type AuthUser struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// userFromContext returns the AuthUser from the request context.
func userFromContext(ctx context.Context) *AuthUser {
	u, _ := ctx.Value(userCtxKey).(*AuthUser)
	return u
}

// ResolveUser returns the username from the request context, or "" when the
// request carries no credentials.
func ResolveUser(r *http.Request) string {
	if u := userFromContext(r.Context()); u != nil {
		return u.Username
	}
	return ""
}

// IssueToken signs an HS256 token for user, valid for ttl.
func IssueToken(secret []byte, user, role string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty signing secret")
	}
	if user == "" {
		return "", errors.New("empty user")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  user,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// validateToken parses and validates an HS256 token signed with secret.
func validateToken(secret []byte, tokenStr string) (*AuthUser, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("missing sub claim")
	}
	role, _ := claims["role"].(string)
	return &AuthUser{Username: sub, Role: role}, nil
}

// bearerToken extracts the token from the Authorization header. Browsers
// cannot set headers on WebSocket handshakes, so the token query parameter is
// accepted as well.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return h[7:]
	}
	return r.URL.Query().Get("token")
}

func withUser(r *http.Request, u *AuthUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userCtxKey, u))
}

// authMiddleware attaches the caller to the request context. With a JWT
// secret tokens are verified locally; with a gateway URL they are checked
// against the gateway /auth/me endpoint; with neither every request runs as
// LocalUser. Requests without a token pass through unauthenticated so that
// handlers decide how to reject them. Invalid tokens are rejected here.
func authMiddleware(cfg *AppConfig, next http.Handler) http.Handler {
	switch {
	case cfg.JWTSecret != "":
		secret := []byte(cfg.JWTSecret)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, err := validateToken(secret, token)
			if err != nil {
				log.Debug(r.Context(), log.KV{K: "msg", V: "rejected token"}, log.KV{K: "err", V: err.Error()})
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, withUser(r, user))
		})

	case cfg.WickGatewayURL != "":
		gatewayURL := cfg.WickGatewayURL
		client := &http.Client{Timeout: 10 * time.Second}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, gatewayURL+"/auth/me", nil)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "failed to create auth request")
				return
			}
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := client.Do(req)
			if err != nil {
				log.Error(r.Context(), err, log.KV{K: "msg", V: "auth gateway"})
				writeJSONError(w, http.StatusBadGateway, "auth gateway unreachable")
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			var user AuthUser
			if err := json.NewDecoder(resp.Body).Decode(&user); err != nil || user.Username == "" {
				writeJSONError(w, http.StatusInternalServerError, "failed to parse auth response")
				return
			}
			next.ServeHTTP(w, withUser(r, &user))
		})

	default:
		local := &AuthUser{Username: LocalUser, Role: "admin"}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, withUser(r, local))
		})
	}
}

// authProxy forwards auth routes (/auth/login, /auth/me) to the gateway so
// the UI can call them same-origin.
func authProxy(gatewayURL string) http.Handler {
	client := &http.Client{Timeout: 10 * time.Second}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyReq, err := http.NewRequestWithContext(r.Context(), r.Method, gatewayURL+r.URL.Path, r.Body)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to create proxy request")
			return
		}
		for _, h := range []string{"Content-Type", "Authorization"} {
			if v := r.Header.Get(h); v != "" {
				proxyReq.Header.Set(h, v)
			}
		}

		resp, err := client.Do(proxyReq)
		if err != nil {
			log.Error(r.Context(), err, log.KV{K: "msg", V: "auth proxy"})
			writeJSONError(w, http.StatusBadGateway, "auth gateway unreachable")
			return
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	})
}
