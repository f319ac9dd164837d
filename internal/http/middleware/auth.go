package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/princekumarofficial/channel-media-service/internal/types/users"
	"github.com/princekumarofficial/channel-media-service/internal/utils/jwt"
	"github.com/princekumarofficial/channel-media-service/internal/utils/response"
)

type contextKey string

const callerKey contextKey = "caller"

var (
	errMissingCredentials = errors.New("authorization header or X-API-Key required")
	errInvalidToken       = errors.New("invalid token")
	errNotAdmin           = errors.New("admin privileges required")
)

// Caller identifies the admin behind a request.
type Caller struct {
	UserID   int64
	Username string
	APIKey   bool
}

// ID is the stable key used for per-caller rate limits and logs.
func (c Caller) ID() string {
	if c.APIKey {
		return "api-key"
	}
	return fmt.Sprintf("user:%d", c.UserID)
}

type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (users.User, error)
}

// Authenticator admits admins by JWT bearer token, ?token= query parameter
// or the shared admin API key.
type Authenticator struct {
	users     UserLookup
	jwtSecret string
	apiKey    string
}

func NewAuthenticator(lookup UserLookup, jwtSecret, apiKey string) *Authenticator {
	return &Authenticator{users: lookup, jwtSecret: jwtSecret, apiKey: apiKey}
}

func bearer(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return r.URL.Query().Get("token"), nil
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimPrefix(authHeader, "Bearer "), nil
}

// Authenticate resolves the caller of r, returning the HTTP status to answer
// with on failure.
func (a *Authenticator) Authenticate(r *http.Request) (Caller, int, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		if a.apiKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1 {
			return Caller{APIKey: true, Username: "api-key"}, http.StatusOK, nil
		}
		return Caller{}, http.StatusUnauthorized, errors.New("invalid API key")
	}

	token, err := bearer(r)
	if err != nil {
		return Caller{}, http.StatusUnauthorized, err
	}
	if token == "" {
		return Caller{}, http.StatusUnauthorized, errMissingCredentials
	}

	userID, err := jwt.ExtractUserIDFromToken(token, a.jwtSecret)
	if err != nil {
		return Caller{}, http.StatusUnauthorized, errInvalidToken
	}

	user, err := a.users.GetUserByID(r.Context(), userID)
	if err != nil {
		return Caller{}, http.StatusUnauthorized, errInvalidToken
	}
	if !user.IsAdmin {
		return Caller{}, http.StatusForbidden, errNotAdmin
	}
	return Caller{UserID: user.ID, Username: user.Username}, http.StatusOK, nil
}

// RequireAdmin rejects requests without admin credentials and stores the
// caller in the request context.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, status, err := a.Authenticate(r)
		if err != nil {
			response.WriteJSON(w, status, response.GeneralError(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext extracts the caller set by RequireAdmin.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}
