// Package auth verifies bearer tokens and maps them to a policy role.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivegate/internal/logging"
	"github.com/fruitsalade/drivegate/internal/metrics"
	"github.com/fruitsalade/drivegate/internal/protocol"
)

type contextKey string

const identityContextKey contextKey = "identity"

// DefaultRoleClaim is the claim read when Config.RoleClaim is empty.
const DefaultRoleClaim = "role"

// ErrNoVerifier is returned when a token arrives but neither a JWT secret
// nor an OIDC issuer is configured.
var ErrNoVerifier = errors.New("no token verifier configured")

// Config controls token verification.
type Config struct {
	Required     bool   `mapstructure:"required"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	OIDCIssuer   string `mapstructure:"oidc_issuer" validate:"omitempty,url"`
	OIDCClientID string `mapstructure:"oidc_client_id"`
	RoleClaim    string `mapstructure:"role_claim"`
	DefaultRole  string `mapstructure:"default_role"`
}

// Identity is the verified caller.
type Identity struct {
	Subject string
	Role    string
}

// Authenticator verifies HS256 JWTs and, when configured, OIDC ID tokens.
type Authenticator struct {
	cfg    Config
	secret []byte
	oidc   *OIDCVerifier
}

// New creates an Authenticator. The OIDC discovery document is fetched
// here when an issuer is configured.
func New(ctx context.Context, cfg Config) (*Authenticator, error) {
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = DefaultRoleClaim
	}
	a := &Authenticator{cfg: cfg}
	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
	}
	if cfg.OIDCIssuer != "" {
		v, err := NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		a.oidc = v
	}
	return a, nil
}

// Authenticate verifies token and extracts the caller's role. HS256 is
// tried first; OIDC is the fallback.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if a.secret == nil && a.oidc == nil {
		return nil, ErrNoVerifier
	}

	var errs []error
	if a.secret != nil {
		claims, err := a.validateToken(token)
		if err == nil {
			return a.identity(claims), nil
		}
		errs = append(errs, err)
	}
	if a.oidc != nil {
		claims, err := a.oidc.Verify(ctx, token)
		if err == nil {
			return a.identity(claims), nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (a *Authenticator) validateToken(tokenStr string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func (a *Authenticator) identity(claims map[string]any) *Identity {
	id := &Identity{Role: roleFromClaims(claims, a.cfg.RoleClaim)}
	if sub, ok := claims["sub"].(string); ok {
		id.Subject = sub
	}
	if id.Role == "" {
		id.Role = a.cfg.DefaultRole
	}
	return id
}

// roleFromClaims reads claim as a string or as the first string of an
// array.
func roleFromClaims(claims map[string]any, claim string) string {
	switch v := claims[claim].(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Middleware attaches the caller's Identity to the request context. A
// request without a token gets the default role unless auth is required.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			if a.cfg.Required {
				metrics.RecordAuthAttempt(false)
				sendAuthError(w, r, http.StatusUnauthorized, "missing authentication token")
				return
			}
			ctx := WithIdentity(r.Context(), &Identity{Role: a.cfg.DefaultRole})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		id, err := a.Authenticate(r.Context(), tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.WithContext(r.Context()).Info("token rejected", zap.Error(err))
			sendAuthError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		metrics.RecordAuthAttempt(true)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// WithIdentity injects id into a context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext returns the caller, or nil outside the middleware.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}

// RoleFromContext returns the caller's role, or "" when unknown.
func RoleFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Role
	}
	return ""
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, r *http.Request, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: logging.GetRequestID(r.Context()),
	})
}
