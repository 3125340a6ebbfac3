// Package auth resolves the acting identity for each request. The core
// engines never make authentication decisions themselves; they consume the
// Identity this package attaches to the request context.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"

	"forma/backend/internal/config"
)

// identityContextKey is the echo context key the middleware stores the
// resolved Identity under.
const identityContextKey = "forma.identity"

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Auth verifies bearer tokens against an OIDC provider and produces the
// acting identity for downstream handlers.
type Auth struct {
	verifier   *oidc.IDTokenVerifier
	logger     Logger
	authBypass bool
}

// New creates an Auth from the application configuration. In DEV mode with
// the bypass flag set, token verification is skipped entirely and every
// request acts as a fixed local identity with all scopes.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	isDev := strings.ToUpper(cfg.Environment) == "DEV"
	shouldBypass := isDev && cfg.Auth.DevModeBypass

	var verifier *oidc.IDTokenVerifier
	if !shouldBypass {
		if cfg.Auth.Issuer == "" {
			return nil, errors.New("auth configuration is incomplete: issuer is required")
		}
		provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
		if err != nil {
			return nil, err
		}
		// Access tokens often carry an audience other than the client id,
		// so the client id check is skipped for the API verifier.
		verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	return &Auth{
		verifier:   verifier,
		logger:     logger,
		authBypass: shouldBypass,
	}, nil
}

// RequireAuth is echo middleware that resolves the acting identity from the
// Authorization header and stores it on the request context. Requests
// without a valid bearer token are rejected with 401.
func (a *Auth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.authBypass {
			c.Set(identityContextKey, Identity{
				UserID: "dev@localhost",
				Scopes: []string{ScopeRead, ScopeWrite, ScopeAdmin},
			})
			return next(c)
		}

		header := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		token, err := a.verifier.Verify(c.Request().Context(), raw)
		if err != nil {
			a.logger.Debug("token verification failed", "error", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		var claims struct {
			Subject string `json:"sub"`
			Email   string `json:"email"`
			Scope   string `json:"scp"`
		}
		if err := token.Claims(&claims); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "failed to parse token claims")
		}

		userID := claims.Email
		if userID == "" {
			userID = claims.Subject
		}
		if userID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "token carries no usable subject")
		}

		c.Set(identityContextKey, Identity{
			UserID: userID,
			Scopes: strings.Fields(claims.Scope),
		})
		return next(c)
	}
}

// IdentityFrom extracts the acting identity the middleware stored on the
// context. The boolean is false when the middleware did not run.
func IdentityFrom(c echo.Context) (Identity, bool) {
	identity, ok := c.Get(identityContextKey).(Identity)
	return identity, ok
}
