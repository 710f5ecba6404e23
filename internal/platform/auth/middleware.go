package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Claims are the token claims issued by the clinic's identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Role           string   `json:"role"`
	ProfessionalID string   `json:"professional_id,omitempty"`
	ModuleGrants   []string `json:"module_grants,omitempty"`
}

// Actor converts verified claims into an Actor.
func (c *Claims) Actor() (Actor, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Actor{}, err
	}
	a := Actor{ID: id, Role: ParseRole(c.Role), ModuleGrants: c.ModuleGrants}
	if c.ProfessionalID != "" {
		pid, err := uuid.Parse(c.ProfessionalID)
		if err != nil {
			return Actor{}, err
		}
		a.ProfessionalID = &pid
	}
	return a, nil
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

// JWTMiddleware verifies the bearer token and stores the resulting Actor on the
// request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor, err := claims.Actor()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}

			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// Development identity used when no headers are supplied.
var DevActorID = uuid.MustParse("00000000-0000-7000-8000-000000000001")

// DevAuthMiddleware trusts X-Dev-* headers instead of a token. Without headers
// the request runs as an administrator.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			actor := Actor{ID: DevActorID, Role: RoleAdmin}

			if v := h.Get("X-Dev-Actor-ID"); v != "" {
				id, err := uuid.Parse(v)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid X-Dev-Actor-ID")
				}
				actor.ID = id
			}
			if v := h.Get("X-Dev-Role"); v != "" {
				actor.Role = ParseRole(v)
			}
			if v := h.Get("X-Dev-Professional-ID"); v != "" {
				pid, err := uuid.Parse(v)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid X-Dev-Professional-ID")
				}
				actor.ProfessionalID = &pid
			}
			if v := h.Get("X-Dev-Modules"); v != "" {
				actor.ModuleGrants = strings.Split(v, ",")
			}

			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// RequireAuthenticated rejects requests whose context carries no identity.
// It runs after JWTMiddleware or DevAuthMiddleware.
func RequireAuthenticated() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !ActorFromContext(c.Request().Context()).Authenticated() {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}
