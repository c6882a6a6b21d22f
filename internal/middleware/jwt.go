package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"fmt"
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
	"github.com/labstack/echo/v4"  // Echo framework used for defining middleware and handlers
)

// Context keys set by the JWT middlewares.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and role claims into the request context.  The
// provided secret must match the one used by the authentication service when
// issuing tokens.  Handlers access the user via `c.Get("user_id")` (always a
// string) and `c.Get("role")`.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			if err := authenticate(c, secret, strings.TrimPrefix(auth, "Bearer ")); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}

// OptionalJWT is like JWTAuth but lets anonymous requests through.  Guests
// reserve seats with only a session id; when a token is sent it must still
// be valid.
func OptionalJWT(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if auth == "" {
				return next(c)
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "malformed authorization header"})
			}
			if err := authenticate(c, secret, strings.TrimPrefix(auth, "Bearer ")); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}

// authenticate parses an HS256 token and stores its subject and role.
func authenticate(c echo.Context, secret, raw string) error {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return fmt.Errorf("invalid token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("invalid claims")
	}
	sub := claimString(claims["sub"])
	if sub == "" {
		sub = claimString(claims["user_id"])
	}
	if sub == "" {
		return fmt.Errorf("token has no subject")
	}
	c.Set(CtxUserID, sub)
	c.Set(CtxRole, claimString(claims["role"]))
	return nil
}

// claimString renders string and numeric claims as strings.  JSON numbers
// decode as float64, so user ids issued as integers arrive that way.
func claimString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
