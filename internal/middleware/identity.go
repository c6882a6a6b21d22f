package middleware

// identity.go resolves who is calling.  A caller is a model.Holder: the
// client generated session id (X-Session-ID header, or session_id query
// parameter) plus the user id put in the context by the JWT middlewares.

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// SessionHeader carries the client's session id.
const SessionHeader = "X-Session-ID"

const maxSessionIDLen = 128

// SessionID returns the caller's session id, or "" when none was sent or
// it is unusable.
func SessionID(c echo.Context) string {
	s := strings.TrimSpace(c.Request().Header.Get(SessionHeader))
	if s == "" {
		s = strings.TrimSpace(c.QueryParam("session_id"))
	}
	if len(s) > maxSessionIDLen {
		return ""
	}
	return s
}

// CurrentUserID returns the authenticated user id or "".
func CurrentUserID(c echo.Context) string {
	if s, ok := c.Get(CtxUserID).(string); ok {
		return s
	}
	return ""
}

// CurrentHolder combines the session id and the authenticated user.
func CurrentHolder(c echo.Context) model.Holder {
	return model.Holder{SessionID: SessionID(c), UserID: CurrentUserID(c)}
}

// holderKey identifies the caller for rate limiting: the holder key when
// one is known, "anon" otherwise.
func holderKey(c echo.Context) string {
	h := CurrentHolder(c)
	if h.IsZero() {
		return "anon"
	}
	return h.Key()
}
