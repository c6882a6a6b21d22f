package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/flight-seat-reservation/internal/handler"
	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
)

// RegisterRoutes registers the unauthenticated health endpoints.
func RegisterRoutes(e *echo.Echo, hh *handler.HealthHandler) {
	e.GET("/healthz", handler.Health)
	if hh != nil {
		e.GET("/readyz", hh.Ready)
	}
}

// RegisterSeats registers the seat map, reservation and booking
// endpoints.  Guests are identified by their session id alone, so the
// JWT is optional here; an invalid token is still rejected.  limiter
// and cache may be nil.
func RegisterSeats(e *echo.Echo, h *handler.SeatHandler, jwtSecret string, limiter, cache echo.MiddlewareFunc) {
	var mws []echo.MiddlewareFunc
	mws = append(mws, middleware.OptionalJWT(jwtSecret))
	if limiter != nil {
		mws = append(mws, limiter)
	}
	g := e.Group("/v1", mws...)

	layout := []echo.MiddlewareFunc{}
	if cache != nil {
		layout = append(layout, cache)
	}
	g.GET("/flights/:id/layout", h.Layout, layout...)
	g.GET("/flights/:id/seats", h.SeatMap)

	g.POST("/flights/:id/reservations", h.Reserve)
	g.POST("/flights/:id/reservations/renew", h.Renew)
	g.DELETE("/flights/:id/reservations", h.Release)
	g.DELETE("/reservations", h.ReleaseSession)
	g.POST("/reservations/release", h.Beacon)

	g.POST("/flights/:id/bookings", h.Book)
	g.GET("/bookings", h.MyBookings)

	// Claim runs right after login and needs the user.
	g.POST("/reservations/claim", h.Claim, middleware.JWTAuth(jwtSecret))
}

// RegisterAdmin registers operator endpoints.  All routes require a valid
// JWT and the ADMIN role.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("ADMIN"),
	)
	g.GET("/flights/:id/locks", a.FlightLocks)
	g.POST("/locks/sweep", a.Sweep)
}
