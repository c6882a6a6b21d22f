package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger checks a dependency.  main wraps db.PingContext and the Redis
// client's Ping with PingFunc.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler reports liveness and, on /readyz, whether the backing
// stores answer.
type HealthHandler struct {
	Checks map[string]Pinger
}

// Health is used by load balancers to verify the process is up.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready runs every check with a short deadline.
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	out := make(map[string]string, len(h.Checks))
	for name, p := range h.Checks {
		if err := p.Ping(ctx); err != nil {
			out[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	return c.JSON(status, echo.Map{"checks": out})
}
