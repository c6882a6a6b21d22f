package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const ctxLogger = "logger"

// RequestLogger tags each request with an id, stores a request scoped
// zap logger in the context and logs the outcome once the handler
// returns.
func RequestLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			l := base.With(zap.String("request_id", id))
			c.Set(ctxLogger, l)

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
			}
			switch {
			case status >= 500:
				l.Error("request", append(fields, zap.Error(err))...)
			case status >= 400:
				l.Info("request", fields...)
			default:
				l.Debug("request", fields...)
			}
			return nil
		}
	}
}

// Logger returns the request scoped logger, or a no-op logger outside a
// RequestLogger chain.
func Logger(c echo.Context) *zap.Logger {
	if l, ok := c.Get(ctxLogger).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}
