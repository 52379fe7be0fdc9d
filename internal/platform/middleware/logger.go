package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/curation/internal/platform/auth"
)

// quietPaths are polled by health checks and scrapers; they are logged at debug.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Logger writes one line per request. The user is read after the handler
// chain returns, so identities set by auth middleware further in are logged.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("component", "http").Logger()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			rid, _ := c.Get("request_id").(string)
			user := auth.UserIDFromContext(c.Request().Context())

			evt := logger.Info()
			switch {
			case err != nil:
				evt = logger.Error().Err(err)
			case quietPaths[req.URL.Path]:
				evt = logger.Debug()
			}

			evt.
				Str("request_id", rid).
				Str("user", user).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
