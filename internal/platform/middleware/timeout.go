package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type timeoutBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	Timeout   string `json:"timeout"`
}

// RequestTimeout puts a deadline on the request context. Registry and ledger
// handlers hand that context to pgx, so a slow query is cancelled at the
// deadline and the handler returns. When it returns with the deadline
// passed and nothing written yet, the caller gets a 504 naming the request.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err == nil || c.Response().Committed || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			rid, _ := c.Get("request_id").(string)
			return c.JSON(http.StatusGatewayTimeout, timeoutBody{
				Error:     "request timed out",
				RequestID: rid,
				Timeout:   timeout.String(),
			})
		}
	}
}
