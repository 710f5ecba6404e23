package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const panicStackSize = 4096

// Recovery turns a handler panic into a 500 without leaking the panic value.
// The panic is logged through the request-scoped logger that Logger attaches,
// so it shares request_id with the request line. fallback is used when no
// such logger is on the context.
func Recovery(fallback zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				stack := make([]byte, panicStackSize)
				stack = stack[:runtime.Stack(stack, false)]

				req := c.Request()
				logger := panicLogger(c, fallback)
				logger.Error().
					Str("method", req.Method).
					Str("route", c.Path()).
					Str("panic", fmt.Sprintf("%v", r)).
					Bytes("stack", stack).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}

func panicLogger(c echo.Context, fallback zerolog.Logger) *zerolog.Logger {
	ctx := c.Request().Context()
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	l := fallback.With().Str("request_id", RequestIDFromContext(ctx)).Logger()
	return &l
}
