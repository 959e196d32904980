package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrPanic is returned in place of a handler panic. The panic value is only
// logged, never sent to the client.
var ErrPanic = errors.New("internal server error")

const stackSize = 8 << 10

// Recovery turns a handler panic into ErrPanic and logs the panic value with
// the stack of the panicking goroutine. http.ErrAbortHandler is re-raised so
// net/http can abort the response.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				stack := make([]byte, stackSize)
				stack = stack[:runtime.Stack(stack, false)]

				rid, _ := c.Get("request_id").(string)
				resourceType, resourceID := resourceRef(c)
				logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("resource_type", resourceType).
					Str("resource_id", resourceID).
					Str("panic", fmt.Sprint(r)).
					Str("stack", string(stack)).
					Msg("panic recovered")

				err = ErrPanic
			}()
			return next(c)
		}
	}
}
