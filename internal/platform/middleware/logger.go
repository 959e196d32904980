package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Context keys a handler sets once it knows which resource a request
// carries, for requests whose route does not name it.
const (
	ResourceTypeKey = "resource_type"
	ResourceIDKey   = "resource_id"
)

// Logger writes one log line per request. Client errors are logged at warn
// level and server errors at error level. The resource the request concerns
// is taken from the context keys above, or else from the :type and :id route
// params.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			status := responseStatus(c, err)
			var evt *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				evt = logger.Error().Err(err)
			case status >= http.StatusBadRequest:
				evt = logger.Warn().Err(err)
			default:
				evt = logger.Info()
			}

			rid, _ := c.Get("request_id").(string)
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())

			resourceType, resourceID := resourceRef(c)
			if resourceType != "" {
				evt = evt.Str("resource_type", resourceType)
			}
			if resourceID != "" {
				evt = evt.Str("resource_id", resourceID)
			}
			if sub := SubjectFromContext(req.Context()); sub != "" {
				evt = evt.Str("subject", sub)
			}
			evt.Msg("request")

			return err
		}
	}
}

// responseStatus is the status the client receives. An error still
// unhandled at this point is rendered after the logger returns.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

func resourceRef(c echo.Context) (string, string) {
	resourceType, _ := c.Get(ResourceTypeKey).(string)
	resourceID, _ := c.Get(ResourceIDKey).(string)
	if resourceType == "" {
		resourceType = c.Param("type")
	}
	if resourceID == "" && resourceType != "" {
		resourceID = c.Param("id")
	}
	return resourceType, resourceID
}
