package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirindex/internal/index"
	"github.com/ehr/fhirindex/internal/platform/fhir"
	"github.com/ehr/fhirindex/internal/platform/middleware"
	"github.com/ehr/fhirindex/internal/store"
)

// errNoStore is returned by store-backed routes when the service runs
// without an index store.
var errNoStore = errors.New("no index store configured")

// errorResponse maps err to a status code and OperationOutcome.
func errorResponse(err error) (int, *fhir.OperationOutcome) {
	var httpErr *echo.HTTPError
	switch {
	case errors.Is(err, index.ErrInvalidResource), errors.Is(err, fhir.ErrNotAResource):
		return http.StatusBadRequest, fhir.InvalidOutcome(err.Error())
	case errors.Is(err, index.ErrUnsupportedValue):
		return http.StatusBadRequest, fhir.NotSupportedOutcome(err.Error())
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error())
	case errors.Is(err, middleware.ErrPanic):
		return http.StatusInternalServerError, fhir.InternalErrorOutcome(middleware.ErrPanic.Error())
	case errors.Is(err, errNoStore):
		return http.StatusServiceUnavailable, fhir.NotSupportedOutcome(err.Error())
	case errors.As(err, &httpErr):
		msg := http.StatusText(httpErr.Code)
		if s, ok := httpErr.Message.(string); ok {
			msg = s
		}
		if httpErr.Code >= http.StatusInternalServerError {
			return httpErr.Code, fhir.InternalErrorOutcome(msg)
		}
		return httpErr.Code, fhir.ErrorOutcome(msg)
	default:
		return http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error())
	}
}

// errorHandler renders every error that reaches echo as an OperationOutcome.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, outcome := errorResponse(err)
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, outcome)
}
