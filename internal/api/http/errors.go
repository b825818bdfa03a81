package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/htmloverlay/internal/api/middleware"
	"github.com/GriffinCanCode/htmloverlay/internal/bridge"
	"github.com/GriffinCanCode/htmloverlay/internal/loader"
	"github.com/GriffinCanCode/htmloverlay/internal/webview"
)

// Error kinds reported to clients.
const (
	KindTimeout     = "timeout"
	KindInvalidated = "invalidated"
	KindScript      = "script_error"
	KindUnavailable = "unavailable"
	KindBadRequest  = "bad_request"
	KindNotFound    = "not_found"
	KindInternal    = "internal"
)

// ErrorStatus maps an error to an HTTP status and kind.
func ErrorStatus(err error) (int, string) {
	var evalErr *bridge.EvaluationError
	switch {
	case errors.Is(err, bridge.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindTimeout
	case errors.Is(err, bridge.ErrPageInvalidated):
		return http.StatusConflict, KindInvalidated
	case errors.As(err, &evalErr):
		return http.StatusUnprocessableEntity, KindScript
	case errors.Is(err, bridge.ErrSchedulingFailure),
		errors.Is(err, bridge.ErrSessionClosed),
		errors.Is(err, bridge.ErrIDExhausted),
		errors.Is(err, webview.ErrDestroyed),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, KindUnavailable
	case errors.Is(err, loader.ErrBadURI), errors.Is(err, loader.ErrNotAllowed), errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, KindBadRequest
	case errors.Is(err, loader.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

func writeError(c *gin.Context, err error) {
	status, kind := ErrorStatus(err)
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error":      err.Error(),
		"kind":       kind,
		"request_id": middleware.RequestIDFrom(c.Request.Context()),
	})
}
