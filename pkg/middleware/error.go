package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/pricekit/repricer/pkg/appctx"
	"github.com/pricekit/repricer/pkg/tracing"
)

// ErrorEnvelope is the JSON body of every error response. RunID is set when
// the failing request addressed a reconciliation run, so callers can tie the
// error back to the run they were driving.
type ErrorEnvelope struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Error maps handler and repository errors onto the error envelope. Anything
// that is neither an echo.HTTPError nor an httperror surfaces as a 500.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()

		status := http.StatusInternalServerError
		message := "Internal Server Error"
		var meta map[string]any

		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			status = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			}
		}
		if httperror.IsHTTPError(err) {
			httpErr := httperror.ToHTTPError(err)
			status = httperror.GetStatusCode(err)
			message = httpErr.Error()
			meta = httpErr.Meta
		}

		runID := appctx.GetRunID(ctx)
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": status,
			"route":  c.Path(),
			"run_id": runID,
		}).Error("Request failed")

		if c.Response().Committed {
			return
		}

		_ = c.JSON(status, ErrorEnvelope{
			Message:   message,
			RequestID: appctx.GetRequestID(ctx),
			RunID:     runID,
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
