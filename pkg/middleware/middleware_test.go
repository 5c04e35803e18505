package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricekit/repricer/pkg/appctx"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func newErrorContext(t *testing.T) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc", nil)
	ctx := appctx.SetRequestID(req.Context(), "req-123")
	ctx = appctx.SetRunID(ctx, "run-456")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestErrorEnvelopeCarriesRequestAndRunIDs(t *testing.T) {
	c, rec := newErrorContext(t)
	handler := Error(getTestLogger())

	handler(httperror.NewHTTPError(http.StatusNotFound, "run not found"), c)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "run not found", envelope.Message)
	assert.Equal(t, "req-123", envelope.RequestID)
	assert.Equal(t, "run-456", envelope.RunID)
}

func TestErrorHandlesEchoHTTPError(t *testing.T) {
	c, rec := newErrorContext(t)
	handler := Error(getTestLogger())

	handler(echo.NewHTTPError(http.StatusBadRequest, "invalid limit"), c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "invalid limit", envelope.Message)
}

func TestErrorDefaultsUnknownErrorsToInternal(t *testing.T) {
	c, rec := newErrorContext(t)
	handler := Error(getTestLogger())

	handler(assert.AnError, c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "Internal Server Error", envelope.Message)
}

func TestContextAssignsRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	mw := Context()(func(c echo.Context) error {
		seen = appctx.GetRequestID(c.Request().Context())
		return nil
	})
	require.NoError(t, mw(c))
	assert.NotEmpty(t, seen)
}

func TestContextKeepsCallerRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "caller-supplied")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	mw := Context()(func(c echo.Context) error {
		seen = appctx.GetRequestID(c.Request().Context())
		return nil
	})
	require.NoError(t, mw(c))
	assert.Equal(t, "caller-supplied", seen)
}
