package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	original := L()
	defer Set(original)

	Init("production")
	assert.NotNil(t, L())

	Init("development")
	assert.NotNil(t, L())
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFrom(ctx))
	assert.Equal(t, "", RequestIDFrom(context.Background()))
}

func TestFromCtxAddsRequestID(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	original := L()
	Set(zap.New(core))
	defer Set(original)

	FromCtx(WithRequestID(context.Background(), "abc")).Info("hello")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "abc", entries[0].ContextMap()["request_id"])
}

func TestMiddlewareSetsHeaderAndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, observed := observer.New(zapcore.InfoLevel)
	original := L()
	Set(zap.New(core))
	defer Set(original)

	r := gin.New()
	r.Use(RequestID(), RequestLogger())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	r.ServeHTTP(w, req)

	assert.Equal(t, "given-id", w.Header().Get(RequestIDHeader))
	entries := observed.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusNoContent), entries[0].ContextMap()["status"])
	assert.Equal(t, "given-id", entries[0].ContextMap()["request_id"])
}
