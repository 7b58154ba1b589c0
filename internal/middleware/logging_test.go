package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"pai-assistant-go/pkg/log"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	log.Replace(zap.New(core))
	t.Cleanup(func() { log.Replace(zap.NewNop()) })

	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		c.String(http.StatusCreated, strings.ToUpper(string(body)))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("hello")))
	assert.Equal(t, "HELLO", w.Body.String())

	entries := logs.FilterMessage("HTTP Request Log").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, http.StatusCreated, fields["statusCode"])
	assert.Equal(t, "/echo", fields["path"])
	assert.Equal(t, "hello", fields["requestBody"])
	assert.Equal(t, "HELLO", fields["responseBody"])
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", maxLoggedBody+10)
	assert.Len(t, truncate([]byte(long)), maxLoggedBody+3)
	assert.Equal(t, "short", truncate([]byte("short")))
}
