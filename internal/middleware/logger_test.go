package middleware

import (
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

func loggedRequest(t *testing.T, target string, authed bool) observer.LoggedEntry {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/api/v2/analyze/jobs", func(c *gin.Context) {
		if authed {
			c.Set(ContextKeyUserID, "user-1")
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

	require.Equal(t, 1, logs.Len())
	return logs.All()[0]
}

func TestLoggerRecordsRequestFields(t *testing.T) {
	entry := loggedRequest(t, "/api/v2/analyze/jobs?limit=5", true)

	fields := entry.ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/api/v2/analyze/jobs?limit=5", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.EqualValues(t, len("ok"), fields["size"])
	assert.Equal(t, "user-1", fields["user"])
}

func TestLoggerOmitsUserWhenUnauthenticated(t *testing.T) {
	entry := loggedRequest(t, "/api/v2/analyze/jobs", false)

	fields := entry.ContextMap()
	assert.Equal(t, "/api/v2/analyze/jobs", fields["path"])
	assert.NotContains(t, fields, "user")
}
