package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

func TestAttachTraceContextEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext(), RequestLogger(logger.NewNop()))
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = c.GetString(ctxRequestID)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if seen != "req-123" {
		t.Fatalf("request id in context: want=%q got=%q", "req-123", seen)
	}
	if got := rec.Header().Get(headerRequestID); got != "req-123" {
		t.Fatalf("request id header: want=%q got=%q", "req-123", got)
	}
	if rec.Header().Get(headerTraceID) == "" {
		t.Fatalf("trace id header must be set")
	}
}
