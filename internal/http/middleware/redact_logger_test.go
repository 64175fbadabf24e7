package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// captureLogs swaps the global logger for a buffer for the test's duration.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })
	return &buf
}

func TestRedactingLogger_MasksWebhookSignature(t *testing.T) {
	buf := captureLogs(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.POST("/webhook", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeefcafe")
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("X-GitHub-Event", "push")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := buf.String()
	if strings.Contains(out, "deadbeefcafe") {
		t.Error("signature value leaked into logs")
	}
	if strings.Contains(out, "Bearer tok") {
		t.Error("authorization value leaked into logs")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("expected masked header markers in the log line")
	}
	if !strings.Contains(out, "push") {
		t.Error("non-sensitive headers should still be logged")
	}
}

func TestRedactingLogger_AttachesRequestScopedLogger(t *testing.T) {
	buf := captureLogs(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r.POST("/webhook", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("delivery handled")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("X-GitHub-Delivery", "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// The handler's log line must carry the delivery GUID as request_id,
	// not fall back to the bare global logger.
	var handlerLine string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, "delivery handled") {
			handlerLine = line
		}
	}
	if handlerLine == "" {
		t.Fatalf("handler log line missing; logs: %s", buf.String())
	}
	if !strings.Contains(handlerLine, `"request_id":"72d3162e-cc78-11e3-81ab-4c9367dc0958"`) {
		t.Errorf("handler log line lacks the correlation ID: %s", handlerLine)
	}
}

func TestRedactingLogger_ScrubsEmailsAndIDs(t *testing.T) {
	buf := captureLogs(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet,
		"/health?contact=ada@example.com&trace=72d3162e-cc78-41e3-81ab-4c9367dc0958", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := buf.String()
	if strings.Contains(out, "ada@example.com") {
		t.Error("email leaked into logs")
	}
	if strings.Contains(out, "72d3162e-cc78-41e3-81ab-4c9367dc0958") {
		t.Error("UUID leaked into logs")
	}
	if !strings.Contains(out, "[REDACTED:email]") || !strings.Contains(out, "[REDACTED:id]") {
		t.Errorf("expected scrub markers, got %s", out)
	}
}
