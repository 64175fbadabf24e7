package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
// MaskHeaders lists extra header names (case-insensitive) whose values are
// fully replaced with "[REDACTED]"; they are merged with the built-in set.
type RedactOptions struct {
	MaskHeaders []string
}

// Headers masked unconditionally. The webhook signature headers carry an
// HMAC derived from the shared secret and must never reach the logs.
var builtinMaskedHeaders = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"x-hub-signature",
	"x-hub-signature-256",
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// RedactingLogger returns a Gin middleware that logs requests with sensitive
// values scrubbed. It never logs request or response bodies; header values
// and query strings have email addresses and UUID-like identifiers replaced,
// and the masked headers are dropped entirely. Level follows status: warn
// for 4xx, error for 5xx, info otherwise.
//
// It also stores a request-scoped zerolog.Logger in the Gin context for
// LoggerFrom, carrying the correlation ID set by RequestID; place it after
// RequestID so handlers log with the delivery GUID attached.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	redact := func(s string) string {
		if s == "" {
			return s
		}
		out := uuidRE.ReplaceAllString(s, "[REDACTED:id]")
		return emailRE.ReplaceAllString(out, "[REDACTED:email]")
	}

	masked := make(map[string]struct{}, len(builtinMaskedHeaders)+len(opts.MaskHeaders))
	for _, h := range builtinMaskedHeaders {
		masked[h] = struct{}{}
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redact(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		rid, _ := c.Get(requestIDKey)
		reqID := asString(rid)
		if reqID == "" {
			reqID = c.Writer.Header().Get(requestIDHeader)
		}

		l := log.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
