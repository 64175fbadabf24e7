// Package handlers contains the Gin handlers for the webhook server.
package handlers

import (
	"github.com/gin-gonic/gin"
)

// statusResponse is the 200 body for a processed delivery.
type statusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	// PostURI is present when the delivery resulted in a post.
	PostURI string `json:"post_uri,omitempty"`
}

// Error codes returned by the webhook endpoint.
const (
	codeInvalidSignature = "invalid_signature"
	codeInvalidPayload   = "invalid_payload"
	codePublishFailed    = "publish_failed"
	codeInternalError    = "internal_error"
)

// respondError writes the standard error envelope and aborts the chain.
func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       code,
		"message":    message,
	})
}
