package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/commitcast/commitcast/internal/http/middleware"
	"github.com/commitcast/commitcast/internal/publish"
	"github.com/commitcast/commitcast/internal/services"
	"github.com/commitcast/commitcast/internal/webhook"
)

// maxWebhookBody caps how much of a delivery is read. Push payloads list
// every commit in the push but we only consume head_commit; 5 MiB is far
// above anything GitHub sends for that shape.
const maxWebhookBody = 5 << 20

// Webhook handles GitHub push deliveries.
type Webhook struct {
	// Secret is the shared HMAC secret; verification happens before the
	// body is parsed.
	Secret string
	// Service runs the publish pipeline for accepted commits.
	Service *services.PublishService
}

// Handle implements POST /webhook.
//
// Responses: 401 when the signature does not verify, 202 for non-push
// events, 200 with {status, reason?} for processed push deliveries.
func (h *Webhook) Handle(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidPayload, "could not read request body")
		return
	}

	if !webhook.VerifySignature(h.Secret, body, c.GetHeader(webhook.SignatureHeader)) {
		lg.Warn().Msg("webhook signature verification failed")
		respondError(c, http.StatusUnauthorized, codeInvalidSignature, "signature verification failed")
		return
	}

	if ev := c.GetHeader(webhook.EventHeader); ev != "" && ev != "push" {
		lg.Debug().Str("event", ev).Msg("ignoring non-push event")
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "event": ev})
		return
	}

	var payload webhook.PushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidPayload, "malformed push payload")
		return
	}

	commit, ok := payload.Commit()
	if !ok {
		// Branch deletions and tag pushes arrive without a head commit.
		c.JSON(http.StatusOK, statusResponse{Status: services.StatusSkip, Reason: "no_head_commit"})
		return
	}

	out, err := h.Service.Run(c.Request.Context(), commit)
	if err != nil {
		if errors.Is(err, publish.ErrAuthFailed) || errors.Is(err, publish.ErrPostFailed) {
			respondError(c, http.StatusBadGateway, codePublishFailed, err.Error())
			return
		}
		lg.Error().Err(err).Msg("pipeline failure")
		respondError(c, http.StatusInternalServerError, codeInternalError, "internal server error")
		return
	}

	c.JSON(http.StatusOK, statusResponse{
		Status:  out.Status,
		Reason:  out.Reason,
		PostURI: out.Receipt.URI,
	})
}
