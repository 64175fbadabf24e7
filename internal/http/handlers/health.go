package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health implements GET /health for load balancers and uptime checks.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":  true,
		"now": time.Now().UTC().Format(time.RFC3339),
	})
}
