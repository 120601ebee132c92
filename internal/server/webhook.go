package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const webhookMaxBodyBytes = 1 << 20

// ConversationWebhookPreflight answers the provider's CORS preflight. The
// allow-list mirrors the origin check on the POST itself.
func (s *Server) ConversationWebhookPreflight(c *gin.Context) {
	s.setWebhookCORSHeaders(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) HandleConversationWebhook(c *gin.Context) {
	s.setWebhookCORSHeaders(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookMaxBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.ingestSvc.HandleDelivery(c.Request.Context(), body, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if outcome.SubscriberID != "" {
		c.Set("subscriber_id", outcome.SubscriberID)
	}
	c.Set("conversation_id", outcome.ConversationID)

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"event_kind":      outcome.Kind,
		"status":          outcome.Status,
		"conversation_id": outcome.ConversationID,
	})
}

func (s *Server) setWebhookCORSHeaders(c *gin.Context) {
	origin := strings.TrimSpace(c.GetHeader("Origin"))
	if origin == "" {
		return
	}
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, X-Webhook-Signature")
	c.Header("Access-Control-Max-Age", "600")
	c.Header("Vary", "Origin")
}
