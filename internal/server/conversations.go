package server

import (
	"net/http"

	ingestdomain "github.com/abiah-ai/usagegate/internal/ingest/domain"
	"github.com/gin-gonic/gin"
)

// RegisterConversation records the conversation-to-subscriber mapping the
// webhook path later uses to attribute usage. Safe to retry.
func (s *Server) RegisterConversation(c *gin.Context) {
	var req ingestdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("subscriber_id", req.SubscriberID)
	c.Set("conversation_id", req.ConversationID)

	reg, err := s.ingestSvc.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": reg.ConversationID,
		"user_id":         reg.SubscriberID,
		"registered_at":   reg.CreatedAt,
	})
}
