package server

import (
	"net/http"
	"strings"

	subscriptiondomain "github.com/abiah-ai/usagegate/internal/subscription/domain"
	"github.com/gin-gonic/gin"
)

// UpsertSubscription applies a one-way sync from the billing provider. The
// path parameter wins over any subscriber_id in the body.
func (s *Server) UpsertSubscription(c *gin.Context) {
	subscriberID := strings.TrimSpace(c.Param("subscriberId"))
	if subscriberID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req subscriptiondomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriberID = subscriberID
	c.Set("subscriber_id", subscriberID)

	sub, err := s.subscriptionSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}
