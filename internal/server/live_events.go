package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abiah-ai/usagegate/internal/liveevents"
	"github.com/gin-gonic/gin"
)

func (s *Server) StreamUsageLiveEvents(c *gin.Context) {
	if s.liveUsageEvents == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	subscriberID := strings.TrimSpace(c.Query("user_id"))
	if subscriberID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("subscriber_id", subscriberID)

	subscription, backlog, err := s.liveUsageEvents.Subscribe(subscriberID)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}

	for _, event := range backlog {
		if err := writeUsageLiveEvent(writer, subscriberID, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-subscription.Events():
			if err := writeUsageLiveEvent(writer, subscriberID, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeUsageLiveEvent(w io.Writer, subscriberID string, event liveevents.LiveEvent) error {
	payload := event
	if payload.SubscriberID == "" {
		payload.SubscriberID = subscriberID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
