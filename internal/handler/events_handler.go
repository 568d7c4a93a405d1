package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/internal/service"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
	"github.com/noah-isme/school-transfer-api/pkg/response"
)

const defaultHeartbeat = 15 * time.Second

type eventSubscriber interface {
	Subscribe(key string) *service.Subscription
}

// EventsHandler streams transfer events to schools and students over SSE.
type EventsHandler struct {
	hub       eventSubscriber
	heartbeat time.Duration
}

// NewEventsHandler builds a new handler.
func NewEventsHandler(hub eventSubscriber, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &EventsHandler{hub: hub, heartbeat: heartbeat}
}

// Stream godoc
// @Summary Subscribe to transfer events
// @Description Server-sent events addressed to the caller's school or student record. Browsers may pass the token as access_token.
// @Tags Events
// @Produce text/event-stream
// @Success 200 {string} string "event stream"
// @Failure 401 {object} response.Envelope
// @Router /transfers/events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var key string
	switch {
	case claims.Role == models.RoleStudent && claims.StudentID != "":
		key = service.StudentKey(claims.StudentID)
	case claims.SchoolID != "":
		key = service.SchoolKey(claims.SchoolID)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "account has no event stream"))
		return
	}

	sub := h.hub.Subscribe(key)
	defer sub.Close()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("ready", gin.H{"subscription": key})
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			c.SSEvent(string(event.Type), event)
		case <-ticker.C:
			c.SSEvent("heartbeat", time.Now().UTC().Format(time.RFC3339))
		}
		c.Writer.Flush()
	}
}
