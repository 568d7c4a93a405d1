package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/internal/service"
)

func TestEventsHandlerStreamsAddressedEvents(t *testing.T) {
	hub := service.NewEventHub(4, nil)
	handler := NewEventsHandler(hub, time.Hour)

	c, w := newTestContext(http.MethodGet, "/transfers/events", "", schoolAdmin)
	done := make(chan struct{})
	go func() {
		handler.Stream(c)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return hub.Subscribers(service.SchoolKey("school-b")) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Publish(models.TransferEvent{ID: "e-other", Type: models.EventNegotiationMessage, SchoolIDs: []string{"school-c"}})
	hub.Publish(models.TransferEvent{ID: "e-1", Type: models.EventNegotiationStarted, SchoolIDs: []string{"school-a", "school-b"}})
	hub.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not end after hub close")
	}

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event:ready")
	assert.Contains(t, body, "event:negotiation.started")
	assert.Contains(t, body, `"id":"e-1"`)
	assert.NotContains(t, body, "e-other")
}

func TestEventsHandlerEndsWithRequestContext(t *testing.T) {
	hub := service.NewEventHub(4, nil)
	handler := NewEventsHandler(hub, 0)

	c, _ := newTestContext(http.MethodGet, "/transfers/events", "", studentClaims)
	ctx, cancel := context.WithCancel(context.Background())
	c.Request = c.Request.WithContext(ctx)
	done := make(chan struct{})
	go func() {
		handler.Stream(c)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return hub.Subscribers(service.StudentKey("student-1")) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not end after cancel")
	}
	assert.Zero(t, hub.Subscribers(service.StudentKey("student-1")))
}

func TestEventsHandlerRejectsUnboundAccount(t *testing.T) {
	handler := NewEventsHandler(service.NewEventHub(1, nil), time.Second)

	c, w := newTestContext(http.MethodGet, "/transfers/events", "", &models.JWTClaims{UserID: "u-0", Role: models.RoleSuperAdmin})
	handler.Stream(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
