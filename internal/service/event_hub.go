package service

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/school-transfer-api/internal/models"
)

const (
	defaultSubscriberBuffer = 16

	schoolKeyPrefix  = "school:"
	studentKeyPrefix = "student:"
)

// Subscription receives events addressed to one school or student.
type Subscription struct {
	Events <-chan models.TransferEvent

	hub *EventHub
	key string
	ch  chan models.TransferEvent
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// EventHub fans transfer events out to in-process subscribers such as open
// SSE streams. Slow subscribers lose events rather than block publishers.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
	closed      bool
	buffer      int
	logger      *zap.Logger
}

// NewEventHub constructs an empty hub.
func NewEventHub(buffer int, logger *zap.Logger) *EventHub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{subscribers: make(map[string]map[*Subscription]struct{}), buffer: buffer, logger: logger}
}

// SchoolKey addresses a school's subscribers.
func SchoolKey(id string) string { return schoolKeyPrefix + id }

// StudentKey addresses a student's subscribers.
func StudentKey(id string) string { return studentKeyPrefix + id }

// Subscribe registers a listener for key.
func (h *EventHub) Subscribe(key string) *Subscription {
	ch := make(chan models.TransferEvent, h.buffer)
	sub := &Subscription{Events: ch, hub: h, key: key, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	if h.subscribers[key] == nil {
		h.subscribers[key] = make(map[*Subscription]struct{})
	}
	h.subscribers[key][sub] = struct{}{}
	return sub
}

func (h *EventHub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscribers[sub.key]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subscribers, sub.key)
	}
}

// Close ends every open subscription, which lets streaming handlers return
// during shutdown. Later subscriptions are born closed.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for key, subs := range h.subscribers {
		for sub := range subs {
			close(sub.ch)
		}
		delete(h.subscribers, key)
	}
}

// Subscribers reports how many listeners are attached to key.
func (h *EventHub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[key])
}

// Publish delivers event to every addressed subscriber. Broadcast events reach
// all school subscribers.
func (h *EventHub) Publish(event models.TransferEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := make(map[*Subscription]struct{})
	deliver := func(key string) {
		for sub := range h.subscribers[key] {
			if _, done := delivered[sub]; done {
				continue
			}
			delivered[sub] = struct{}{}
			select {
			case sub.ch <- event:
			default:
				h.logger.Warn("dropping event for slow subscriber",
					zap.String("key", key),
					zap.String("event_type", string(event.Type)),
					zap.String("event_id", event.ID),
				)
			}
		}
	}

	if event.Broadcast {
		for key := range h.subscribers {
			if strings.HasPrefix(key, schoolKeyPrefix) {
				deliver(key)
			}
		}
	}
	for _, schoolID := range event.SchoolIDs {
		deliver(SchoolKey(schoolID))
	}
	if event.StudentID != "" {
		deliver(StudentKey(event.StudentID))
	}
}
