package api

import (
	"bufio"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"jobtrail/utils"
)

// Cache event types pushed to subscribers.
const (
	EventThreadCached       = "thread_cached"
	EventSummariesRefreshed = "summaries_refreshed"
	EventCacheCleared       = "cache_cleared"
)

// CacheEvent tells connected clients that the mail cache changed, so list
// views can refresh without polling.
type CacheEvent struct {
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
	Time time.Time              `json:"time"`
}

// EventsHandler fans cache events out to SSE and WebSocket subscribers.
type EventsHandler struct {
	log         *utils.Logger
	mu          sync.RWMutex
	subscribers map[string]chan CacheEvent
}

// NewEventsHandler creates an events handler with no subscribers.
func NewEventsHandler(log *utils.Logger) *EventsHandler {
	return &EventsHandler{
		log:         log,
		subscribers: make(map[string]chan CacheEvent),
	}
}

// HandleSSE streams cache events as Server-Sent Events until the client
// disconnects.
func (h *EventsHandler) HandleSSE(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	subscriberID, events := h.subscribe()
	h.log.Info("Event stream subscriber connected: %s", subscriberID)

	ctx := c.Context()
	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// The stream writer runs after the handler returns, so cleanup
		// belongs here, not in the handler.
		defer func() {
			h.unsubscribe(subscriberID)
			h.log.Info("Event stream subscriber disconnected: %s", subscriberID)
		}()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case event := <-events:
				data, err := json.Marshal(event)
				if err != nil {
					continue
				}
				if _, err := w.WriteString("data: " + string(data) + "\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}

			case <-ticker.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}))

	return nil
}

// HandleWebSocket pushes cache events over a WebSocket connection.
func (h *EventsHandler) HandleWebSocket(c *websocket.Conn) {
	subscriberID, events := h.subscribe()
	defer func() {
		h.unsubscribe(subscriberID)
		c.Close()
		h.log.Info("WebSocket subscriber disconnected: %s", subscriberID)
	}()

	h.log.Info("WebSocket subscriber connected: %s", subscriberID)

	for event := range events {
		if err := c.WriteJSON(event); err != nil {
			h.log.Error("Failed to push cache event over WebSocket: %v", err)
			return
		}
	}
}

// Broadcast sends an event to every subscriber. Subscribers that cannot keep
// up are skipped rather than blocked on.
func (h *EventsHandler) Broadcast(event CacheEvent) {
	event.ID = uuid.New().String()
	event.Time = time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.log.Warn("Event channel full for subscriber %s", id)
		}
	}
}

// NotifyThreadCached announces that a thread's full detail landed in the
// cache, typically after a prefetch.
func (h *EventsHandler) NotifyThreadCached(threadID string) {
	h.Broadcast(CacheEvent{
		Type: EventThreadCached,
		Data: map[string]interface{}{"thread_id": threadID},
	})
}

// NotifySummariesRefreshed announces a completed summary refresh.
func (h *EventsHandler) NotifySummariesRefreshed(count int) {
	h.Broadcast(CacheEvent{
		Type: EventSummariesRefreshed,
		Data: map[string]interface{}{"count": count},
	})
}

// NotifyCacheCleared announces that the cache was emptied.
func (h *EventsHandler) NotifyCacheCleared() {
	h.Broadcast(CacheEvent{Type: EventCacheCleared})
}

func (h *EventsHandler) subscribe() (string, chan CacheEvent) {
	id := uuid.New().String()
	ch := make(chan CacheEvent, 16)

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()

	return id, ch
}

func (h *EventsHandler) unsubscribe(id string) {
	h.mu.Lock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
	h.mu.Unlock()
}
