package web

import (
	"encoding/json"
	"io"
	"log"
	"sync"

	"github.com/convoke-dev/convoke/activitypub"
	"github.com/gin-gonic/gin"
)

const sseClientBuffer = 16

type sseMessage struct {
	Kind string
	Data string
}

// SSEHub broadcasts federation notifications to connected clients over
// Server-Sent Events. It is the production Notifier implementation.
type SSEHub struct {
	mu      sync.RWMutex
	clients map[chan sseMessage]bool
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[chan sseMessage]bool),
	}
}

// Notify fans the notification out to every connected client. Slow clients
// whose buffer is full miss the message instead of blocking the inbox.
func (h *SSEHub) Notify(kind activitypub.NotificationKind, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("SSE: Failed to marshal %s payload: %v", kind, err)
		return
	}

	msg := sseMessage{Kind: string(kind), Data: string(data)}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client <- msg:
		default:
		}
	}
}

func (h *SSEHub) subscribe() chan sseMessage {
	client := make(chan sseMessage, sseClientBuffer)
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	return client
}

func (h *SSEHub) unsubscribe(client chan sseMessage) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	close(client)
}

// ClientCount returns the number of connected stream clients
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler streams notifications to one client until it disconnects
func (h *SSEHub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := h.subscribe()
		defer h.unsubscribe(client)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			select {
			case msg, ok := <-client:
				if !ok {
					return false
				}
				c.SSEvent(msg.Kind, msg.Data)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
