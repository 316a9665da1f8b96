// Package hub fans processing status events out to the owner's open
// websocket connections.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/processing"
)

type Client struct {
	UserID    string
	Send      chan []byte
	Connected time.Time
}

func NewClient(userID string) *Client {
	return &Client{UserID: userID, Send: make(chan []byte, 16), Connected: time.Now()}
}

type Hub struct {
	mu            sync.RWMutex
	clientsByUser map[string]map[*Client]struct{}
	log           *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clientsByUser: make(map[string]map[*Client]struct{}),
		log:           log,
	}
}

func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clientsByUser[c.UserID]; !ok {
		h.clientsByUser[c.UserID] = make(map[*Client]struct{})
	}
	h.clientsByUser[c.UserID][c] = struct{}{}
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clientsByUser[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clientsByUser, c.UserID)
		}
	}
}

// StatusChanged implements processing.Notifier. Slow clients drop events
// rather than block the dispatcher.
func (h *Hub) StatusChanged(userID string, ev processing.StatusEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByUser[userID] {
		select {
		case c.Send <- b:
		default:
			h.log.Debugw("status event dropped for slow client", "user", userID)
		}
	}
}
