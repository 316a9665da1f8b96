package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/auth"
	"github.com/suffus/reedi-media-service/internal/hub"
)

// WSHandler streams processing status and progress events to the owner over
// a websocket. The client authenticates with ?token=<jwt>.
type WSHandler struct {
	hub      *hub.Hub
	verifier *auth.Verifier
	log      *zap.SugaredLogger

	pingInterval  time.Duration
	writeDeadline time.Duration
}

func NewWSHandler(h *hub.Hub, v *auth.Verifier, pingInterval, writeDeadline time.Duration, log *zap.SugaredLogger) *WSHandler {
	return &WSHandler{
		hub:           h,
		verifier:      v,
		log:           log,
		pingInterval:  pingInterval,
		writeDeadline: writeDeadline,
	}
}

// Serve runs one connection. Mount behind websocket.New.
func (w *WSHandler) Serve(c *websocket.Conn) {
	token := c.Query("token")
	if token == "" {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		_ = c.Close()
		return
	}
	userID, err := w.verifier.VerifyToken(token)
	if err != nil {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		_ = c.Close()
		return
	}

	client := hub.NewClient(userID)
	w.hub.AddClient(client)

	quit := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case b := <-client.Send:
				_ = c.SetWriteDeadline(time.Now().Add(w.writeDeadline))
				if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
					w.log.Debugw("ws write", "user", userID, "err", err)
					return
				}
			case <-ticker.C:
				_ = c.SetWriteDeadline(time.Now().Add(w.writeDeadline))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-quit:
				return
			}
		}
	}()

	// The stream is one-way; the read loop only notices disconnects.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	w.hub.RemoveClient(client)
	close(quit)
	_ = c.Close()
}
