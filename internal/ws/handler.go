package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Clients only send control traffic; frames flow the other way.
	maxClientMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // base64 JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HubLookup resolves a stream ID to its broadcast hub.
type HubLookup func(streamID string) (*Hub, bool)

// Handler upgrades HTTP requests into hub subscriptions.
type Handler struct {
	lookup HubLookup
}

// NewHandler creates a WebSocket handler backed by the given lookup.
func NewHandler(lookup HubLookup) *Handler {
	return &Handler{lookup: lookup}
}

// Serve upgrades the request and attaches the connection to the stream's
// hub on the given channel kind. Unknown streams get a 404 before the
// upgrade.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, streamID string, kind ChannelKind) {
	hub, ok := h.lookup(streamID)
	if !ok {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] %s: upgrade failed: %v", streamID, err)
		return
	}
	log.Printf("[WS] %s: %s subscriber connected from %s", streamID, kind, r.RemoteAddr)

	sub := hub.Subscribe(kind)
	go writePump(hub, sub, conn)
	go readPump(hub, sub, conn)
}

// writePump drains the subscriber's outbound channel onto the socket.
// A write failure is terminal for this subscriber only.
func writePump(hub *Hub, sub *Subscriber, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		hub.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case <-sub.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-sub.Out():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[WS] %s: send to %s failed: %v", hub.streamID, sub.ID, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump exists to notice disconnection; subscribers never send data.
func readPump(hub *Hub, sub *Subscriber, conn *websocket.Conn) {
	defer func() {
		hub.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(maxClientMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[WS] %s: read error for %s: %v", hub.streamID, sub.ID, err)
			}
			return
		}
	}
}
