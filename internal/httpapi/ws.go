package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Live feeds are consumed from the campus dashboard SPA; origin policy
	// is enforced upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxFrameSize = 4096
)

// clientMessage is the tagged union of everything a subscriber may send.
// Unknown type tags are rejected, not ignored.
type clientMessage struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (h *Handler) serveWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	var userID int64
	if token := c.Query("token"); token != "" {
		if claims, err := auth.Parse(token, h.signingKey, h.issuer); err == nil {
			userID, _ = strconv.ParseInt(claims.Subject, 10, 64)
		}
	}

	conn := h.hub.Register(c.ClientIP(), c.Request.UserAgent(), userID)
	defer h.hub.Unregister(conn.ID)

	// Single writer: every outbound frame, direct reply or broadcast, goes
	// through the connection's send channel.
	go func() {
		for msg := range conn.Send {
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		_ = ws.Close()
	}()

	h.reply(conn.ID, map[string]any{"type": "connected", "connectionId": conn.ID})

	ws.SetReadLimit(wsMaxFrameSize)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(conn.ID, map[string]any{"type": "error", "error": "malformed message"})
			continue
		}
		h.dispatch(conn.ID, msg)
	}
}

func (h *Handler) dispatch(connID string, msg clientMessage) {
	switch msg.Type {
	case "join-room":
		if msg.Room == "" {
			h.reply(connID, map[string]any{"type": "error", "error": "room required"})
			return
		}
		h.hub.Join(connID, msg.Room)
		h.reply(connID, map[string]any{"type": "room-joined", "room": msg.Room})
	case "leave-room":
		h.hub.Leave(connID, msg.Room)
		h.reply(connID, map[string]any{"type": "room-left", "room": msg.Room})
	case "heartbeat":
		h.hub.Heartbeat(connID)
		h.reply(connID, map[string]any{"type": "heartbeat-ack"})
	case "get-metrics":
		h.reply(connID, map[string]any{"type": "system-metrics", "data": h.hub.Snapshot()})
	case "get-connections":
		h.reply(connID, map[string]any{"type": "connections", "data": h.hub.Connections()})
	case "attendance-update":
		// Manual/test echo into a room's live feed.
		if msg.Room == "" {
			h.reply(connID, map[string]any{"type": "error", "error": "room required"})
			return
		}
		h.hub.Event(msg.Room, "attendance-updated", msg.Data)
	default:
		h.reply(connID, map[string]any{"type": "error", "error": "unknown message type: " + msg.Type})
	}
}

// reply queues a frame for one connection via its send channel.
func (h *Handler) reply(connID string, frame map[string]any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("ws: marshal reply: %v", err)
		return
	}
	h.hub.SendTo(connID, payload)
}
