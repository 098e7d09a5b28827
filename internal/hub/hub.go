// Package hub fans live attendance events out to WebSocket subscribers.
// One Hub is constructed per process and shared by reference between the
// ingestion pipeline, the HTTP layer, and the subscriber loops; every
// mutation of the connection table and room index goes through its mutex.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sendBuffer bounds each connection's outbound queue. A subscriber that
// cannot drain it loses messages rather than blocking the broadcaster.
const sendBuffer = 32

// Conn is one live subscriber.
type Conn struct {
	ID          string
	Send        chan []byte
	RemoteAddr  string
	UserAgent   string
	UserID      int64
	ConnectedAt time.Time

	// guarded by the hub mutex
	lastHeartbeat time.Time
	alive         bool
	rooms         map[string]struct{}
}

// ConnectionInfo is the read-only view handed to get-connections requests.
type ConnectionInfo struct {
	ID            string    `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	UserAgent     string    `json:"user_agent,omitempty"`
	UserID        int64     `json:"user_id,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Rooms         []string  `json:"rooms,omitempty"`
}

// Envelope is the server-to-client message frame.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub owns the connection table and room index.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string]map[string]struct{}

	started          time.Time
	totalConnections int64
	sentSinceTick    atomic.Int64
	droppedSinceTick atomic.Int64

	metricsTick      time.Duration
	heartbeatTimeout time.Duration
}

// New creates a hub. Call Run to start the metrics monitor.
func New(metricsTick, heartbeatTimeout time.Duration) *Hub {
	if metricsTick <= 0 {
		metricsTick = 5 * time.Second
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 3 * metricsTick
	}
	return &Hub{
		conns:            make(map[string]*Conn),
		rooms:            make(map[string]map[string]struct{}),
		started:          time.Now(),
		metricsTick:      metricsTick,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Register adds a new subscriber and returns its connection.
func (h *Hub) Register(remoteAddr, userAgent string, userID int64) *Conn {
	c := &Conn{
		ID:          uuid.NewString(),
		Send:        make(chan []byte, sendBuffer),
		RemoteAddr:  remoteAddr,
		UserAgent:   userAgent,
		UserID:      userID,
		ConnectedAt: time.Now(),
		rooms:       make(map[string]struct{}),
	}
	c.lastHeartbeat = c.ConnectedAt
	c.alive = true

	h.mu.Lock()
	h.conns[c.ID] = c
	h.totalConnections++
	n := len(h.conns)
	h.mu.Unlock()

	activeConnections.Set(float64(n))
	return c
}

// Unregister removes a subscriber, drops it from every room, and closes its
// send channel. Safe to call more than once.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, id)
	for room := range c.rooms {
		h.dropFromRoomLocked(room, id)
	}
	c.alive = false
	close(c.Send)
	n := len(h.conns)
	h.mu.Unlock()

	activeConnections.Set(float64(n))
}

// Heartbeat refreshes a connection's liveness. Unknown ids are ignored.
func (h *Hub) Heartbeat(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		c.lastHeartbeat = time.Now()
		c.alive = true
	}
}

// Join adds a connection to a room. Joining a room twice is a no-op. The
// room is created lazily on first join.
func (h *Hub) Join(id, room string) bool {
	if room == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return false
	}
	c.rooms[room] = struct{}{}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[id] = struct{}{}
	return true
}

// Leave removes a connection from a room. Leaving a room you are not in is a
// no-op. Empty rooms are garbage-collected.
func (h *Hub) Leave(id, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		delete(c.rooms, room)
	}
	h.dropFromRoomLocked(room, id)
}

func (h *Hub) dropFromRoomLocked(room, id string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast sends a frame to every live connection and returns the delivery
// count. A slow or dead connection loses the frame; it never blocks the rest.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sendAllLocked(h.conns, payload)
}

// BroadcastToRoom sends a frame to the members of one room, a no-op when the
// room does not exist.
func (h *Hub) BroadcastToRoom(room string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[room]
	if !ok {
		return 0
	}
	targets := make(map[string]*Conn, len(members))
	for id := range members {
		if c, ok := h.conns[id]; ok {
			targets[id] = c
		}
	}
	return h.sendAllLocked(targets, payload)
}

func (h *Hub) sendAllLocked(conns map[string]*Conn, payload []byte) int {
	delivered := 0
	for _, c := range conns {
		if !c.alive {
			continue
		}
		select {
		case c.Send <- payload:
			delivered++
			h.sentSinceTick.Add(1)
		default:
			h.droppedSinceTick.Add(1)
			messagesDropped.Inc()
			log.Printf("hub: dropping frame for slow connection %s", c.ID)
		}
	}
	return delivered
}

// SendTo queues a frame for a single connection; unknown ids and full
// queues drop the frame.
func (h *Hub) SendTo(id string, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	if !ok || !c.alive {
		return false
	}
	select {
	case c.Send <- payload:
		h.sentSinceTick.Add(1)
		return true
	default:
		h.droppedSinceTick.Add(1)
		messagesDropped.Inc()
		return false
	}
}

// Event marshals an envelope and broadcasts it to a room. This is the fan-out
// entry point the ingestion pipeline uses after a successful commit.
func (h *Hub) Event(room, msgType string, data any) {
	payload, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		log.Printf("hub: marshal %s event: %v", msgType, err)
		return
	}
	h.BroadcastToRoom(room, payload)
}

// Connections returns a snapshot of the connection table.
func (h *Hub) Connections() []ConnectionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ConnectionInfo, 0, len(h.conns))
	for _, c := range h.conns {
		info := ConnectionInfo{
			ID:            c.ID,
			RemoteAddr:    c.RemoteAddr,
			UserAgent:     c.UserAgent,
			UserID:        c.UserID,
			ConnectedAt:   c.ConnectedAt,
			LastHeartbeat: c.lastHeartbeat,
		}
		for room := range c.rooms {
			info.Rooms = append(info.Rooms, room)
		}
		out = append(out, info)
	}
	return out
}

// RoomSize reports a room's membership count; zero for unknown rooms.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
