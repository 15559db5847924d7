// Package hub implements the in-process pub/sub core: a room-scoped fan-out
// dispatcher plus the membership index it delivers against. Rooms are derived
// state — they exist only while at least one connection holds membership.
//
// Delivery is best-effort to currently-connected subscribers: there is no
// queuing, no retry and no cross-room ordering guarantee. Per connection,
// publish order is preserved (single buffered channel drained by one writer).
// A slow connection drops events instead of backpressuring publishers.
package hub

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/metrics"
)

const AdminRoom = "admin-dashboard"

func OrderRoom(orderID string) string {
	return "order-" + orderID
}

func UserRoom(userID string) string {
	return "user-" + userID
}

// Envelope is the wire unit delivered to a connection.
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Conn is one registered connection. It is owned by the hub from Register
// until Unregister; the transport layer only drains Events().
type Conn struct {
	ID       string
	Identity auth.Identity

	send  chan Envelope
	rooms map[string]struct{}
}

// Events returns the connection's outbound stream. The channel is closed on
// Unregister.
func (c *Conn) Events() <-chan Envelope {
	return c.send
}

type Hub struct {
	mu         sync.RWMutex
	conns      map[string]*Conn
	rooms      map[string]map[string]struct{}
	privileged map[string]struct{}
	bufSize    int
	logger     *zap.Logger
}

// New constructs a hub with the given per-connection buffer size. If bufSize
// <= 0, a default of 32 is used.
func New(logger *zap.Logger, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Hub{
		conns:      make(map[string]*Conn),
		rooms:      make(map[string]map[string]struct{}),
		privileged: make(map[string]struct{}),
		bufSize:    bufSize,
		logger:     logger,
	}
}

// Register creates a connection for an authenticated identity, joins its
// personal room and, for privileged identities, the admin room.
func (h *Hub) Register(identity auth.Identity) *Conn {
	conn := &Conn{
		ID:       uuid.NewString(),
		Identity: identity,
		send:     make(chan Envelope, h.bufSize),
		rooms:    make(map[string]struct{}),
	}

	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.joinLocked(conn, UserRoom(identity.UserID))
	if identity.Privileged {
		h.joinLocked(conn, AdminRoom)
		h.privileged[conn.ID] = struct{}{}
		metrics.PrivilegedConnections.Set(float64(len(h.privileged)))
	}
	metrics.ActiveConnections.Set(float64(len(h.conns)))
	h.mu.Unlock()

	h.logger.Info("connection registered",
		zap.String("conn_id", conn.ID),
		zap.String("user_id", identity.UserID),
		zap.Bool("privileged", identity.Privileged),
	)
	return conn
}

// Unregister removes the connection from every room it belongs to and closes
// its outbound channel. It is safe to call for unknown ids.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	for room := range conn.rooms {
		h.leaveLocked(conn, room)
	}
	delete(h.conns, connID)
	delete(h.privileged, connID)
	metrics.ActiveConnections.Set(float64(len(h.conns)))
	metrics.PrivilegedConnections.Set(float64(len(h.privileged)))
	close(conn.send)
	h.mu.Unlock()

	h.logger.Info("connection unregistered", zap.String("conn_id", connID))
}

// Join adds the connection to a room. Idempotent; unknown connections are
// ignored.
func (h *Hub) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	h.joinLocked(conn, room)
}

// Leave removes the connection from a room. Idempotent.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	h.leaveLocked(conn, room)
}

func (h *Hub) joinLocked(conn *Conn, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[conn.ID] = struct{}{}
	conn.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(conn *Conn, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(conn.rooms, room)
}

// Publish delivers the event to every current member of the room. Events to
// connections with a full buffer are dropped for that connection only.
func (h *Hub) Publish(room, event string, payload interface{}) {
	envelope := Envelope{Event: event, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.rooms[room]
	if !ok {
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(event).Inc()
	for id := range members {
		conn, ok := h.conns[id]
		if !ok {
			continue
		}
		select {
		case conn.send <- envelope:
		default:
			metrics.EventsDroppedTotal.Inc()
			h.logger.Debug("dropping event for slow connection",
				zap.String("conn_id", id),
				zap.String("event", event),
				zap.String("room", room),
			)
		}
	}
}

// Send delivers an event to a single connection, bypassing rooms. Used for
// handshake acknowledgements and request echoes.
func (h *Hub) Send(connID, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	select {
	case conn.send <- Envelope{Event: event, Payload: payload}:
	default:
		metrics.EventsDroppedTotal.Inc()
	}
}

// PrivilegedCount returns the number of currently connected privileged
// connections. Operational visibility only.
func (h *Hub) PrivilegedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.privileged)
}

// RoomSize returns the current member count of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// MemberOf reports whether the connection currently belongs to the room.
func (h *Hub) MemberOf(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	_, ok = members[connID]
	return ok
}

func (h *Hub) String() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fmt.Sprintf("hub{conns=%d rooms=%d privileged=%d}", len(h.conns), len(h.rooms), len(h.privileged))
}
