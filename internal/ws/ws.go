// Package ws is the websocket transport in front of the hub. It
// authenticates the handshake, registers the connection, and runs one read
// and one write pump per connection. A failing connection only tears down
// itself.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/dashboard"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/hub"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

type OrderReader interface {
	GetByID(ctx context.Context, id string) (*repository.Order, error)
}

// clientMessage is the inbound frame format.
type clientMessage struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
	Days   int    `json:"days,omitempty"`
}

type Handler struct {
	authenticator Authenticator
	hub           *hub.Hub
	orders        OrderReader
	logger        *zap.Logger
	upgrader      websocket.Upgrader
}

func NewHandler(authenticator Authenticator, h *hub.Hub, orders OrderReader, logger *zap.Logger) *Handler {
	return &Handler{
		authenticator: authenticator,
		hub:           h,
		orders:        orders,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates the bearer token carried as connection metadata
// (token query parameter), upgrades, and registers the connection. A failed
// handshake leaves no state behind.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticator.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h.logger.Error("handshake auth failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := h.hub.Register(*identity)
	if identity.Privileged {
		h.hub.Send(conn.ID, dashboard.EventConnected, map[string]string{"connId": conn.ID})
	}

	// Connection-scoped context: once the read pump exits, in-flight lookups
	// on behalf of this connection are cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.writePump(socket, conn)
	h.readPump(ctx, socket, conn)
}

// writePump drains the connection's event stream onto the socket. A write
// failure closes the socket, which in turn ends the read pump.
func (h *Handler) writePump(socket *websocket.Conn, conn *hub.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = socket.Close()
	}()

	for {
		select {
		case envelope, ok := <-conn.Events():
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := socket.WriteJSON(envelope); err != nil {
				h.logger.Warn("websocket write failed",
					zap.String("conn_id", conn.ID),
					zap.String("event", envelope.Event),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) readPump(ctx context.Context, socket *websocket.Conn, conn *hub.Conn) {
	defer func() {
		h.hub.Unregister(conn.ID)
		_ = socket.Close()
	}()

	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("ignoring malformed frame", zap.String("conn_id", conn.ID))
			continue
		}
		h.handleMessage(ctx, conn, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *hub.Conn, msg clientMessage) {
	switch {
	case msg.Action == "join":
		h.handleJoin(ctx, conn, msg.Room)
	case msg.Action == "leave":
		h.hub.Leave(conn.ID, msg.Room)
		h.hub.Send(conn.ID, "left", map[string]string{"room": msg.Room})
	case strings.HasPrefix(msg.Action, "request-"):
		// Actual payload delivery happens via the corresponding HTTP call's
		// side-effect publish; these frames only acknowledge the request.
		if !conn.Identity.Privileged {
			h.logger.Debug("ignoring privileged request from ordinary connection",
				zap.String("conn_id", conn.ID),
				zap.String("action", msg.Action),
			)
			return
		}
		kind := strings.TrimPrefix(msg.Action, "request-")
		h.hub.Send(conn.ID, kind+"-requested", map[string]interface{}{
			"kind": kind,
			"days": msg.Days,
		})
	default:
		h.logger.Debug("ignoring unknown action",
			zap.String("conn_id", conn.ID),
			zap.String("action", msg.Action),
		)
	}
}

// handleJoin subscribes a connection to an additional order room. Ordinary
// connections may only join rooms for orders they own.
func (h *Handler) handleJoin(ctx context.Context, conn *hub.Conn, room string) {
	orderID, ok := strings.CutPrefix(room, "order-")
	if !ok || orderID == "" {
		h.hub.Send(conn.ID, "error", map[string]string{"message": "unknown room"})
		return
	}

	if !conn.Identity.Privileged {
		order, err := h.orders.GetByID(ctx, orderID)
		if err != nil || order.UserID != conn.Identity.UserID {
			h.hub.Send(conn.ID, "error", map[string]string{"message": "room not allowed"})
			return
		}
	}

	h.hub.Join(conn.ID, room)
	h.hub.Send(conn.ID, "joined", map[string]string{"room": room})
}
