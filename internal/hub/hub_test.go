package hub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/hub"
)

func drain(c *hub.Conn) []hub.Envelope {
	var out []hub.Envelope
	for {
		select {
		case env, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestRegister_AutoJoinsRooms(t *testing.T) {
	h := hub.New(zap.NewNop(), 8)

	user := h.Register(auth.Identity{UserID: "u1", Role: auth.RoleCustomer})
	admin := h.Register(auth.Identity{UserID: "boss", Role: auth.RoleAdmin, Privileged: true})

	assert.True(t, h.MemberOf(user.ID, hub.UserRoom("u1")))
	assert.False(t, h.MemberOf(user.ID, hub.AdminRoom))

	assert.True(t, h.MemberOf(admin.ID, hub.UserRoom("boss")))
	assert.True(t, h.MemberOf(admin.ID, hub.AdminRoom))
	assert.Equal(t, 1, h.PrivilegedCount())
}

func TestPublish_RoomScoped(t *testing.T) {
	h := hub.New(zap.NewNop(), 8)

	subscriber := h.Register(auth.Identity{UserID: "u1"})
	bystander := h.Register(auth.Identity{UserID: "u2"})

	h.Join(subscriber.ID, hub.OrderRoom("order-42"))
	h.Publish(hub.OrderRoom("order-42"), "order:tracking-update", map[string]string{"orderId": "order-42"})

	got := drain(subscriber)
	require.Len(t, got, 1)
	assert.Equal(t, "order:tracking-update", got[0].Event)

	assert.Empty(t, drain(bystander))
}

func TestPublish_FIFOPerConnection(t *testing.T) {
	h := hub.New(zap.NewNop(), 8)

	conn := h.Register(auth.Identity{UserID: "u1"})
	room := hub.OrderRoom("order-42")
	h.Join(conn.ID, room)

	for i := 0; i < 5; i++ {
		h.Publish(room, "order:tracking-update", i)
	}

	got := drain(conn)
	require.Len(t, got, 5)
	for i, env := range got {
		assert.Equal(t, i, env.Payload)
	}
}

func TestPublish_DropsForSlowConnectionOnly(t *testing.T) {
	h := hub.New(zap.NewNop(), 1)

	slow := h.Register(auth.Identity{UserID: "slow"})
	fast := h.Register(auth.Identity{UserID: "fast"})
	room := hub.OrderRoom("order-42")
	h.Join(slow.ID, room)
	h.Join(fast.ID, room)

	h.Publish(room, "order:tracking-update", 1)
	h.Publish(room, "order:tracking-update", 2) // slow buffer already full

	// Both buffers held one event; the second publish was dropped without
	// blocking or failing the caller.
	assert.Len(t, drain(slow), 1)
	assert.Len(t, drain(fast), 1)

	// After draining, delivery resumes.
	h.Publish(room, "order:tracking-update", 3)
	got := drain(fast)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Payload)
}

func TestUnregister_RemovesAllMemberships(t *testing.T) {
	h := hub.New(zap.NewNop(), 8)

	admin := h.Register(auth.Identity{UserID: "boss", Privileged: true})
	h.Join(admin.ID, hub.OrderRoom("order-42"))

	h.Unregister(admin.ID)

	assert.Equal(t, 0, h.PrivilegedCount())
	assert.Equal(t, 0, h.RoomSize(hub.OrderRoom("order-42")))
	assert.Equal(t, 0, h.RoomSize(hub.AdminRoom))

	// Publishing to the rooms the connection left must not panic.
	assert.NotPanics(t, func() {
		h.Publish(hub.OrderRoom("order-42"), "order:tracking-update", nil)
		h.Publish(hub.AdminRoom, "dashboard:update", nil)
	})

	// Channel is closed; no further events can be observed.
	_, open := <-admin.Events()
	assert.False(t, open)

	// Unregister is safe to repeat.
	assert.NotPanics(t, func() { h.Unregister(admin.ID) })
}

func TestJoinLeave_Idempotent(t *testing.T) {
	h := hub.New(zap.NewNop(), 8)

	conn := h.Register(auth.Identity{UserID: "u1"})
	room := hub.OrderRoom("order-42")

	h.Join(conn.ID, room)
	h.Join(conn.ID, room)
	assert.Equal(t, 1, h.RoomSize(room))

	h.Publish(room, "order:tracking-update", nil)
	assert.Len(t, drain(conn), 1)

	h.Leave(conn.ID, room)
	h.Leave(conn.ID, room)
	assert.Equal(t, 0, h.RoomSize(room))
}
