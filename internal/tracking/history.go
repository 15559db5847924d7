package tracking

import (
	"sync"
	"time"
)

// Event is one immutable entry of an order's tracking history.
type Event struct {
	OrderID           string         `json:"orderId"`
	Status            OrderStatus    `json:"status"`
	ShippingStatus    ShippingStatus `json:"shippingStatus"`
	Location          string         `json:"location,omitempty"`
	Message           string         `json:"message"`
	Timestamp         time.Time      `json:"timestamp"`
	TrackingNumber    string         `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time     `json:"estimatedDelivery,omitempty"`
}

// HistoryStore holds the per-order append-only event log. The in-memory
// implementation is the only one shipped; the interface leaves room for a
// durable store without conflating the two.
type HistoryStore interface {
	// Append adds an event to the order's history.
	Append(orderID string, event Event)
	// Get returns a copy of the order's history in append order.
	Get(orderID string) []Event
	// SeedIfEmpty stores the event only when the order has no history yet.
	// Returns true when the seed was stored.
	SeedIfEmpty(orderID string, event Event) bool
}

// MemoryHistoryStore keeps histories in process memory for the process
// lifetime. Lost on restart.
type MemoryHistoryStore struct {
	mu        sync.Mutex
	histories map[string][]Event
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{histories: make(map[string][]Event)}
}

func (s *MemoryHistoryStore) Append(orderID string, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[orderID] = append(s.histories[orderID], event)
}

func (s *MemoryHistoryStore) Get(orderID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.histories[orderID]
	out := make([]Event, len(history))
	copy(out, history)
	return out
}

func (s *MemoryHistoryStore) SeedIfEmpty(orderID string, event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.histories[orderID]) > 0 {
		return false
	}
	s.histories[orderID] = append(s.histories[orderID], event)
	return true
}
