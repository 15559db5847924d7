package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/hub"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository"
)

type fakeOrderStore struct {
	mu        sync.Mutex
	orders    map[string]*repository.Order
	updateErr error
}

func newFakeOrderStore(orders ...*repository.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[string]*repository.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) GetByID(_ context.Context, id string) (*repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *fakeOrderStore) UpdateStatus(_ context.Context, id, status, shippingStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	order, ok := s.orders[id]
	if !ok {
		return repository.ErrObjectNotFound
	}
	order.Status = status
	order.ShippingStatus = shippingStatus
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeOrderStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
}

type published struct {
	room    string
	event   string
	payload interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(room, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{room: room, event: event, payload: payload})
}

func (p *fakePublisher) byEvent(event string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func pendingOrder() *repository.Order {
	return &repository.Order{
		ID:             "order-42",
		UserID:         "u1",
		Status:         string(StatusPending),
		ShippingStatus: string(ShipNotShipped),
		Total:          250000,
		CreatedAt:      time.Now().UTC().Add(-time.Hour),
	}
}

func newTestTracker(store *fakeOrderStore, pub *fakePublisher, cfg Config) *Tracker {
	return NewTracker(store, NewMemoryHistoryStore(), pub, nil, zap.NewNop(), cfg)
}

func TestRecordTransition_Confirmed(t *testing.T) {
	store := newFakeOrderStore(pendingOrder())
	pub := &fakePublisher{}
	tracker := newTestTracker(store, pub, Config{})

	event, err := tracker.RecordTransition(context.Background(), "order-42", StatusConfirmed, ShipNotShipped, TransitionOpts{})
	require.NoError(t, err)

	assert.Equal(t, "Đơn hàng đã được xác nhận", event.Message)

	order, _ := store.GetByID(context.Background(), "order-42")
	assert.Equal(t, string(StatusConfirmed), order.Status)

	updates := pub.byEvent(EventTrackingUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, hub.OrderRoom("order-42"), updates[0].room)
	update := updates[0].payload.(TrackingUpdate)
	require.Len(t, update.History, 2)
	assert.Equal(t, "Đơn hàng đã được tạo", update.History[0].Message)

	summaries := pub.byEvent(EventStatusChanged)
	require.Len(t, summaries, 1)
	assert.Equal(t, hub.UserRoom("u1"), summaries[0].room)
	summary := summaries[0].payload.(StatusSummary)
	assert.Equal(t, StatusConfirmed, summary.Status)
}

func TestRecordTransition_RepositoryFailureIsAtomic(t *testing.T) {
	store := newFakeOrderStore(pendingOrder())
	store.updateErr = errors.New("connection reset")
	pub := &fakePublisher{}
	tracker := newTestTracker(store, pub, Config{})

	_, err := tracker.RecordTransition(context.Background(), "order-42", StatusConfirmed, ShipNotShipped, TransitionOpts{})
	require.Error(t, err)

	// No history entry and no publish on a failed persist.
	store.updateErr = nil
	_, history, herr := tracker.GetHistory(context.Background(), "order-42")
	require.NoError(t, herr)
	assert.Len(t, history, 1) // only the lazily seeded "created" entry

	assert.Empty(t, pub.byEvent(EventTrackingUpdate))
	assert.Empty(t, pub.byEvent(EventStatusChanged))
}

func TestRecordTransition_UnknownOrder(t *testing.T) {
	tracker := newTestTracker(newFakeOrderStore(), &fakePublisher{}, Config{})

	_, err := tracker.RecordTransition(context.Background(), "ghost", StatusConfirmed, ShipNotShipped, TransitionOpts{})
	assert.ErrorIs(t, err, repository.ErrObjectNotFound)
}

func TestGetHistory_IdempotentSeed(t *testing.T) {
	store := newFakeOrderStore(pendingOrder())
	tracker := newTestTracker(store, &fakePublisher{}, Config{})

	_, first, err := tracker.GetHistory(context.Background(), "order-42")
	require.NoError(t, err)
	_, second, err := tracker.GetHistory(context.Background(), "order-42")
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, "Đơn hàng đã được tạo", first[0].Message)
}

func TestGetHistory_UnknownOrder(t *testing.T) {
	tracker := newTestTracker(newFakeOrderStore(), &fakePublisher{}, Config{})

	_, _, err := tracker.GetHistory(context.Background(), "ghost")
	assert.ErrorIs(t, err, repository.ErrObjectNotFound)
}

func TestRecordTransition_SeedsHistoryWithoutPriorRead(t *testing.T) {
	store := newFakeOrderStore(pendingOrder())
	tracker := newTestTracker(store, &fakePublisher{}, Config{})

	// First touch is a transition, not a read. The synthetic "created" entry
	// must still precede it.
	_, err := tracker.RecordTransition(context.Background(), "order-42", StatusConfirmed, ShipNotShipped, TransitionOpts{})
	require.NoError(t, err)

	_, history, err := tracker.GetHistory(context.Background(), "order-42")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Đơn hàng đã được tạo", history[0].Message)
	assert.Equal(t, StatusPending, history[0].Status)
	assert.Equal(t, StatusConfirmed, history[1].Status)
	assert.False(t, history[1].Timestamp.Before(history[0].Timestamp))
}

func TestHistoryOrdering(t *testing.T) {
	store := newFakeOrderStore(pendingOrder())
	tracker := newTestTracker(store, &fakePublisher{}, Config{})

	steps := []struct {
		status   OrderStatus
		shipping ShippingStatus
	}{
		{StatusConfirmed, ShipNotShipped},
		{StatusProcessing, ShipPreparing},
		{StatusShipped, ShipShipped},
	}
	for _, s := range steps {
		_, err := tracker.RecordTransition(context.Background(), "order-42", s.status, s.shipping, TransitionOpts{})
		require.NoError(t, err)
	}

	_, history, err := tracker.GetHistory(context.Background(), "order-42")
	require.NoError(t, err)
	require.Len(t, history, len(steps)+1)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

func TestProgression_RunsToCompletion(t *testing.T) {
	store := newFakeOrderStore(pendingOrder())
	pub := &fakePublisher{}
	tracker := newTestTracker(store, pub, Config{StepDelay: time.Millisecond})

	tracker.StartProgression("order-42")

	require.Eventually(t, func() bool {
		return !tracker.ProgressionRunning("order-42")
	}, 2*time.Second, 5*time.Millisecond)

	order, err := store.GetByID(context.Background(), "order-42")
	require.NoError(t, err)
	assert.Equal(t, string(StatusDelivered), order.Status)
	assert.Equal(t, string(ShipDelivered), order.ShippingStatus)

	updates := pub.byEvent(EventTrackingUpdate)
	require.Len(t, updates, 6)

	// Every step carries the same synthetic tracking number.
	first := updates[0].payload.(TrackingUpdate)
	last := updates[len(updates)-1].payload.(TrackingUpdate)
	assert.NotEmpty(t, first.TrackingNumber)
	assert.Equal(t, first.TrackingNumber, last.TrackingNumber)

	// ETA appears when the parcel is handed to the carrier.
	for _, u := range updates {
		update := u.payload.(TrackingUpdate)
		if update.ShippingStatus == ShipShipped {
			assert.NotNil(t, update.EstimatedDelivery)
		}
	}

	assert.Empty(t, pub.byEvent(EventTrackingAborted))
}

func TestProgression_AbortsWhenOrderVanishes(t *testing.T) {
	tracker := newTestTracker(newFakeOrderStore(), &fakePublisher{}, Config{StepDelay: time.Millisecond})
	pub := tracker.pub.(*fakePublisher)

	tracker.StartProgression("ghost")

	require.Eventually(t, func() bool {
		return len(pub.byEvent(EventTrackingAborted)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, pub.byEvent(EventTrackingUpdate))
}

func TestProgression_AbortsMidRun(t *testing.T) {
	store := newFakeOrderStore(pendingOrder())
	pub := &fakePublisher{}
	tracker := newTestTracker(store, pub, Config{StepDelay: 10 * time.Millisecond})

	tracker.StartProgression("order-42")

	require.Eventually(t, func() bool {
		return len(pub.byEvent(EventTrackingUpdate)) >= 2
	}, 2*time.Second, time.Millisecond)
	store.remove("order-42")

	require.Eventually(t, func() bool {
		return len(pub.byEvent(EventTrackingAborted)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return !tracker.ProgressionRunning("order-42")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProgression_Cancel(t *testing.T) {
	store := newFakeOrderStore(pendingOrder())
	pub := &fakePublisher{}
	tracker := newTestTracker(store, pub, Config{StepDelay: time.Hour})

	tracker.StartProgression("order-42")
	assert.True(t, tracker.ProgressionRunning("order-42"))

	assert.True(t, tracker.CancelProgression("order-42"))
	assert.False(t, tracker.CancelProgression("order-42"))

	require.Eventually(t, func() bool {
		return !tracker.ProgressionRunning("order-42")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, pub.byEvent(EventTrackingUpdate))
}

func TestProgression_RestartReplacesRun(t *testing.T) {
	store := newFakeOrderStore(pendingOrder())
	pub := &fakePublisher{}
	tracker := newTestTracker(store, pub, Config{StepDelay: time.Hour})

	tracker.StartProgression("order-42")
	tracker.StartProgression("order-42")

	assert.True(t, tracker.ProgressionRunning("order-42"))
	assert.True(t, tracker.CancelProgression("order-42"))
	assert.False(t, tracker.ProgressionRunning("order-42"))
}

func TestProgression_TerminalOrderDoesNothing(t *testing.T) {
	delivered := pendingOrder()
	delivered.Status = string(StatusDelivered)
	delivered.ShippingStatus = string(ShipDelivered)
	store := newFakeOrderStore(delivered)
	pub := &fakePublisher{}
	tracker := newTestTracker(store, pub, Config{StepDelay: time.Millisecond})

	tracker.StartProgression("order-42")

	require.Eventually(t, func() bool {
		return !tracker.ProgressionRunning("order-42")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, pub.byEvent(EventTrackingUpdate))
	assert.Empty(t, pub.byEvent(EventTrackingAborted))
}
