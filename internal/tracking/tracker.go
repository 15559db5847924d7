package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/hub"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository"
)

const (
	EventTrackingUpdate  = "order:tracking-update"
	EventStatusChanged   = "order:status-changed"
	EventTrackingAborted = "order:tracking-aborted"
)

type OrderStore interface {
	GetByID(ctx context.Context, id string) (*repository.Order, error)
	UpdateStatus(ctx context.Context, id, status, shippingStatus string) error
}

type Publisher interface {
	Publish(room, event string, payload interface{})
}

// AuditProducer receives a best-effort copy of every recorded transition.
type AuditProducer interface {
	SendMessage(ctx context.Context, topic string, key, value []byte) error
}

// TrackingUpdate is the full payload fanned out to the order's room.
type TrackingUpdate struct {
	Event
	History []Event `json:"history"`
}

// StatusSummary is the abbreviated payload sent to the owner's personal room.
type StatusSummary struct {
	OrderID        string         `json:"orderId"`
	Status         OrderStatus    `json:"status"`
	ShippingStatus ShippingStatus `json:"shippingStatus"`
	Message        string         `json:"message"`
	Timestamp      time.Time      `json:"timestamp"`
}

// TransitionOpts carries the optional fields of a transition.
type TransitionOpts struct {
	Location          string
	Message           string
	TrackingNumber    string
	EstimatedDelivery *time.Time
}

type Config struct {
	AuditTopic string
	// StepDelay overrides every script step's delay when positive. Tests use
	// millisecond delays; production keeps the script's own pacing.
	StepDelay time.Duration
}

type progressionRun struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Tracker owns the tracking history index and the scripted progression runs.
// Handlers never touch either directly.
type Tracker struct {
	orders   OrderStore
	history  HistoryStore
	pub      Publisher
	producer AuditProducer
	logger   *zap.Logger
	cfg      Config

	mu   sync.Mutex
	runs map[string]*progressionRun
}

func NewTracker(orders OrderStore, history HistoryStore, pub Publisher, producer AuditProducer, logger *zap.Logger, cfg Config) *Tracker {
	if cfg.AuditTopic == "" {
		cfg.AuditTopic = "order-tracking-events"
	}
	return &Tracker{
		orders:   orders,
		history:  history,
		pub:      pub,
		producer: producer,
		logger:   logger,
		cfg:      cfg,
		runs:     make(map[string]*progressionRun),
	}
}

// RecordTransition persists the new status fields, appends a history event
// and notifies the order and owner rooms. If the repository write fails the
// error propagates and neither history nor subscribers observe anything.
func (t *Tracker) RecordTransition(ctx context.Context, orderID string, status OrderStatus, shipping ShippingStatus, opts TransitionOpts) (*Event, error) {
	order, err := t.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("lookup order %s: %w", orderID, err)
	}

	if err := t.orders.UpdateStatus(ctx, orderID, string(status), string(shipping)); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("record_transition").Inc()
		return nil, fmt.Errorf("update order %s status: %w", orderID, err)
	}

	message := opts.Message
	if message == "" {
		message = DefaultMessage(status, shipping)
	}

	event := Event{
		OrderID:           orderID,
		Status:            status,
		ShippingStatus:    shipping,
		Location:          opts.Location,
		Message:           message,
		Timestamp:         time.Now().UTC(),
		TrackingNumber:    opts.TrackingNumber,
		EstimatedDelivery: opts.EstimatedDelivery,
	}
	// An order first touched by a transition still gets its "created" entry,
	// built from the pre-transition state. Same seed GetHistory applies.
	t.history.SeedIfEmpty(orderID, seedEvent(order))
	t.history.Append(orderID, event)
	metrics.TransitionsRecordedTotal.Inc()

	t.pub.Publish(hub.OrderRoom(orderID), EventTrackingUpdate, TrackingUpdate{
		Event:   event,
		History: t.history.Get(orderID),
	})
	t.pub.Publish(hub.UserRoom(order.UserID), EventStatusChanged, StatusSummary{
		OrderID:        orderID,
		Status:         status,
		ShippingStatus: shipping,
		Message:        message,
		Timestamp:      event.Timestamp,
	})

	t.audit(ctx, event)

	return &event, nil
}

// audit ships a copy of the transition to Kafka. Failures are logged and
// never propagate to the transition itself.
func (t *Tracker) audit(ctx context.Context, event Event) {
	if t.producer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.logger.Error("marshal audit event", zap.Error(err))
		return
	}
	if err := t.producer.SendMessage(ctx, t.cfg.AuditTopic, []byte(event.OrderID), payload); err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("audit_produce").Inc()
		t.logger.Warn("audit produce failed",
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}

// GetHistory returns the order with its tracking history. An order with no
// history yet gets a single seeded "created" entry; the seed is idempotent.
func (t *Tracker) GetHistory(ctx context.Context, orderID string) (*repository.Order, []Event, error) {
	order, err := t.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup order %s: %w", orderID, err)
	}

	t.history.SeedIfEmpty(orderID, seedEvent(order))

	return order, t.history.Get(orderID), nil
}

// seedEvent builds the synthetic "order created" entry for an order with no
// history yet.
func seedEvent(order *repository.Order) Event {
	return Event{
		OrderID:        order.ID,
		Status:         OrderStatus(order.Status),
		ShippingStatus: ShippingStatus(order.ShippingStatus),
		Message:        createdMessage,
		Timestamp:      order.CreatedAt,
	}
}

// StartProgression launches the scripted shipment simulation for the order
// in the background. A progression already running for the same order is
// cancelled and replaced. The caller is not blocked and does not observe the
// run's outcome.
func (t *Tracker) StartProgression(orderID string) {
	ctx, cancel := context.WithCancel(context.Background())
	run := &progressionRun{ctx: ctx, cancel: cancel}

	t.mu.Lock()
	if prev, ok := t.runs[orderID]; ok {
		prev.cancel()
	}
	t.runs[orderID] = run
	t.mu.Unlock()

	metrics.ProgressionsStartedTotal.Inc()
	go t.runProgression(run, orderID)
}

// CancelProgression stops an in-flight run. Returns false when none is
// running for the order.
func (t *Tracker) CancelProgression(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[orderID]
	if !ok {
		return false
	}
	run.cancel()
	delete(t.runs, orderID)
	return true
}

// Shutdown cancels every in-flight progression. Called on process exit.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for orderID, run := range t.runs {
		run.cancel()
		delete(t.runs, orderID)
	}
}

// ProgressionRunning reports whether a run is currently registered for the
// order.
func (t *Tracker) ProgressionRunning(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.runs[orderID]
	return ok
}

func (t *Tracker) finishRun(run *progressionRun, orderID string) {
	run.cancel()
	t.mu.Lock()
	if current, ok := t.runs[orderID]; ok && current == run {
		delete(t.runs, orderID)
	}
	t.mu.Unlock()
}

func (t *Tracker) runProgression(run *progressionRun, orderID string) {
	defer t.finishRun(run, orderID)
	ctx := run.ctx

	order, err := t.orders.GetByID(ctx, orderID)
	if err != nil {
		t.abortProgression(orderID, err)
		return
	}

	status := OrderStatus(order.Status)
	if status.Terminal() {
		t.logger.Info("progression not started for terminal order",
			zap.String("order_id", orderID),
			zap.String("status", order.Status),
		)
		return
	}

	// Resume after the order's current position; an off-script state restarts
	// from the first real transition.
	start := scriptPosition(status, ShippingStatus(order.ShippingStatus)) + 1
	if start < 1 {
		start = 1
	}
	trackingNumber := trackingNumberFor(orderID)

	for _, step := range progressionScript[start:] {
		delay := step.Delay
		if t.cfg.StepDelay > 0 {
			delay = t.cfg.StepDelay
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("progression cancelled", zap.String("order_id", orderID))
			return
		case <-timer.C:
		}

		opts := TransitionOpts{
			Location:       step.Location,
			TrackingNumber: trackingNumber,
		}
		if step.Shipping == ShipShipped {
			eta := time.Now().UTC().Add(72 * time.Hour)
			opts.EstimatedDelivery = &eta
		}

		if _, err := t.RecordTransition(ctx, orderID, step.Status, step.Shipping, opts); err != nil {
			if ctx.Err() != nil {
				t.logger.Info("progression cancelled", zap.String("order_id", orderID))
				return
			}
			t.abortProgression(orderID, err)
			return
		}
	}

	t.logger.Info("progression completed", zap.String("order_id", orderID))
}

// abortProgression surfaces a terminal aborted event instead of terminating
// silently.
func (t *Tracker) abortProgression(orderID string, cause error) {
	metrics.ProgressionsAbortedTotal.Inc()
	reason := "order unavailable"
	if !errors.Is(cause, repository.ErrObjectNotFound) {
		reason = "transition failed"
	}
	t.logger.Warn("progression aborted",
		zap.String("order_id", orderID),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	t.pub.Publish(hub.OrderRoom(orderID), EventTrackingAborted, map[string]string{
		"orderId": orderID,
		"reason":  reason,
	})
}

// trackingNumberFor derives a synthetic, stable carrier tracking number from
// the order id.
func trackingNumberFor(orderID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return fmt.Sprintf("VN%09d", h.Sum32()%1_000_000_000)
}
