package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/logger"
)

const (
	defaultBrokers = "localhost:9092"
	auditTopic     = "order-tracking-events"
	groupID        = "order-tracking-audit"
)

// auditEvent mirrors the transition payload the tracker produces.
type auditEvent struct {
	OrderID        string    `json:"orderId"`
	Status         string    `json:"status"`
	ShippingStatus string    `json:"shippingStatus"`
	Location       string    `json:"location,omitempty"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

func main() {
	log := logger.New()
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = defaultBrokers
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        strings.Split(brokers, ","),
		GroupID:        groupID,
		Topic:          auditTopic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Error("closing kafka reader", zap.Error(err))
		}
	}()

	log.Info("audit consumer started",
		zap.String("topic", auditTopic),
		zap.String("brokers", brokers),
	)

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutdown signal received, stopping consumer")
				return
			}
			log.Error("reading message", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		var event auditEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Warn("skipping malformed audit event",
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			continue
		}

		log.Info("order transition",
			zap.String("order_id", event.OrderID),
			zap.String("status", event.Status),
			zap.String("shipping_status", event.ShippingStatus),
			zap.String("location", event.Location),
			zap.String("message", event.Message),
			zap.Time("at", event.Timestamp),
			zap.Int64("offset", m.Offset),
		)
	}
}
