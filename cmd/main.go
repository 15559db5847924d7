package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/dashboard"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/hub"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/kafka"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/logger"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository/postgresql"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/server"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/tracking"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/ws"
)

const sendBufferSize = 64

func main() {
	log := logger.New()
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "9000"
	}

	database, err := db.NewDb(ctx)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer database.GetPool().Close()

	orderRepo := postgresql.NewOrderRepo(database)
	userRepo := postgresql.NewUserRepo(database)
	statsRepo := postgresql.NewStatsRepo(database)

	var producer kafka.Producer = kafka.NoopProducer{}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		writerProducer := kafka.NewWriterProducer(strings.Split(brokers, ","), log)
		defer writerProducer.Close() //nolint:errcheck
		producer = writerProducer
	} else {
		log.Warn("KAFKA_BROKERS not set, audit events will be discarded")
	}

	connectionHub := hub.New(log, sendBufferSize)
	authenticator := auth.New([]byte(jwtSecret), userRepo, 24*time.Hour)
	tracker := tracking.NewTracker(orderRepo, tracking.NewMemoryHistoryStore(), connectionHub, producer, log, tracking.Config{})
	notifier := dashboard.NewNotifier(statsRepo, connectionHub, log)
	wsHandler := ws.NewHandler(authenticator, connectionHub, orderRepo, log)

	srv := server.New(tracker, notifier, authenticator, orderRepo, userRepo, wsHandler, log)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gCtx, port)
	})

	g.Go(func() error {
		<-gCtx.Done()
		tracker.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("server gracefully stopped")
}
