package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/turnobot/libs/config"
	"github.com/md-rashed-zaman/turnobot/libs/db"
	"github.com/md-rashed-zaman/turnobot/libs/httpx"
	otelx "github.com/md-rashed-zaman/turnobot/libs/otel"
	"github.com/md-rashed-zaman/turnobot/libs/runtime"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/outbox"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/reminders"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/storage"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/transport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "reminder-worker")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository()
	repo := storage.NewPostgresRepository(pool, outboxRepo)
	scheduler := reminders.NewPostgresScheduler(pool, config.Int("REMINDER_MAX_ATTEMPTS", 5))

	var sender transport.Sender
	if strings.EqualFold(config.String("TRANSPORT_PROVIDER", "noop"), "webhook") {
		sender = transport.NewWebhookSender(config.String("TRANSPORT_WEBHOOK_URL", ""), config.String("TRANSPORT_WEBHOOK_TOKEN", ""))
	} else {
		sender = transport.NewNoopSender(logger)
	}

	worker := reminders.NewWorker(pool, scheduler, repo, sender, outboxRepo, logger, reminders.WorkerConfig{
		Interval:  config.Duration("REMINDER_POLL_INTERVAL", 5*time.Second),
		BatchSize: config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:   time.Duration(config.Int("SCHEDULER_BACKOFF_SECONDS", 60)) * time.Second,
	})
	go worker.Run(ctx)

	scanner := reminders.NewScanner(repo, scheduler, logger, config.Duration("REMINDER_SCAN_INTERVAL", 5*time.Minute))
	go scanner.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "reminder-worker")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "provider", sender.ProviderID())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
