package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/turnobot/libs/config"
	"github.com/md-rashed-zaman/turnobot/libs/db"
	"github.com/md-rashed-zaman/turnobot/libs/grpcx"
	"github.com/md-rashed-zaman/turnobot/libs/httpx"
	"github.com/md-rashed-zaman/turnobot/libs/kafkax"
	otelx "github.com/md-rashed-zaman/turnobot/libs/otel"
	"github.com/md-rashed-zaman/turnobot/libs/redisx"
	"github.com/md-rashed-zaman/turnobot/libs/runtime"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/availability"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/conversation"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/inbox"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/ingest"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/outbox"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/phone"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/reminders"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/resolver"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/storage"
	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const storeHealthComponent = "conversation-store"

func main() {
	service := config.String("SERVICE_NAME", "conversation-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9090")
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

	brokers := config.String("KAFKA_BROKERS", "")
	readyChecks := []runtime.ReadyCheck{}

	var (
		repo      storage.Repository
		scheduler reminders.Scheduler
		dedup     inbox.Recorder
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		outboxRepo := outbox.NewRepository()
		repo = storage.NewPostgresRepository(pool, outboxRepo)
		scheduler = reminders.NewPostgresScheduler(pool, config.Int("REMINDER_MAX_ATTEMPTS", 5))
		dedup = inbox.NewRepository(pool)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
	} else {
		logger.Warn("DATABASE_URL not set: using in-memory repository, reminders are not delivered")
		repo = storage.NewMemoryRepository()
		scheduler = reminders.NewMemoryScheduler(nil)
		dedup = inbox.NewMemory()
	}

	ttl := config.Duration("CONVERSATION_TTL", conversation.DefaultTTL)
	store, rdb := openStore(ctx, logger, ttl)
	if rdb != nil {
		defer rdb.Close()
	}
	readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "conversation-store", Check: store.Check, Soft: true})

	normalizer := phone.NewNormalizer(config.String("PHONE_COUNTRY_CODE", "54"), config.String("PHONE_MOBILE_PREFIX", "9"))
	sender := newSender(logger)
	machine := conversation.NewMachine(conversation.Deps{
		Phone:      normalizer,
		Businesses: resolver.NewBusinessResolver(repo, normalizer),
		Customers:  resolver.NewCustomerResolver(repo, normalizer, logger),
		Engine:     availability.NewEngine(repo, scheduler, logger),
		Repo:       repo,
		Store:      store,
		Sender:     sender,
		Logger:     logger,
	})

	var dispatcher ingest.Dispatcher
	switch mode := strings.ToLower(config.String("INGEST_MODE", "inline")); mode {
	case "kafka":
		writer := kafkax.NewWriter(kafkax.SplitBrokers(brokers))
		defer writer.Close()
		dispatcher = ingest.NewKafkaDispatcher(writer, normalizer)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})

		consumer := ingest.NewConsumer(logger, dedup, ingest.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   ingest.TopicMessageReceived,
		}, ingest.HandleMessage(machine))
		go consumer.Run(ctx)
	default:
		if mode != "inline" {
			logger.Warn("unknown INGEST_MODE, using inline", "mode", mode)
		}
		dispatcher = ingest.NewInlineDispatcher(machine, normalizer, dedup, logger)
	}

	grpcServer, healthServer := grpcx.NewServer(logger)
	grpcx.SetServing(healthServer, "", true)
	store.OnStateChange(func(degraded bool) {
		grpcx.SetServing(healthServer, storeHealthComponent, !degraded)
	})

	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	var limiter ingest.Limiter
	rateLimit := config.Int("INBOUND_RATE_LIMIT", 20)
	rateWindow := config.Duration("INBOUND_RATE_WINDOW", time.Minute)
	if rdb != nil {
		limiter = ingest.NewRedisLimiter(rdb, rateLimit, rateWindow)
	} else {
		limiter = ingest.NewMemoryLimiter(rateLimit, rateWindow)
	}
	webhook := ingest.NewWebhook(dispatcher, logger).
		WithSignatureSecret(config.String("WEBHOOK_SECRET", "")).
		WithLimiter(limiter, normalizer)
	mux.Handle("/webhooks/messages", webhook)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithBodyLimit(1<<20),
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "conversation")
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
	grpcServer.GracefulStop()
	logger.Info("servers stopped")
}

// openStore picks the session backend once. Without a reachable Redis the
// service runs on the local store and reports itself degraded.
func openStore(ctx context.Context, logger *slog.Logger, ttl time.Duration) (*conversation.FailoverStore, *redis.Client) {
	fallback := conversation.NewMemoryStore(ttl, nil)

	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		logger.Warn("REDIS_ADDR not set: conversation state is process-local")
		return conversation.NewFailoverStore(nil, fallback, logger), nil
	}
	rdb, err := redisx.Open(ctx, redisx.Config{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
	})
	if err != nil {
		logger.Warn("redis unavailable: conversation state is process-local", "err", err)
		return conversation.NewFailoverStore(nil, fallback, logger), nil
	}
	return conversation.NewFailoverStore(conversation.NewRedisStore(rdb, ttl), fallback, logger), rdb
}

func newSender(logger *slog.Logger) transport.Sender {
	switch strings.ToLower(config.String("TRANSPORT_PROVIDER", "noop")) {
	case "webhook":
		return transport.NewWebhookSender(config.String("TRANSPORT_WEBHOOK_URL", ""), config.String("TRANSPORT_WEBHOOK_TOKEN", ""))
	default:
		return transport.NewNoopSender(logger)
	}
}
