package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/azizikri/coupon-issuance/internal/audit"
	"github.com/azizikri/coupon-issuance/internal/codegen"
	"github.com/azizikri/coupon-issuance/internal/config"
	httphandler "github.com/azizikri/coupon-issuance/internal/delivery/http"
	"github.com/azizikri/coupon-issuance/internal/delivery/kafka"
	"github.com/azizikri/coupon-issuance/internal/eligibility"
	"github.com/azizikri/coupon-issuance/internal/gate"
	"github.com/azizikri/coupon-issuance/internal/issuance"
	"github.com/azizikri/coupon-issuance/internal/repository"
	"github.com/azizikri/coupon-issuance/internal/telemetry"
	"github.com/azizikri/coupon-issuance/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.OTel.Endpoint,
		ServiceName:    cfg.OTel.ServiceName,
		Insecure:       cfg.OTel.Insecure,
		SampleRatio:    cfg.OTel.SampleRatio,
		MetricInterval: cfg.OTel.MetricInterval,
	})
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}

	store, pool, err := initStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	if pool != nil {
		defer pool.Close()
	}

	var clients []*kgo.Client
	closeClients := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	var rdb *redis.Client
	needRedis := cfg.Audit.RedisEnabled ||
		(cfg.Eligibility.RegistryEnabled && cfg.StoreDriver != config.StoreDriverMemory)
	if needRedis {
		rdb, err = newRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	sinks := []audit.Sink{}
	if cfg.Audit.StoreEnabled {
		sinks = append(sinks, audit.NewStoreSink(store))
	}
	if cfg.Audit.RedisEnabled {
		sinks = append(sinks, audit.NewRedisSink(rdb, cfg.Audit.RedisPrefix))
	}
	if cfg.Audit.KafkaEnabled {
		producer, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.ClientID(cfg.Kafka.ClientID+"-audit"),
		)
		if err != nil {
			logger.Fatal("audit kafka client", zap.Error(err))
		}
		clients = append(clients, producer)
		sinks = append(sinks, audit.NewKafkaSink(producer, cfg.Audit.KafkaTopic, logger))
	}
	dispatcher := audit.NewDispatcher(cfg.Audit.BufferSize, logger, sinks...)

	codes, err := codegen.New(cfg.Issuance.NodeID)
	if err != nil {
		logger.Fatal("code generator", zap.Error(err))
	}

	var (
		coordinatorOpts []issuance.Option
		handlerOpts     []httphandler.Option
	)
	if cfg.Eligibility.RegistryEnabled {
		registry := newRequesterRegistry(cfg, rdb)
		coordinatorOpts = append(coordinatorOpts, issuance.WithEligibility(registry))
		handlerOpts = append(handlerOpts, httphandler.WithRequesterRegistry(registry))
		logger.Info("requester registry enabled", zap.String("key", cfg.Eligibility.RegistryKey))
	}

	coordinator := issuance.New(store, codes, dispatcher, issuance.Config{
		MaxAttempts:  uint(cfg.Issuance.MaxAttempts),
		BackoffBase:  cfg.Issuance.BackoffBase,
		BackoffMax:   cfg.Issuance.BackoffMax,
		ClaimTimeout: cfg.Issuance.ClaimTimeout,
	}, logger, coordinatorOpts...)

	admission := gate.New(coordinator, gate.Config{
		MaxConcurrent:  cfg.Gate.MaxConcurrent,
		MaxQueue:       cfg.Gate.MaxQueue,
		RPS:            cfg.Gate.RPS,
		Burst:          cfg.Gate.Burst,
		AcquireTimeout: cfg.Gate.AcquireTimeout,
		IdleTTL:        cfg.Gate.IdleTTL,
	}, logger, gate.WithAuditor(dispatcher))
	admission.StartJanitor(ctx)

	campaigns := usecase.NewCampaignService(store, logger)

	var issuer usecase.ClaimIssuer = admission
	if cfg.Kafka.EventDriven {
		gateway, kafkaClients, err := startEventDriven(ctx, cfg, admission, logger)
		if err != nil {
			closeClients()
			logger.Fatal("kafka", zap.Error(err))
		}
		clients = append(clients, kafkaClients...)
		issuer = gateway
	}

	handler := httphandler.NewHandler(issuer, campaigns, logger, handlerOpts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httphandler.RequestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler.Routes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("server listening",
			zap.String("port", cfg.AppPort),
			zap.String("store", cfg.StoreDriver),
			zap.Bool("event_driven", cfg.Kafka.EventDriven),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	wg.Wait()

	// audit entries still buffered are flushed before the Kafka producer goes away
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("audit flush incomplete", zap.Error(err), zap.Int64("dropped", dispatcher.Dropped()))
	}
	closeClients()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}

// initStore returns the configured store. The pool is nil for the memory
// driver.
func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, *pgxpool.Pool, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; state is lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if err := repository.RunMigrations(ctx, pool, cfg.MigrationsDir, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	var store repository.Store = repository.New(pool, repository.WithLockTimeout(cfg.Issuance.LockTimeout))
	if cfg.Breaker.Enabled {
		store = repository.NewBreakerStore(store, repository.BreakerSettings{
			Name:             "postgres",
			MaxRequests:      cfg.Breaker.HalfOpenRequests,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		}, logger)
	}
	return store, pool, nil
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("redis client connected", zap.String("addr", cfg.Addr))
	return rdb, nil
}

type requesterRegistry interface {
	issuance.Eligibility
	httphandler.RequesterRegistry
}

// newRequesterRegistry keeps the registry in process alongside the memory
// store and in Redis otherwise.
func newRequesterRegistry(cfg *config.Config, rdb *redis.Client) requesterRegistry {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return eligibility.NewMemoryRegistry()
	}
	return eligibility.NewRedisRegistry(rdb, cfg.Eligibility.RegistryKey)
}

// startEventDriven wires the claim consumer, the retry mover and the reply
// poller, and returns the gateway HTTP claims go through.
func startEventDriven(ctx context.Context, cfg *config.Config, local usecase.ClaimIssuer, logger *zap.Logger) (*kafka.Gateway, []*kgo.Client, error) {
	var clients []*kgo.Client
	fail := func(err error) (*kafka.Gateway, []*kgo.Client, error) {
		for _, c := range clients {
			c.Close()
		}
		return nil, nil, err
	}

	consumerClient, err := newConsumerClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID, cfg.Kafka.GroupID, kafka.TopicClaimRequest)
	if err != nil {
		return fail(fmt.Errorf("create kafka client: %w", err))
	}
	clients = append(clients, consumerClient)

	var extra []string
	if cfg.Audit.KafkaEnabled {
		extra = append(extra, cfg.Audit.KafkaTopic)
	}
	if err := kafka.EnsureTopics(ctx, consumerClient, cfg.Kafka, logger, extra...); err != nil {
		logger.Warn("failed to ensure topics", zap.Error(err))
	}

	consumer := kafka.NewConsumer(cfg.Kafka, consumerClient, local, logger)
	go consumer.Start(ctx)

	retryClient, err := newConsumerClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID+"-retry", cfg.Kafka.RetryGroupID, kafka.TopicClaimRetry)
	if err != nil {
		return fail(fmt.Errorf("create retry kafka client: %w", err))
	}
	clients = append(clients, retryClient)
	go kafka.NewConsumer(cfg.Kafka, retryClient, local, logger).StartRetry(ctx)

	replyClient, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Kafka.Brokers...),
		kgo.ClientID(cfg.Kafka.ClientID+"-reply"),
		kgo.ConsumeTopics(kafka.ReplyTopic(cfg.Kafka.InstanceID)),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return fail(fmt.Errorf("create reply kafka client: %w", err))
	}
	clients = append(clients, replyClient)

	gateway := kafka.NewGateway(cfg.Kafka, consumerClient, logger)
	gateway.StartReplyPoller(ctx, replyClient)

	<-consumer.Ready()
	return gateway, clients, nil
}

func newConsumerClient(brokers []string, clientID, groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
}
