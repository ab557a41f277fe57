package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/lock"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/txn"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	for _, w := range cfg.Warnings {
		logger.Warn("Config value ignored", zap.String("reason", w))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	logger.Info("Starting fulfillment service",
		zap.String("port", cfg.Server.Port),
		zap.String("lock_backend", cfg.Lock.Backend))

	tp, err := util.InitTracer("fulfillment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.URL, cfg.Database.PoolMaxSize)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	pool := store.NewPool(store.SessionDialer(db, store.DefaultSessionSetup...), store.PoolConfig{
		MaxSize:        cfg.Database.PoolMaxSize,
		IdleTimeout:    cfg.Database.PoolIdleTimeout,
		AcquireTimeout: cfg.Database.PoolAcquireTimeout,
		PollInterval:   cfg.Database.PoolPollInterval,
		SweepInterval:  cfg.Database.PoolSweepInterval,
	})
	defer pool.Close()

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case lock.BackendRedis:
		locker = lock.NewRedisLocker(redisClient, cfg.Lock.LeaseTTL, cfg.Lock.RetryInterval)
	case lock.BackendPostgres:
		locker = lock.NewAdvisoryLocker(cfg.Lock.RetryInterval)
	default:
		logger.Fatal("Unknown lock backend", zap.String("backend", cfg.Lock.Backend))
	}

	coord := txn.NewCoordinator(pool, locker, txn.Config{
		LockWait:       cfg.Lock.AcquireTimeout,
		RowLockTimeout: cfg.Lock.RowWaitTimeout,
		ReleaseTimeout: 5 * time.Second,
	})
	reader := store.New(db)

	alertProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()
	commandProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands)
	defer commandProducer.Close()
	logger.Info("Kafka producers initialized")

	alerts := broker.NewAlertPublisher(alertProducer)
	commands := broker.NewCommandPublisher(commandProducer)

	// notifications are best effort; the service runs without them
	var notifier service.Notifier
	broadcaster, err := broker.DialBroadcaster(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		logger.Warn("RabbitMQ unavailable, notifications disabled", zap.Error(err))
	} else {
		defer broadcaster.Close()
		notifier = broadcaster
		logger.Info("RabbitMQ connected", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}

	gateways := buildGateways(cfg.Gateways, logger)

	ledger := service.NewInventoryLedger(coord, reader, alerts, notifier, service.LedgerConfig{
		LowThreshold:      cfg.Stock.LowThreshold,
		CriticalThreshold: cfg.Stock.CriticalThreshold,
	})
	processor := service.NewPaymentProcessor(coord, reader, gateways, nil, alerts, notifier, service.ProcessorConfig{
		GatewayTimeout: cfg.Gateways.Timeout,
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(ledger, processor, commands, map[string]api.ReadinessCheck{
		"database": db.PingContext,
		"redis":    redisClient.Ping,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	commandConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.ConsumerGroup)
	commandWorker := worker.NewCommandWorker(commandConsumer, processor, ledger, redisClient)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := commandWorker.Start(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return commandWorker.Stop()
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Server exited")
}

// buildGateways registers cash plus every gateway that has credentials
func buildGateways(cfg config.GatewayConfig, logger *zap.Logger) *gateway.Registry {
	registry := gateway.NewRegistry(gateway.NewCashAdapter())

	wallets := []struct {
		method string
		cfg    config.WalletConfig
	}{
		{gateway.MethodWalletA, cfg.WalletA},
		{gateway.MethodWalletB, cfg.WalletB},
	}
	for _, w := range wallets {
		if !w.cfg.Enabled() {
			continue
		}
		registry.Register(gateway.NewWalletAdapter(w.method, gateway.WalletConfig{
			BaseURL:    w.cfg.BaseURL,
			MerchantID: w.cfg.MerchantID,
			APIKey:     w.cfg.APIKey,
			Timeout:    cfg.Timeout,
		}))
	}

	if cfg.Card.SecretKey != "" {
		registry.Register(gateway.NewCardAdapter(gateway.CardConfig{
			SecretKey: cfg.Card.SecretKey,
			Currency:  cfg.Card.Currency,
		}))
	}

	logger.Info("Payment gateways registered", zap.Strings("methods", registry.Methods()))
	return registry
}
