package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viralforge/affiliate-ledger/internal/adapters/cache"
	eventadapter "github.com/viralforge/affiliate-ledger/internal/adapters/events"
	grpcadapter "github.com/viralforge/affiliate-ledger/internal/adapters/grpc"
	httpadapter "github.com/viralforge/affiliate-ledger/internal/adapters/http"
	"github.com/viralforge/affiliate-ledger/internal/adapters/memory"
	"github.com/viralforge/affiliate-ledger/internal/adapters/postgres"
	"github.com/viralforge/affiliate-ledger/internal/application"
	"github.com/viralforge/affiliate-ledger/internal/domain"
	"github.com/viralforge/affiliate-ledger/internal/ports"
	"google.golang.org/grpc"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	consumer   *eventadapter.ConsumerWorker
	// apiOutbox drains the outbox inside RunAPI. Set for the in-memory
	// store, whose records no separate worker process can see.
	apiOutbox bool
	cleanupFn func(context.Context)
}

type ledgerStores struct {
	affiliates ports.AffiliateRepository
	earnings   ports.EarningRepository
	payouts    ports.PayoutRepository
	outbox     ports.OutboxRepository
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}

	var stores ledgerStores
	inMemory := cfg.DatabaseURL == ""
	if !inMemory {
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		closers = append(closers, sqlDB)
		if err := postgres.RunMigrations(ctx, db); err != nil {
			cleanup()
			return nil, err
		}
		repos := postgres.NewRepositories(db)
		stores = ledgerStores{affiliates: repos.Affiliates, earnings: repos.Earnings, payouts: repos.Payouts, outbox: repos.Outbox}
	} else {
		logger.WarnContext(ctx, "DB_URL not set, using in-memory ledger store",
			"module", "bootstrap",
			"layer", "runtime",
			"operation", "select_store",
			"outcome", "fallback",
		)
		repos := memory.NewRepositories()
		stores = ledgerStores{affiliates: repos.Affiliates, earnings: repos.Earnings, payouts: repos.Payouts, outbox: repos.Outbox}
	}

	var locker ports.Locker = cache.NewMemoryLocker()
	if cfg.RedisURL != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, redisClient)
		locker = cache.NewRedisLocker(redisClient)
	} else {
		logger.WarnContext(ctx, "REDIS_URL not set, payout lock is process-local",
			"module", "bootstrap",
			"layer", "runtime",
			"operation", "select_locker",
			"outcome", "fallback",
		)
	}

	service := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:        cfg.ServiceID,
			Currency:           cfg.Currency,
			CommissionRate:     cfg.CommissionRate,
			PayoutThreshold:    cfg.PayoutThreshold,
			PayoutBatchSize:    cfg.PayoutBatchSize,
			PayoutConcurrency:  cfg.PayoutConcurrency,
			PayoutLockTTL:      cfg.PayoutLockTTL,
			ReconcileBatchSize: cfg.ReconcileBatchSize,
		},
		Affiliates: stores.affiliates,
		Earnings:   stores.earnings,
		Payouts:    stores.payouts,
		Outbox:     stores.outbox,
		Locker:     locker,
		Logger:     logger,
	})

	handler := httpadapter.NewHandler(service, httpadapter.NewStripeVerifier(cfg.StripeWebhookSecret, cfg.StripeTolerance), logger)
	router := httpadapter.NewRouter(handler, httpadapter.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Admin:          httpadapter.AdminAuth{Token: cfg.AdminToken, JWTSecret: []byte(cfg.AdminJWTSecret)},
	})
	if cfg.AdminToken == "" && cfg.AdminJWTSecret == "" {
		logger.WarnContext(ctx, "no admin credentials configured, admin routes reject every request",
			"module", "bootstrap",
			"layer", "runtime",
			"operation", "configure_admin_auth",
			"outcome", "disabled",
		)
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	grpcadapter.Register(grpcServer, grpcadapter.NewLedgerHealthServer(service))

	publisher := ports.EventPublisher(eventadapter.NewLoggingPublisher(logger))
	consumerAdapter := eventadapter.Consumer(eventadapter.NewNoopConsumer())
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, pubErr := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, map[string]string{
			domain.EventAffiliateEarningRecorded: cfg.KafkaTopicEarningRecorded,
			domain.EventAffiliatePayoutCreated:   cfg.KafkaTopicPayoutCreated,
		})
		if pubErr != nil {
			logger.WarnContext(ctx, "kafka publisher disabled, using logging publisher", "error", pubErr)
		} else {
			publisher = kafkaPublisher
			closers = append(closers, kafkaPublisher)
		}

		kafkaConsumer, conErr := eventadapter.NewKafkaConsumer(
			cfg.KafkaBrokers,
			cfg.KafkaConsumerGroup,
			[]string{cfg.KafkaTopicPaymentConfirmed},
		)
		if conErr != nil {
			logger.WarnContext(ctx, "kafka consumer disabled, using noop consumer", "error", conErr)
		} else {
			consumerAdapter = kafkaConsumer
			closers = append(closers, kafkaConsumer)
		}
	}
	outbox := eventadapter.NewOutboxWorker(logger, stores.outbox, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	consumer := eventadapter.NewConsumerWorker(logger, consumerAdapter, service, cfg.ConsumerPollInterval)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		outbox:     outbox,
		consumer:   consumer,
		apiOutbox:  inMemory,
		cleanupFn: func(context.Context) {
			cleanup()
		},
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(context.Background())
		return err
	}
	r.grpcLis = lis
	errCh := make(chan error, 3)

	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- err
		}
	}()
	if r.apiOutbox {
		go func() {
			if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}
	r.logger.InfoContext(ctx, "api started",
		"module", "bootstrap",
		"layer", "runtime",
		"operation", "run_api",
		"outcome", "started",
		"http_port", r.cfg.HTTPPort,
		"grpc_port", r.cfg.GRPCPort,
		"outbox_in_process", r.apiOutbox,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure", "error", runErr)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 2)

	go func() {
		if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	go func() {
		if err := r.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		r.cleanupFn(context.Background())
		return nil
	case err := <-errCh:
		r.cleanupFn(context.Background())
		return err
	}
}
