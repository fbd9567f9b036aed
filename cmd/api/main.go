package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/recovery-engine/internal/channel"
	"github.com/kursadbilgin/recovery-engine/internal/config"
	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/kursadbilgin/recovery-engine/internal/handler"
	"github.com/kursadbilgin/recovery-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/recovery-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/recovery-engine/internal/infra/redis"
	"github.com/kursadbilgin/recovery-engine/internal/observability"
	"github.com/kursadbilgin/recovery-engine/internal/policy"
	"github.com/kursadbilgin/recovery-engine/internal/queue"
	"github.com/kursadbilgin/recovery-engine/internal/repository"
	"github.com/kursadbilgin/recovery-engine/internal/service"
	"github.com/kursadbilgin/recovery-engine/internal/timer"
	"github.com/kursadbilgin/recovery-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("recovery-engine stopped with error", zap.Error(err))
	}
	logger.Info("recovery-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()
	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()
	consumer := queue.NewRabbitMQConsumer(broker, cfg.SignalConcurrency, logger)
	defer consumer.Close()

	limiter, err := infraredis.NewSendLimiter(rdb, cfg.RateLimitPerSec, nil)
	if err != nil {
		return fmt.Errorf("send limiter initialization failed: %w", err)
	}
	locker, err := infraredis.NewLocker(rdb, 0, logger)
	if err != nil {
		return fmt.Errorf("attempt locker initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()

	attempts := repository.NewGormAttemptRepo(db)
	events := repository.NewGormPaymentEventRepo(db)
	merchants := repository.NewGormMerchantRepo(db)

	registry, err := newChannelRegistry(cfg, logger)
	if err != nil {
		return err
	}

	timers := timer.New(cfg.WorkerConcurrency, logger)
	timers.SetMetrics(metrics)

	executor, err := service.NewExecutor(attempts, registry, limiter, locker, cfg.DefaultCountryCode, logger)
	if err != nil {
		return fmt.Errorf("executor initialization failed: %w", err)
	}
	executor.SetMetrics(metrics)

	scheduler, err := service.NewRetryScheduler(
		attempts,
		merchants,
		policy.New(cfg.RecoverySchedule, cfg.DefaultChannel, logger),
		timers,
		logger,
	)
	if err != nil {
		return fmt.Errorf("scheduler initialization failed: %w", err)
	}
	scheduler.SetMetrics(metrics)

	reconciler, err := service.NewReconciler(attempts, timers, executor, cfg.ReconcileInterval(), 0, 0, logger)
	if err != nil {
		return fmt.Errorf("reconciler initialization failed: %w", err)
	}
	reconciler.SetMetrics(metrics)

	ingest, err := service.NewIngestService(events, publisher, scheduler, reconciler, logger)
	if err != nil {
		return fmt.Errorf("ingest service initialization failed: %w", err)
	}
	ingest.SetMetrics(metrics)

	signals, err := service.NewSignalWorker(consumer, scheduler, reconciler, cfg.SignalConcurrency, logger)
	if err != nil {
		return fmt.Errorf("signal worker initialization failed: %w", err)
	}

	webhooks, err := handler.NewWebhookHandler(merchants, ingest, logger)
	if err != nil {
		return fmt.Errorf("webhook handler initialization failed: %w", err)
	}
	webhooks.SetMetrics(metrics)

	if err := timers.Start(ctx, executor.Fire); err != nil {
		return fmt.Errorf("timer service start failed: %w", err)
	}
	if _, err := reconciler.Sweep(ctx); err != nil {
		logger.Error("startup reconciliation failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	handler.RegisterWebhookRoutes(app, webhooks)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("recovery-engine api started", zap.String("addr", addr))
		return app.Listen(addr)
	})
	g.Go(func() error {
		return signals.Start(gctx)
	})
	g.Go(func() error {
		return reconciler.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(app, timers, cfg.ShutdownTimeout(), logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown stops accepting webhooks first, then lets in-flight dispatches finish.
func shutdown(app *fiber.App, timers *timer.Service, timeout time.Duration, logger *zap.Logger) error {
	logger.Info("shutting down", zap.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown failed: %w", err))
	}
	if err := timers.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func newChannelRegistry(cfg *config.Config, logger *zap.Logger) (*channel.Registry, error) {
	breaker := channel.DefaultBreakerSettings()

	whatsapp := channel.NewWhatsAppAdapter(channel.GupshupConfig{
		APIKey:   cfg.GupshupAPIKey,
		AppName:  cfg.GupshupAppName,
		Endpoint: cfg.GupshupEndpoint,
		Timeout:  cfg.ChannelTimeout(),
	}, resty.New())

	var email channel.Adapter
	if cfg.EmailRelayURL == "" {
		logger.Warn("EMAIL_RELAY_URL not set, email reminders are logged only")
		email = channel.NewLogEmailAdapter(logger)
	} else {
		relay, err := channel.NewEmailRelayAdapter(cfg.EmailRelayURL, cfg.ChannelTimeout(), resty.New())
		if err != nil {
			return nil, fmt.Errorf("email relay initialization failed: %w", err)
		}
		email = relay
	}

	return channel.NewRegistry(map[domain.Channel]channel.Adapter{
		domain.ChannelWhatsApp: channel.WithBreaker(domain.ChannelWhatsApp, whatsapp, breaker, logger),
		domain.ChannelEmail:    channel.WithBreaker(domain.ChannelEmail, email, breaker, logger),
	}), nil
}
