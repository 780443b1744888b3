package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/gomail.v2"

	"mailpipeline/internal/classifier"
	appconfig "mailpipeline/internal/config"
	"mailpipeline/internal/httpserver"
	"mailpipeline/internal/mailbox"
	"mailpipeline/internal/repository"
	"mailpipeline/internal/scheduler"
	"mailpipeline/internal/service/ingest"
	"mailpipeline/pkg/alert"
	"mailpipeline/pkg/db"
	"mailpipeline/pkg/logger"
	"mailpipeline/pkg/metrics"
	"mailpipeline/pkg/mq"
	"mailpipeline/pkg/outbox"
	"mailpipeline/pkg/rbac"
	pkgredis "mailpipeline/pkg/redis"
	"mailpipeline/pkg/retry"
	"mailpipeline/pkg/util"
)

const (
	lockKey         = "mailpipeline:ingestion:lock"
	defaultLockTTL  = 10 * time.Minute
	shutdownTimeout = 30 * time.Second
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion cycle and exit")
	issueRole := flag.String("issue-token", "", "print an ops API token for the given role and exit")
	subject := flag.String("subject", "operator", "token subject used with -issue-token")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "token lifetime used with -issue-token")
	flag.Parse()

	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if *issueRole != "" {
		if !rbac.IsKnownRole(*issueRole) {
			logger.Fatal("Unknown role", zap.String("role", *issueRole))
		}
		token, err := util.GenerateJWT(*subject, *issueRole, cfg.JWT.Secret, *tokenTTL)
		if err != nil {
			logger.Fatal("Failed to sign token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Fatal("Ingestor exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *appconfig.Config, logger *zap.Logger, once bool) error {
	logger.Info("Starting mail ingestor...", zap.Bool("once", once))

	m := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		m,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Alerts
	alerts := alert.NewDispatcher(logger).
		WithHistorySize(cfg.Alerts.HistorySize).
		WithHandlerTimeout(cfg.Alerts.HandlerTimeout).
		WithMetrics(m)
	alerts.AddHandler(alert.NewCriticalLogHandler(logger))

	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("sentry init: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		alerts.AddHandler(alert.NewSentryHandler(sentry.CurrentHub()))
		logger.Info("Sentry alert handler enabled")
	}

	if cfg.SMTP.Host != "" && len(cfg.Alerts.EmailTo) > 0 {
		dialer := gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password)
		alerts.AddHandler(alert.NewEmailHandler(dialer, cfg.SMTP.From, cfg.Alerts.EmailTo))
		logger.Info("SMTP alert handler enabled", zap.Strings("to", cfg.Alerts.EmailTo))
	}

	checks := map[string]httpserver.Pinger{}

	// DB
	var (
		repo       ingest.Repository
		outboxRepo *outbox.Repository
	)
	if cfg.DB.Host != "" {
		pool, err := db.NewConnection(ctx, cfg.DB, m, logger)
		if err != nil {
			alerts.SendAlert(ctx, alert.DBConnectionFailed, alert.SeverityCritical,
				"Failed to connect to database", map[string]any{"error": err.Error()})
			return err
		}
		defer pool.Close()

		if cfg.DB.AutoMigrate {
			if err := db.Migrate(ctx, pool, logger); err != nil {
				return err
			}
		}
		outboxRepo = outbox.NewRepository(pool)
		repo = repository.NewEmailRepository(pool, outboxRepo)
		checks["db"] = pool
		logger.Info("DB ready")
	} else {
		repo = repository.NewMemoryRepository()
		logger.Warn("db.host not set, using in-memory repository")
	}

	// MQ
	var (
		dispatcher *outbox.Dispatcher
		replayer   httpserver.OutboxReplayer
	)
	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			return fmt.Errorf("failed to init publisher: %w", err)
		}
		defer publisher.Close()

		checks["mq"] = httpserver.PingFunc(func(ctx context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("rabbitmq connection closed")
			}
			return nil
		})
		if outboxRepo != nil {
			dispatcher = outbox.NewDispatcher(outboxRepo, publisher, m, logger)
			replayer = outbox.NewReplayService(outboxRepo, publisher, logger)
		}
		if cfg.Alerts.PublishToMQ {
			alerts.AddHandler(alert.NewMQHandler(publisher))
		}
	}

	// Run lock
	var lock scheduler.RunLock = scheduler.NewLocalLock()
	if cfg.Scheduler.Lock == "redis" {
		rdb, err := pkgredis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		ttl := cfg.Scheduler.LockTTL
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		lock = pkgredis.NewLock(rdb, lockKey, ttl)
		checks["redis"] = httpserver.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	cls, err := classifier.New(cfg.Classifier, logger)
	if err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(
		mailbox.NewIMAPMailbox(cfg.IMAP, logger),
		cls,
		repo,
		retry.NewExecutor(m, logger),
		m,
		alerts,
		logger,
		ingest.ConfigFrom(cfg.Ingestion, cfg.Alerts),
	)
	sched := scheduler.New(pipeline, lock, m, alerts, logger).WithConfig(cfg.Scheduler)

	if once {
		stats, err := sched.RunOnce(ctx)
		m.LogMetrics(logger)
		if err != nil {
			return err
		}
		if dispatcher != nil {
			dispatcher.ProcessPending(ctx)
		}
		logger.Info("Manual email ingestion completed", zap.Any("stats", stats))
		return nil
	}

	router := httpserver.NewRouter(httpserver.Deps{
		Alerts:    alerts,
		Metrics:   m,
		Gatherer:  registry,
		Outbox:    replayer,
		Trigger:   sched,
		Checks:    checks,
		JWTSecret: cfg.JWT.Secret,
		Logger:    logger,
	})
	srv := router.Server(cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting ops HTTP server", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if dispatcher != nil {
		g.Go(func() error {
			dispatcher.Start(gctx)
			return nil
		})
	}

	sched.Start(gctx)

	// 优雅退出处理
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down mail ingestor gracefully...")

		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}

		logger.Info("Waiting for in-flight ingestion run...")
		if err := sched.Wait(shutdownCtx); err != nil {
			logger.Warn("In-flight ingestion run did not finish before timeout", zap.Error(err))
		}

		m.LogMetrics(logger)
		return nil
	})

	err = g.Wait()
	logger.Info("Mail ingestor shutdown complete")
	return err
}
