package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/inbox/internal/attachment"
	"tempmail/inbox/internal/blobstore"
	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/health"
	"tempmail/inbox/internal/ingest"
	"tempmail/inbox/internal/logger"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/scheduler"
	"tempmail/inbox/internal/service"
	"tempmail/inbox/internal/smtp"
	"tempmail/inbox/internal/storage"
	"tempmail/inbox/internal/storage/memory"
	"tempmail/inbox/internal/storage/redis"
	sqlstore "tempmail/inbox/internal/storage/sql"
	httptransport "tempmail/inbox/internal/transport/http"
	"tempmail/inbox/internal/websocket"
)

// main 启动 HTTP API、SMTP 收信与定时清理。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempmail inbox",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Strings("domains", cfg.Mailbox.AllowedDomains),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	backend, err := blobstore.New(cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	attachments := attachment.NewStore(backend, attachmentOptions(cfg.Ingest, log))
	log.Info("blob storage initialized", zap.String("driver", cfg.Blob.Driver))

	metrics := monitoring.NewDefaultMetrics()
	checker := health.NewChecker(log)
	checker.AddDependency("database", health.PingerFunc(store.Health))

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.New(ctx, cfg.Redis, logger.Component(log, "redis"))
		if err != nil {
			return err
		}
		defer rdb.Close()
		checker.AddDependency("redis", health.PingerFunc(rdb.Ping))
	}

	// 服务层
	domains := service.NewDomainService(store, log)
	if err := domains.Seed(ctx, cfg.Mailbox.AllowedDomains); err != nil {
		return fmt.Errorf("failed to seed domains: %w", err)
	}
	addresses := service.NewAddressService(store, domains, attachments, cfg.Mailbox, log)
	messages := service.NewMessageService(store, store, attachments, log)

	hub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)

	pipeline := ingest.NewPipeline(addresses, store, attachments, metrics, ingest.Options{
		Concurrency:        cfg.Ingest.Concurrency,
		StoreTimeout:       cfg.Ingest.StoreTimeout,
		StoreRetries:       cfg.Ingest.StoreRetries,
		MaxAttachmentBytes: cfg.Ingest.MaxAttachmentBytes,
	}, log)
	if rdb != nil {
		// 事件经 Redis 广播，每个副本的订阅协程再推送给本地连接
		pipeline.AddNotifier(rdb)
	} else {
		pipeline.AddNotifier(hub)
	}

	sweeps := scheduler.NewSweeps(store, attachments, cfg.Retention, metrics, log)
	sched := scheduler.New(metrics, log)
	if rdb != nil {
		sweeps.SetStatisticsCache(rdb)
		if cfg.Schedule.LeaseEnabled {
			sched.SetLease(rdb)
		}
	}
	for _, job := range sweeps.Jobs(cfg.Schedule) {
		if err := sched.Register(job); err != nil {
			return err
		}
	}

	deps := httptransport.RouterDependencies{
		Config:         cfg,
		DomainService:  domains,
		AddressService: addresses,
		MessageService: messages,
		Ingester:       pipeline,
		Statistics:     sweeps,
		WebSocketHub:   hub,
		Health:         checker,
		Metrics:        metrics,
		Logger:         log,
	}
	if rdb != nil {
		deps.StatisticsCache = rdb
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           httptransport.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	smtpServer := smtp.NewServer(cfg.SMTP, smtp.NewBackend(pipeline, domains, smtp.BackendOptions{
		MaxRecipients: cfg.SMTP.MaxRecipients,
		Limiter:       smtp.NewIPLimiter(cfg.SMTP.RatePerIP, cfg.SMTP.BurstPerIP),
	}, metrics, log), log)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(groupCtx); err != nil {
			return fmt.Errorf("smtp server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})

	if rdb != nil {
		group.Go(func() error {
			return rdb.SubscribeNewMail(groupCtx, func(evt domain.NewMailEvent) {
				if err := hub.PublishNewMail(groupCtx, evt); err != nil {
					log.Debug("dropping new mail event", zap.Error(err))
				}
			})
		})
	}

	group.Go(func() error {
		sched.Start(groupCtx)
		<-groupCtx.Done()
		sched.Stop()
		return nil
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server shutdown error", zap.Error(err))
		}
		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// attachmentOptions 附件写入与邮件保存使用同一组超时和重试参数
func attachmentOptions(cfg config.IngestConfig, log *zap.Logger) attachment.Options {
	return attachment.Options{
		Timeout: cfg.StoreTimeout,
		Retries: cfg.StoreRetries,
		Logger:  logger.Component(log, "attachments"),
	}
}

// openStore 配置了数据库时使用 SQL 存储，否则使用内存存储
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	store, err := sqlstore.Open(cfg.Database.Type, cfg.Database.DSN, sqlstore.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("using database storage", zap.String("type", cfg.Database.Type))
	return store, nil
}
