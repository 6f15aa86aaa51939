package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sifan077/PowerPush/config"
	apprepository "github.com/sifan077/PowerPush/internal/app/repository"
	appserver "github.com/sifan077/PowerPush/internal/app/server"
	appservice "github.com/sifan077/PowerPush/internal/app/service"
	inthttp "github.com/sifan077/PowerPush/internal/http/handler"
	"github.com/sifan077/PowerPush/internal/http/middleware"
	"github.com/sifan077/PowerPush/internal/infra/blob"
	"github.com/sifan077/PowerPush/internal/infra/database"
	"github.com/sifan077/PowerPush/internal/infra/logger"
	infraNATS "github.com/sifan077/PowerPush/internal/infra/nats"
	infraPostgres "github.com/sifan077/PowerPush/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/PowerPush/internal/infra/prometheus"
	infraRedis "github.com/sifan077/PowerPush/internal/infra/redis"
	"go.uber.org/zap"
)

const (
	shutdownTimeout     = 15 * time.Second
	tokenFilterCapacity = 1 << 20
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config first so the logger can honour its settings.
	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.MustInit(logger.FromConfig(cfg.Log, cfg.IsDevelopment()))
	defer func() { _ = logger.Sync() }()

	log.Info("Configuration loaded successfully",
		zap.String("env", cfg.Env),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Bool("sweeper_enabled", cfg.Sweeper.Enabled),
	)

	gormDB, err := database.NewGorm(cfg.Database, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := database.AutoMigrate(ctx, gormDB, database.Models...); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	probes := map[string]inthttp.Probe{
		"database": sqlDB.PingContext,
	}

	if cfg.Database.Driver == "postgres" {
		pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()
		probes["postgres"] = infraPostgres.Probe(pool)
		log.Info("Connected to Postgres successfully")
	}

	var limiter middleware.Limiter
	rateCfg := middleware.DefaultRateLimitConfig()
	if cfg.Server.RateLimit > 0 {
		rateCfg.MaxRequests = cfg.Server.RateLimit
	}
	if cfg.Server.RateWindow > 0 {
		rateCfg.Window = cfg.Server.RateWindow
	}
	if cfg.Redis.Enabled {
		redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		probes["redis"] = infraRedis.Probe(redisClient)
		limiter = middleware.NewRedisLimiter(redisClient, rateCfg)
		log.Info("Connected to Redis successfully")
	} else if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLocalLimiter(rateCfg)
		log.Info("Redis disabled, using in-process rate limiter")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := appservice.NewMetrics(registry)

	var publisher appservice.AuditPublisher
	if cfg.NATS.Enabled {
		natsConn, js, err := infraNATS.Connect(cfg.NATS)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Drain()

		if err := infraNATS.EnsureAuditStream(js); err != nil {
			log.Fatal("Failed to prepare audit stream", zap.Error(err))
		}
		publisher = appservice.NewJetStreamPublisher(js)

		consumer := appservice.NewAuditConsumer(js, log.Named("audit"), metrics)
		if err := consumer.Start(ctx); err != nil {
			log.Fatal("Failed to start audit consumer", zap.Error(err))
		}
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New("nats: not connected")
			}
			return nil
		}
		log.Info("Connected to NATS successfully")
	}

	if cfg.Prometheus.Enabled {
		promServer := infraPrometheus.NewServer(cfg.Prometheus, registry)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	}

	masterKey, err := cfg.Security.MasterKeyBytes()
	if err != nil {
		log.Fatal("Invalid master key", zap.Error(err))
	}
	cipher, err := appservice.NewCipher(masterKey)
	if err != nil {
		log.Fatal("Failed to build cipher", zap.Error(err))
	}

	blobs, err := blob.NewFileStore(cfg.Blob.Dir)
	if err != nil {
		log.Fatal("Failed to open blob store", zap.Error(err))
	}

	var filter *appservice.TokenFilter
	if cfg.Pushes.TokenFilter {
		filter = appservice.NewTokenFilter(tokenFilterCapacity)
	}

	pushService := appservice.NewPushService(appservice.Deps{
		Pushes:     apprepository.NewPushRepository(gormDB),
		Audits:     apprepository.NewAuditLogRepository(gormDB),
		Transactor: apprepository.NewTransactor(gormDB),
		Blobs:      blobs,
		Cipher:     cipher,
		Publisher:  publisher,
		Filter:     filter,
		Metrics:    metrics,
		Logger:     log.Named("pushes"),
		Limits:     cfg.Pushes,
	})

	if filter != nil {
		n, err := pushService.WarmTokenFilter(ctx)
		if err != nil {
			log.Fatal("Failed to warm token filter", zap.Error(err))
		}
		log.Info("Token filter loaded", zap.Int("tokens", n))
	}

	if cfg.Sweeper.Enabled {
		sweeper := appservice.NewExpirySweeper(log.Named("sweeper"), pushService, metrics, appservice.SweeperConfig{
			Interval:            cfg.Sweeper.Interval,
			BatchSize:           cfg.Sweeper.BatchSize,
			PurgeAnonymousAfter: cfg.Sweeper.PurgeAnonymousAfter,
		})
		sweeper.Start()
		defer sweeper.Stop()
	}

	server := appserver.New(appserver.Dependencies{
		Logger:    log,
		Server:    cfg.Server,
		Pushes:    cfg.Pushes,
		Secret:    []byte(cfg.Security.TokenSecret),
		Users:     apprepository.NewUserRepository(gormDB),
		Service:   pushService,
		Limiter:   limiter,
		RateLimit: rateCfg,
		Probes:    probes,
	})

	go func() {
		<-ctx.Done()
		log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
	if err := server.Listen(cfg.Server.Addr); err != nil {
		log.Error("Fiber server exited", zap.Error(err))
	}
}
