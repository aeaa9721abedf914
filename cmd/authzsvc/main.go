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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/wardgate/internal/config"
	"github.com/dhawalhost/wardgate/internal/engine"
	"github.com/dhawalhost/wardgate/internal/events"
	"github.com/dhawalhost/wardgate/internal/identity"
	"github.com/dhawalhost/wardgate/migrations"
	"github.com/dhawalhost/wardgate/pkg/database"
	"github.com/dhawalhost/wardgate/pkg/lock"
	"github.com/dhawalhost/wardgate/pkg/logger"
	"github.com/dhawalhost/wardgate/pkg/middleware"
	"github.com/dhawalhost/wardgate/pkg/observability"
)

const serviceName = "wardgate"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Error("Service failed", zap.Error(err))
		_ = zl.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, zl *zap.Logger) error {
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     cfg.OTLPInsecure,
		SampleRatio:  cfg.TraceSample,
	}, zl.Named("tracing"))
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			zl.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	var db *sqlx.DB
	if cfg.DBDSN != "" {
		if db, err = database.NewConnection(ctx, database.Config{DSN: cfg.DBDSN}); err != nil {
			return err
		}
		defer db.Close()
		if cfg.Migrate {
			if _, err := database.Migrate(ctx, db, migrations.FS, zl.Named("migrate")); err != nil {
				return err
			}
		}
	} else {
		zl.Warn("AUTHZ_DB_DSN not set, using in-memory stores")
	}

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if err := rdb.Close(); err != nil {
				zl.Warn("Redis close failed", zap.Error(err))
			}
		}()
		rl := lock.NewRedisLocker(rdb, lock.RedisOptions{}, zl.Named("lock"))
		if err := rl.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		locker = rl
	}

	sinks := []events.Sink{events.LogSink{Logger: zl.Named("activity")}}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret))
	}
	dispatcher := events.NewDispatcher(zl.Named("events"), events.DispatcherOptions{}, sinks...)
	dispatcher.Start()
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dispatcher.Close(dctx); err != nil {
			zl.Warn("Event dispatcher did not drain", zap.Error(err), zap.Uint64("dropped", dispatcher.Dropped()))
		}
	}()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	limiter := middleware.NewKeyedRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst, 10*time.Minute)

	eng, err := engine.New(ctx, engine.Options{
		Directory:       identity.NewHTTPDirectory(cfg.DirectoryURL),
		DB:              db,
		ConfigStore:     config.FileStore{Path: cfg.ConfigPath},
		Locker:          locker,
		Publisher:       dispatcher,
		Logger:          zl,
		Metrics:         metrics,
		RateLimiter:     limiter,
		BootstrapAdmins: cfg.BootstrapAdmins,
	})
	if err != nil {
		return err
	}
	if err := eng.Init(ctx); err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.PrometheusMiddleware(metrics))
	router.Use(middleware.SecurityHeadersMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.ActorExtractor(middleware.ActorConfig{Optional: true}))
	if cfg.RateLimit > 0 {
		api.Use(middleware.RateLimit(limiter, middleware.ActorOrIPKey))
	}
	eng.RegisterRoutes(api)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("HTTP server starting", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	zl.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(sctx)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.DefaultActorHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			break
		}
	}
	if !c.AllowAllOrigins {
		c.AllowOrigins = origins
	}
	return cors.New(c)
}
