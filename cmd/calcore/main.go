package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/calcore/internal/access"
	"github.com/noah-isme/calcore/internal/handler"
	"github.com/noah-isme/calcore/internal/index"
	"github.com/noah-isme/calcore/internal/middleware"
	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/notify"
	"github.com/noah-isme/calcore/internal/service"
	"github.com/noah-isme/calcore/internal/txn"
	rediscache "github.com/noah-isme/calcore/pkg/cache"
	"github.com/noah-isme/calcore/pkg/config"
	"github.com/noah-isme/calcore/pkg/database"
	"github.com/noah-isme/calcore/pkg/jobs"
	"github.com/noah-isme/calcore/pkg/logger"
	corsmiddleware "github.com/noah-isme/calcore/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/calcore/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var indexer index.Indexer = index.Noop{}
	if cfg.Indexer.Enabled {
		client, err := rediscache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		indexer = index.NewRedisIndexer(client, cfg.Indexer.KeyPrefix)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := notify.NewQueueBus(func(_ context.Context, n models.Notification) error {
		logr.Info("notification",
			zap.String("type", string(n.Type)),
			zap.String("actor", n.Actor),
			zap.String("path", n.Path),
			zap.String("recurrence_id", n.RecurrenceID))
		return nil
	}, jobs.QueueConfig{Workers: cfg.Notify.Workers, BufferSize: cfg.Notify.BufferSize, Logger: logr})
	bus.Start(ctx)
	defer bus.Stop()

	metricsSvc := service.NewMetricsService()
	sessions := txn.NewFactory(db, metricsSvc.CacheStats(), bus, indexer, logr)

	checker := access.NewStaticChecker()
	validate := validator.New()

	collections := service.NewCollectionService(checker, cfg.Paths, logr)
	aliases := service.NewAliasResolver(collections, logr)
	events := service.NewEventService(collections, cfg.Recurrence, logr)
	freebusy := service.NewFreeBusyService(events, aliases, logr)
	principals := service.NewPrincipalService(db, cfg.JWT, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Auth:        handler.NewAuthHandler(principals, validate),
		Collections: handler.NewCollectionHandler(sessions, collections, aliases, validate),
		Events:      handler.NewEventHandler(sessions, events, validate),
		FreeBusy:    handler.NewFreeBusyHandler(sessions, freebusy),
		Metrics:     handler.NewMetricsHandler(metricsSvc),
	}, middleware.JWT(principals))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("shutdown incomplete", zap.Error(err))
	}
}
