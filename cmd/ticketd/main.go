package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	httptransport "github.com/gitblit-org/ticketstore/internal/api/http"
	"github.com/gitblit-org/ticketstore/internal/api/http/handlers"
	"github.com/gitblit-org/ticketstore/internal/config"
	"github.com/gitblit-org/ticketstore/internal/events"
	"github.com/gitblit-org/ticketstore/internal/index"
	"github.com/gitblit-org/ticketstore/internal/observability"
	"github.com/gitblit-org/ticketstore/internal/repos"
	"github.com/gitblit-org/ticketstore/internal/store"
	"github.com/gitblit-org/ticketstore/internal/store/branch"
	"github.com/gitblit-org/ticketstore/internal/store/file"
	"github.com/gitblit-org/ticketstore/internal/store/null"
	"github.com/gitblit-org/ticketstore/internal/store/rediskv"
	"github.com/gitblit-org/ticketstore/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	manager, err := repos.NewManager(cfg.Tickets.RepositoriesRoot, logger)
	if err != nil {
		logger.Fatal("failed to open repositories root", zap.Error(err))
	}

	backend, cleanup, err := buildBackend(cfg, manager, logger, metrics)
	if err != nil {
		logger.Fatal("failed to init ticket backend", zap.Error(err))
	}
	defer cleanup()
	logger.Info("ticket backend selected", zap.String("backend", backend.Name()))

	searchIndex, err := index.Open(cfg.Index.Dir, logger, metrics)
	if err != nil {
		logger.Fatal("failed to open search index", zap.Error(err))
	}
	defer searchIndex.Close()

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(dispatcher, logger)

	service := store.NewService(store.Dependencies{
		Backend:      backend,
		Indexer:      searchIndex,
		Notifier:     events.NewNotifier(dispatcher),
		Repositories: manager,
		Logger:       logger,
		Metrics:      metrics,
		PageSize:     cfg.Tickets.PageSize,
		CacheSize:    cfg.Tickets.CacheSize,
	})

	if cfg.Tickets.ReindexOnStartup {
		logger.Info("rebuilding search index from journals")
		if err := service.ReindexAll(ctx); err != nil {
			logger.Error("startup reindex failed", zap.Error(err))
		}
	}

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:   handlers.NewHealthHandler(service),
		Tickets:  handlers.NewTicketsHandler(service),
		Labels:   handlers.NewLabelsHandler(service),
		Admin:    handlers.NewAdminHandler(service),
		Registry: registry,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func buildBackend(cfg *config.Config, manager *repos.Manager, logger *zap.Logger, metrics *observability.Metrics) (store.Backend, func(), error) {
	noop := func() {}
	switch cfg.Tickets.Backend {
	case "branch":
		return branch.New(manager, logger, metrics, cfg.Tickets.CommitRetries), noop, nil
	case "file":
		backend, err := file.New(cfg.Tickets.FileRoot, logger)
		return backend, noop, err
	case "redis":
		backend := rediskv.New(cfg.Redis, logger)
		return backend, backend.Close, nil
	case "null":
		return null.New(), noop, nil
	default:
		logger.Warn("unknown tickets backend, tickets disabled",
			zap.String("backend", cfg.Tickets.Backend))
		return null.New(), noop, nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
