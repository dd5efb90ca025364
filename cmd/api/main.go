package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/medsupply-storefront/internal/api"
	"github.com/example/medsupply-storefront/internal/auth"
	"github.com/example/medsupply-storefront/internal/checkout"
	"github.com/example/medsupply-storefront/internal/config"
	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/example/medsupply-storefront/internal/metrics"
	"github.com/example/medsupply-storefront/internal/projection"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[API] %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("[API] Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
	logger.Info("api stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	instanceID := uuid.NewString()
	logger = logger.With(zap.String("instance", instanceID))
	logger.Info("starting storefront api",
		zap.String("backend", cfg.Cart.Backend),
		zap.String("feed", cfg.Feed.Kind),
		zap.String("database", cfg.Cart.Database),
		zap.String("object_store", cfg.Cart.ObjectStore),
	)

	deps := &dependencies{cfg: cfg, logger: logger}
	defer deps.close()

	factory, err := deps.backendFactory(ctx)
	if err != nil {
		return err
	}
	changeFeed, err := deps.changeFeed(ctx, instanceID)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := []cart.Option{cart.WithLogger(logger), cart.WithObserver(m)}
	if changeFeed != nil {
		opts = append(opts, cart.WithChangeFeed(changeFeed, instanceID))
	}
	stores := cart.NewRegistry(factory, opts...)
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn("failed to close cart stores", zap.Error(err))
		}
	}()
	views := projection.NewRegistry(stores, logger)

	orders := checkout.NewService(checkout.NewClient(cfg.API.BaseURL, cfg.API.Timeout), logger)
	router := api.NewRouter(api.RouterConfig{
		Handlers: api.NewHandlers(views, orders, logger),
		Sessions: auth.NewSessionService(cfg.Session.Secret, cfg.Session.TTL),
		Metrics:  m,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server started", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := views.Sweep(gctx, cfg.Cart.IdleTimeout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if changeFeed != nil {
		g.Go(func() error {
			err := views.Run(gctx, changeFeed)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}
