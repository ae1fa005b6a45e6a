package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-lifecycle/internal/config"
	"github.com/ariefcatur/go-order-lifecycle/internal/engine"
	"github.com/ariefcatur/go-order-lifecycle/internal/httpx"
	"github.com/ariefcatur/go-order-lifecycle/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-lifecycle/internal/kafka"
	"github.com/ariefcatur/go-order-lifecycle/internal/observability"
	"github.com/ariefcatur/go-order-lifecycle/internal/orders"
	"github.com/ariefcatur/go-order-lifecycle/internal/postgres"
	"github.com/ariefcatur/go-order-lifecycle/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	store := postgres.NewStore(db)

	// Redis
	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()
	statusCache := redisx.NewStatusCache(rdb)

	// Kafka producer, stopped after the HTTP server so late events still flush
	prodCtx, stopProducer := context.WithCancel(context.Background())
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("producer"))
	prod.Start(prodCtx)

	eng := engine.New(engine.Deps{
		Store:          store,
		Events:         orders.Publishers{statusCache, kafkax.NewEventPublisher(prod, cfg.ServiceName)},
		Logger:         logger.Named("engine"),
		CurrencyPlaces: &cfg.CurrencyPlaces,
	})
	if err := restore(ctx, eng, store, logger); err != nil {
		logger.Fatal("restore engine", zap.Error(err))
	}

	router := httpx.NewRouter(logger.Named("http"), 3*cfg.RequestTimeout)
	(&httpx.OrdersHandler{
		Engine:  eng,
		Idem:    redisx.Idempotency{RDB: rdb},
		Status:  statusCache,
		Log:     logger,
		Timeout: cfg.RequestTimeout,
	}).Register(router)
	(&httpx.ProductsHandler{Engine: eng}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	catalog := &inventory.Service{
		Catalog: eng,
		Dedup:   redisx.Dedup{RDB: rdb, Service: cfg.ServiceName},
		Log:     logger.Named("catalog"),
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.CatalogGroup, orders.TopicCatalogUpdates, cfg.CatalogWorkers, logger.Named("consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("catalog consumer started",
			zap.String("group", cfg.CatalogGroup),
			zap.String("topic", orders.TopicCatalogUpdates),
			zap.Int("workers", cfg.CatalogWorkers),
		)
		return cons.Start(gctx, catalog.HandleCatalogUpdate)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped", zap.Error(err))
	}
	stopProducer()
	prod.WaitClosed()
}

func restore(ctx context.Context, eng *engine.Engine, store *postgres.Store, logger *zap.Logger) error {
	products, err := store.LoadProducts(ctx)
	if err != nil {
		return err
	}
	list, err := store.LoadOrders(ctx)
	if err != nil {
		return err
	}
	eng.Restore(products, list)
	for _, w := range eng.Ledger().Warnings() {
		logger.Warn("restored stock below reservations", zap.String("warning", w.String()))
	}
	return nil
}
