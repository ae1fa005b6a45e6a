// Command inventory audits the persisted stock ledger: it loads every product and order
// from Postgres, recomputes reservations and reports products whose stock fell below
// what confirmed orders hold. It exits with status 1 when anything is off.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-lifecycle/internal/config"
	"github.com/ariefcatur/go-order-lifecycle/internal/engine"
	"github.com/ariefcatur/go-order-lifecycle/internal/observability"
	"github.com/ariefcatur/go-order-lifecycle/internal/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName+"-inventory")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	store := postgres.NewStore(db)
	products, err := store.LoadProducts(ctx)
	if err != nil {
		logger.Fatal("load products", zap.Error(err))
	}
	list, err := store.LoadOrders(ctx)
	if err != nil {
		logger.Fatal("load orders", zap.Error(err))
	}

	eng := engine.New(engine.Deps{Logger: logger.Named("engine"), CurrencyPlaces: &cfg.CurrencyPlaces})
	eng.Restore(products, list)

	if !audit(eng, logger) {
		stop()
		cancel()
		db.Close()
		_ = logger.Sync()
		os.Exit(1)
	}
}

// audit logs the ledger and reports whether it is clean.
func audit(eng *engine.Engine, logger *zap.Logger) bool {
	ledger := eng.Ledger()
	clean := true
	for _, av := range ledger.Report() {
		fields := []zap.Field{
			zap.String("product_id", av.ProductID),
			zap.Int("stock", av.Stock),
			zap.Int("reserved", av.Reserved),
			zap.Int("soft_reserved", av.SoftReserved),
			zap.Int("available", av.Available),
		}
		if av.Warning != nil {
			clean = false
			logger.Warn("stock below reservations", fields...)
			continue
		}
		logger.Info("stock", fields...)
	}
	for _, d := range ledger.Audit() {
		clean = false
		logger.Error("reservation drift",
			zap.String("product_id", d.ProductID),
			zap.Int("tracked", d.Tracked),
			zap.Int("recounted", d.Recounted),
		)
	}
	return clean
}
