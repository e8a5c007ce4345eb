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

	webAdapter "pos-ledger/internal/adapters/web"
	"pos-ledger/internal/app"
	"pos-ledger/internal/config"
	"pos-ledger/internal/core"
	"pos-ledger/internal/db"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/notify"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadEnv()
	lg, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	if cfg.JWT.Secret == "" {
		lg.Fatal("JWT_SECRET is not set")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		lg.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb := notify.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.Warn("redis unreachable, alerts will only be logged until it recovers",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}
	publisher := notify.New(rdb, cfg.Redis.AlertChannel, lg)

	catalog := core.NewCatalogService(pool)
	users := core.NewUserService(pool)
	inventory := core.NewInventoryService(pool, publisher, cfg.POS.ExpiryWarningDays, lg)
	recipes := core.NewRecipeService(pool, inventory, lg)
	cash := core.NewCashService(pool, lg)
	orders := core.NewOrderService(pool, recipes, cash, inventory, lg)
	stream := core.NewStreamService(pool)

	svc := app.NewAppService(catalog, users, inventory, recipes, cash, orders, stream, cfg.POS, lg)
	handler := webAdapter.NewHandler(svc, cfg.Server.AllowedOrigins, cfg.JWT.Secret, lg)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		lg.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("env", cfg.Server.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("forced shutdown", zap.Error(err))
	}
}
