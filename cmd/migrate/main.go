// migrate applies migrations/*.sql to DATABASE_URL in version order.
//
// Usage: go run ./cmd/migrate [-dir migrations]
package main

import (
	"context"
	"flag"
	"log"

	"pos-ledger/internal/config"
	"pos-ledger/internal/db"
	"pos-ledger/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	dir := flag.String("dir", "migrations", "directory holding NNN_description.sql files")
	flag.Parse()

	cfg := config.LoadEnv()
	lg, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		lg.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, *dir, lg); err != nil {
		lg.Fatal("migrate", zap.Error(err))
	}
	lg.Info("all migrations processed")
}
