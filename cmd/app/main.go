package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"pos-ledger/internal/adapters/cli"
	webAdapter "pos-ledger/internal/adapters/web"
	"pos-ledger/internal/app"
	"pos-ledger/internal/config"
	"pos-ledger/internal/core"
	"pos-ledger/internal/db"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/notify"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		log.Fatal("Usage: app <command> [args...]   (try: app help)")
	}

	cfg := config.LoadEnv()
	cfg.Logger.Level = "warn"
	lg, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	rdb := notify.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
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

	operator := os.Getenv("POS_OPERATOR")
	if operator == "" {
		operator = "admin"
	}
	user, err := users.GetByUsername(ctx, operator)
	if err != nil {
		log.Fatalf("Operator %q: %v", operator, err)
	}
	actor := user.Actor()

	// token issues a short-lived bearer token for local testing of the API.
	if os.Args[1] == "token" {
		ttl := 12 * time.Hour
		if len(os.Args) > 2 {
			hours, err := strconv.Atoi(os.Args[2])
			if err != nil || hours <= 0 {
				log.Fatalf("invalid ttl hours %q", os.Args[2])
			}
			ttl = time.Duration(hours) * time.Hour
		}
		token, err := webAdapter.SignToken(cfg.JWT.Secret, actor, ttl)
		if err != nil {
			log.Fatalf("token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if err := cli.Run(ctx, svc, actor, os.Stdout, os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrDrift) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
