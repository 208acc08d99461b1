package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"broadcastnet/internal/config"
	"broadcastnet/internal/db"
	"broadcastnet/internal/db/migrate"
	"broadcastnet/internal/logging"
)

var version = "dev"
var appName = "broadcastnet-migrate"

const usage = `usage: %s <command>
  up      apply pending archive migrations
  status  list migrations and whether they are applied
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadMigrateFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Common, version, appName)
	slog.SetDefault(logger)

	ctx := context.Background()
	conn, err := db.Open(ctx, db.Options{
		Path:         cfg.SQLitePath,
		DSN:          cfg.SQLiteDSN,
		MaxOpenConns: 1,
		LogSQL:       cfg.SQLiteLogSQL,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "db open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	switch os.Args[1] {
	case "up", "migrate":
		n, err := migrate.Run(ctx, conn, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d migrations applied\n", n)
	case "status":
		all, err := migrate.Status(ctx, conn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			os.Exit(1)
		}
		for _, m := range all {
			state := "pending"
			if m.Applied {
				state = "applied"
			}
			fmt.Printf("%s_%s\t%s\n", m.Version, m.Name, state)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}
}
