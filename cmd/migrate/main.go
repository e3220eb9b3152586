package main

import (
	"context"
	"flag"

	"AuctionCore/internal/config"
	"AuctionCore/internal/db"
	"AuctionCore/internal/logging"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding the *.sql migrations")
	flag.Parse()

	boot := logging.New("info", "console")
	cfg, err := config.Load("")
	if err != nil {
		boot.Fatal().Err(err).Msg("config load failed")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	if cfg.DB.Driver == db.DriverSQLite {
		log.Info().Msg("sqlite applies its schema on open; nothing to migrate")
		return
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, *dir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	log.Info().Int("applied", len(applied)).Msg("migrations up to date")
}
