package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AuctionCore/internal/config"
	"AuctionCore/internal/db"
	"AuctionCore/internal/logging"
	"AuctionCore/internal/mq"
	"AuctionCore/internal/obs"
	"AuctionCore/internal/realtime"
	"AuctionCore/internal/services"
	"AuctionCore/internal/worker"
)

func main() {
	boot := logging.New("info", "console")
	cfg, err := config.Load("")
	if err != nil {
		boot.Fatal().Err(err).Msg("config load failed")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format).With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracer init failed")
	}

	st, err := db.OpenStore(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.LockTimeout())
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer st.Close()

	bus, err := mq.Open(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		log.Fatal().Err(err).Msg("amqp connect failed")
	}
	defer bus.Close()

	auctions := &services.AuctionService{
		Store:     st,
		Publisher: bus,
		Log:       log.With().Str("component", "auctions").Logger(),
	}
	w := &worker.Worker{
		Store:     st,
		Auctions:  auctions,
		Publisher: bus,
		Interval:  cfg.WorkerInterval(),
		BatchSize: cfg.Worker.BatchSize,
		Log:       log.With().Str("component", "scheduler").Logger(),
	}

	// Countdowns and ended events only reach clients through Redis; without
	// it the worker just reconciles state.
	var broadcaster *realtime.Broadcaster
	if cfg.Redis.Addr != "" {
		rdb := realtime.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		broadcaster = realtime.NewBroadcaster(
			&realtime.RedisPublisher{Client: rdb, Log: log},
			realtime.WithTickEvery(cfg.TickEvery()),
			realtime.WithLogger(log),
		)
		auctions.Notifier = broadcaster
		w.Timers = broadcaster
		log.Info().Str("redis", cfg.Redis.Addr).Msg("broadcasting through redis")
	} else {
		log.Warn().Msg("redis not configured; realtime events disabled")
	}

	w.Run(ctx)

	if broadcaster != nil {
		broadcaster.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown failed")
	}
}
