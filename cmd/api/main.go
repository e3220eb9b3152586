package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AuctionCore/internal/config"
	"AuctionCore/internal/db"
	internalhttp "AuctionCore/internal/http"
	"AuctionCore/internal/logging"
	"AuctionCore/internal/mq"
	"AuctionCore/internal/obs"
	"AuctionCore/internal/pricing"
	"AuctionCore/internal/realtime"
	"AuctionCore/internal/services"
	"AuctionCore/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	boot := logging.New("info", "console")
	cfg, err := config.Load("")
	if err != nil {
		boot.Fatal().Err(err).Msg("config load failed")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format).With().Str("service", "api").Logger()

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

	hub := realtime.NewHub(0)
	var pub realtime.Publisher = hub
	var relay *realtime.RedisRelay
	if cfg.Redis.Addr != "" {
		rdb := realtime.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		pub = &realtime.RedisPublisher{Client: rdb, Log: log}
		relay = &realtime.RedisRelay{Client: rdb, Local: hub, Log: log.With().Str("component", "redis_relay").Logger()}
	}
	broadcaster := realtime.NewBroadcaster(pub,
		realtime.WithTickEvery(cfg.TickEvery()),
		realtime.WithLogger(log),
	)

	auctions := &services.AuctionService{
		Store:       st,
		Notifier:    broadcaster,
		Publisher:   bus,
		Log:         log.With().Str("component", "auctions").Logger(),
		MinDuration: cfg.MinDuration(),
		MaxDuration: cfg.MaxDuration(),
	}
	bids := &services.BidService{
		Auctions: auctions,
		Ladder:   pricing.DefaultIncrements,
		Limiter:  services.NewBidLimiter(cfg.Bidding.RatePerSecond, cfg.Bidding.Burst),
		Log:      log.With().Str("component", "bids").Logger(),
	}
	settlement := &services.SettlementService{
		Store: st,
		Commission: cfg.CommissionConfig(),
		Log: log.With().Str("component", "settlement").Logger(),
	}

	h := internalhttp.NewHandler(auctions, bids, settlement, hub)
	h.AdminKey = cfg.Server.AdminKey
	h.Log = log.With().Str("component", "http").Logger()
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if cfg.Worker.Embedded {
		w := &worker.Worker{
			Store:     st,
			Auctions:  auctions,
			Timers:    broadcaster,
			Publisher: bus,
			Interval:  cfg.WorkerInterval(),
			BatchSize: cfg.Worker.BatchSize,
			Log:       log.With().Str("component", "scheduler").Logger(),
		}
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}
	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil {
				log.Error().Err(err).Msg("redis relay stopped")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("api stopped with error")
	}
	broadcaster.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown failed")
	}
	log.Info().Msg("api stopped")
}
