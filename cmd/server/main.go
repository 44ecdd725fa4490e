package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/trogers1052/item-price-sync/internal/api"
	"github.com/trogers1052/item-price-sync/internal/cache"
	"github.com/trogers1052/item-price-sync/internal/config"
	"github.com/trogers1052/item-price-sync/internal/database"
	"github.com/trogers1052/item-price-sync/internal/kafka"
	"github.com/trogers1052/item-price-sync/internal/ledger"
	"github.com/trogers1052/item-price-sync/internal/logging"
	"github.com/trogers1052/item-price-sync/internal/market"
	"github.com/trogers1052/item-price-sync/internal/pricing"
	"github.com/trogers1052/item-price-sync/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.Database.MigrationsDir); err != nil {
		logger.Fatalf("run migrations: %v", err)
	}

	deps := api.Dependencies{
		Items:     db,
		Prices:    db,
		Inventory: db,
		Ledger:    ledger.NewService(db, logger),
	}

	// prices stored here, whether fetched locally or posted by another
	// instance, are mirrored into redis when it is configured
	var localRecorder pricing.PriceRecorder = db
	if cfg.Redis.Addr != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatalf("connect redis: %v", err)
		}
		defer redisClient.Close()

		priceCache := cache.NewPriceCache(redisClient, cfg.Redis.PriceTTL)
		localRecorder = cache.NewLatestPriceRecorder(db, priceCache, logger)
		deps.Cache = priceCache
	}
	deps.Recorder = localRecorder

	recorder := localRecorder
	if cfg.Ledger.URL != "" {
		recorder = pricing.NewHTTPRecorder(cfg.Ledger.URL, cfg.Ledger.Timeout)
		logger.WithField("ledger_url", cfg.Ledger.URL).Info("Recording prices through remote ledger")
	}

	priceService := pricing.NewService(market.NewClient(cfg.Market), recorder, pricing.Options{
		MinDelay:          cfg.Throttle.MinDelay,
		RateLimitCooldown: cfg.Throttle.RateLimitCooldown,
		FetchTimeout:      cfg.Market.Timeout,
	}, logger)

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.Workers, priceService, logger)

	refresher, err := scheduler.New(db, producer, cfg.Scheduler, nil, logger)
	if err != nil {
		logger.Fatalf("create scheduler: %v", err)
	}
	if cfg.Scheduler.Enabled {
		if err := refresher.Start(); err != nil {
			logger.Fatalf("start scheduler: %v", err)
		}
	}

	deps.Publisher = producer
	deps.Refresher = refresher
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           api.SetupRoutes(api.NewHandler(deps, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Start(gctx)
	})

	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if cfg.Scheduler.Enabled {
			if err := refresher.Stop(); err != nil {
				logger.WithError(err).Warn("Scheduler did not stop cleanly")
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Service stopped with error")
		return
	}
	logger.Info("Service stopped")
}
