package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crypto-ledger/internal/api"
	"crypto-ledger/internal/cache"
	"crypto-ledger/internal/config"
	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/events"
	"crypto-ledger/internal/ingestion"
	"crypto-ledger/internal/ledger"
	"crypto-ledger/internal/logging"
	"crypto-ledger/internal/marketdata"
	"crypto-ledger/internal/query"
	"crypto-ledger/internal/storage"
	"crypto-ledger/internal/storage/memory"
	"crypto-ledger/internal/storage/migrations"
	pgstore "crypto-ledger/internal/storage/postgres"
)

const shutdownTimeout = 5 * time.Second

// stores holds the storage implementations shared by all components.
type stores struct {
	prices storage.PriceStore
	ledger storage.LedgerStore
}

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger.Named("server")); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A second signal forces exit.
	go func() {
		<-ctx.Done()
		stop()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Warn("received second signal, forcing exit", zap.Stringer("signal", sig))
		os.Exit(1)
	}()

	st, closeStores, err := createStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	var priceCache *cache.PriceCache
	if cfg.CacheEnabled() {
		priceCache, err = cache.New(ctx, cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		}, logger)
		if err != nil {
			return err
		}
		defer priceCache.Close()
		logger.Info("price cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.EventsEnabled() {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
		if err != nil {
			return err
		}
		publisher = kp
	}
	defer publisher.Close()

	prune := domain.PruneNone
	if cfg.PruneStale {
		prune = domain.PruneStale
	}

	pollerOpts := ingestion.PollerOptions{
		Source:      marketdata.NewClient(cfg.TickerURL, marketdata.WithTimeout(cfg.UpstreamTimeout)),
		Store:       st.prices,
		TopN:        cfg.TopN,
		Interval:    cfg.PollInterval,
		Timeout:     cfg.PollTimeout,
		PrunePolicy: prune,
		Logger:      logger,
	}
	queryOpts := query.Options{Prices: st.prices, Ledger: st.ledger, Logger: logger}
	if priceCache != nil {
		pollerOpts.Cache = priceCache
		queryOpts.Cache = priceCache
	}

	poller := ingestion.NewPoller(pollerOpts)
	handler := api.NewHandler(
		ledger.NewService(ledger.Options{Store: st.ledger, Publisher: publisher, Logger: logger}),
		query.NewService(queryOpts),
		logger,
	)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterOptions{
		Handler: handler,
		Status:  func() any { return poller.Status() },
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := poller.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// createStores opens PostgreSQL and applies migrations, or builds the
// in-memory store.
func createStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, func(), error) {
	if cfg.UseMemory {
		logger.Info("using in-memory storage")
		mem := memory.NewStore()
		return &stores{prices: mem, ledger: mem}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithMaxConns(cfg.DBMaxConns))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	applied, err := migrations.RunPostgresMigrations(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	logger.Info("postgres ready",
		zap.Int32("max_conns", cfg.DBMaxConns),
		zap.Strings("migrations", applied))

	return &stores{
		prices: pgstore.NewPriceStore(pool),
		ledger: pgstore.NewLedgerStore(pool),
	}, pool.Close, nil
}
