// Command ingest runs a single price poll and exits. It is meant for cron
// jobs and for seeding a fresh database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"crypto-ledger/internal/cache"
	"crypto-ledger/internal/config"
	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/ingestion"
	"crypto-ledger/internal/logging"
	"crypto-ledger/internal/marketdata"
	"crypto-ledger/internal/storage"
	"crypto-ledger/internal/storage/memory"
	"crypto-ledger/internal/storage/migrations"
	pgstore "crypto-ledger/internal/storage/postgres"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, cfg, logger.Named("ingest"))
	if err != nil {
		logger.Error("ingest failed", zap.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}

	fmt.Printf("fetched=%d stored=%d pruned=%d duration=%s\n",
		result.Fetched, result.Stored, result.Pruned, result.Duration)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ingestion.PollResult, error) {
	var prices storage.PriceStore
	if cfg.UseMemory {
		logger.Warn("using in-memory storage; results are discarded on exit")
		prices = memory.NewStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithMaxConns(cfg.DBMaxConns))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if _, err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		prices = pgstore.NewPriceStore(pool)
	}

	prune := domain.PruneNone
	if cfg.PruneStale {
		prune = domain.PruneStale
	}

	opts := ingestion.PollerOptions{
		Source:      marketdata.NewClient(cfg.TickerURL, marketdata.WithTimeout(cfg.UpstreamTimeout)),
		Store:       prices,
		TopN:        cfg.TopN,
		Timeout:     cfg.PollTimeout,
		PrunePolicy: prune,
		Logger:      logger,
	}

	if cfg.CacheEnabled() {
		priceCache, err := cache.New(ctx, cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		defer priceCache.Close()
		opts.Cache = priceCache
	}

	return ingestion.NewPoller(opts).PollOnce(ctx)
}
