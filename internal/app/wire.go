package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/crossarb/internal/aggregator"
	s3blob "github.com/quantfold/crossarb/internal/blob/s3"
	"github.com/quantfold/crossarb/internal/cache/redis"
	"github.com/quantfold/crossarb/internal/config"
	"github.com/quantfold/crossarb/internal/domain"
	"github.com/quantfold/crossarb/internal/executor"
	"github.com/quantfold/crossarb/internal/notify"
	"github.com/quantfold/crossarb/internal/planner"
	"github.com/quantfold/crossarb/internal/predict"
	"github.com/quantfold/crossarb/internal/risk"
	"github.com/quantfold/crossarb/internal/scanner"
	"github.com/quantfold/crossarb/internal/store/postgres"
	"github.com/quantfold/crossarb/internal/venue"
)

// candleRetention is how long candles stay in the hot store before the
// archiver moves them to object storage.
const candleRetention = 7 * 24 * time.Hour

// Dependencies bundles everything the operating modes need. Trading-side
// fields (Gate, Executor, Planner) are nil in modes that run without the
// ledger.
type Dependencies struct {
	Registry   *venue.Registry
	Adapters   map[string]venue.Adapter
	Ledger     domain.Ledger
	History    domain.HistoryStore
	QuoteCache domain.QuoteCache
	Notifier   *notify.Notifier
	Aggregator *aggregator.Aggregator
	Scanner    *scanner.Scanner
	Gate       *risk.Gate
	Executor   *executor.Executor
	Planner    *planner.Planner
	Archiver   *s3blob.Archiver
	Stream     *venue.TickerStream
}

// Rescan runs one fresh aggregation cycle and scans it. This is the
// re-validation primitive the executor and the HTTP API share.
func (d *Dependencies) Rescan(ctx context.Context) ([]domain.ArbitrageOpportunity, error) {
	table, err := d.Aggregator.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return d.Scanner.Scan(table), nil
}

// needsLedger reports whether the mode requires the trading-side stack.
func needsLedger(mode string) bool {
	switch mode {
	case "trade", "rebalance", "serve", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependencies from configuration and returns
// them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	registry, err := venue.NewRegistry(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: registry: %w", err)
	}
	deps.Registry = registry

	deps.Adapters = make(map[string]venue.Adapter)
	for _, vc := range registry.Enabled() {
		adapter, err := venue.NewAdapter(vc, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: adapter %s: %w", vc.ID, err)
		}
		deps.Adapters[vc.ID] = adapter
	}

	// --- Redis quote cache ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.QuoteCache = redis.NewQuoteCache(redisClient)

	// --- PostgreSQL (trading-side modes only) ---
	if needsLedger(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.History = postgres.NewHistoryStore(pool)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Aggregation and scanning ---
	deps.Aggregator = aggregator.New(
		deps.Adapters, cfg.Symbols, cfg.Aggregator,
		deps.QuoteCache, deps.History, deps.Notifier, logger,
	)
	deps.Scanner = scanner.New(registry, cfg.Scanner, cfg.Aggregator.QuoteMaxAge(), logger)

	// --- Trading side ---
	if deps.Ledger != nil {
		profile := activeProfile(cfg)
		deps.Gate = risk.NewGate(
			deps.Ledger, deps.History, profile,
			roundTripFee(registry), cfg.Risk.KellyLookback, logger,
		)
		deps.Executor = executor.New(
			deps.Adapters, deps, deps.Gate, deps.Ledger, deps.Notifier,
			cfg.Executor, cfg.Scanner.MinProfitPercent, logger,
		)
		deps.Planner = planner.New(
			deps.Ledger, deps.History, predict.NewLocalPredictor(), deps.Gate,
			cfg.Symbols, cfg.Planner, logger,
		)
	}

	// --- S3 candle archiver ---
	if cfg.S3.Enabled && deps.History != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		history, ok := deps.History.(s3blob.CandleHistory)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: history store does not support archiving")
		}
		// The bucket check is advisory; the archiver retries on its next run.
		if err := s3Client.Health(ctx); err != nil {
			logger.Warn("s3 bucket unreachable, archival will retry",
				slog.String("error", err.Error()))
		}
		deps.Archiver = s3blob.NewArchiver(history, s3Client, candleRetention, logger)
	}

	// --- Websocket warm path ---
	if vc, err := registry.Get("binance"); err == nil && vc.Enabled {
		stream, err := venue.NewTickerStream(vc, cfg.Symbols, deps.QuoteCache, logger)
		if err != nil {
			logger.Warn("ticker stream disabled", slog.String("error", err.Error()))
		} else {
			deps.Stream = stream
		}
	}

	return deps, cleanup, nil
}

// activeProfile converts the configured profile into the domain type.
func activeProfile(cfg *config.Config) domain.RiskProfile {
	p := cfg.ActiveProfile()
	return domain.RiskProfile{
		Name:                 cfg.Risk.ActiveProfile,
		MaxPositionFraction:  p.MaxPositionFraction,
		MaxDailyLossFraction: p.MaxDailyLossFraction,
		StopLoss:             p.StopLossPercent,
		TakeProfit:           p.TakeProfitPercent,
		MaxLeverage:          p.MaxLeverage,
		MinProfitVsFees:      p.MinProfitVsFees,
	}
}

// roundTripFee is the worst-case taker cost of a full buy+sell round trip
// across the enabled venues.
func roundTripFee(registry *venue.Registry) float64 {
	var maxFee float64
	for _, vc := range registry.Enabled() {
		if vc.TakerFee > maxFee {
			maxFee = vc.TakerFee
		}
	}
	return 2 * maxFee
}
