package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/crossarb/internal/executor"
	"github.com/quantfold/crossarb/internal/server"
)

// archiveInterval is how often the candle archiver runs in full mode.
const archiveInterval = 24 * time.Hour

// ScanMode polls venues and logs ranked opportunities without trading.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startStream(ctx, g, deps)
	g.Go(func() error {
		return a.scanLoop(ctx, deps, nil)
	})
	return g.Wait()
}

// TradeMode runs the scan loop with automatic execution of the best
// opportunity each cycle.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startStream(ctx, g, deps)
	g.Go(func() error {
		return a.scanLoop(ctx, deps, deps.Executor)
	})
	return g.Wait()
}

// RebalanceMode runs only the planner cadence.
func (a *App) RebalanceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting rebalance mode")
	return a.plannerLoop(ctx, deps)
}

// ServeMode exposes the HTTP API without autonomous trading loops.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: trading loop, planner, HTTP API, websocket warm
// path and scheduled archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startStream(ctx, g, deps)
	a.startServer(ctx, g, deps)
	g.Go(func() error {
		return a.scanLoop(ctx, deps, deps.Executor)
	})
	if a.cfg.Planner.Enabled {
		g.Go(func() error {
			return a.plannerLoop(ctx, deps)
		})
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}
	return g.Wait()
}

// scanLoop refreshes prices on the poll cadence and scans for opportunities.
// With an executor attached, the best opportunity of each cycle is executed;
// executions run one at a time so risk checks see each other's effects.
func (a *App) scanLoop(ctx context.Context, deps *Dependencies, exec *executor.Executor) error {
	ticker := time.NewTicker(a.cfg.Aggregator.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		table, err := deps.Aggregator.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("refresh failed", slog.String("error", err.Error()))
			continue
		}

		opps := deps.Scanner.Scan(table)
		if len(opps) == 0 {
			continue
		}

		best := opps[0]
		a.logger.Info("opportunities found",
			slog.Int("count", len(opps)),
			slog.String("best_symbol", best.Symbol),
			slog.String("best_route", best.BuyVenue+"->"+best.SellVenue),
			slog.Float64("best_net_percent", best.NetProfit),
		)

		if exec == nil {
			continue
		}
		result, err := exec.Execute(ctx, best, 0)
		if err != nil {
			a.logger.Error("execution error", slog.String("error", err.Error()))
			continue
		}
		if !result.Success {
			a.logger.Info("execution skipped", slog.String("message", result.Message))
		}
	}
}

// plannerLoop runs the hedge/rebalance planner on its cadence and routes the
// resulting instructions through the executor.
func (a *App) plannerLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Planner.RebalanceInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		table, err := deps.Aggregator.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("planner refresh failed", slog.String("error", err.Error()))
			continue
		}

		instructions, err := deps.Planner.Plan(ctx, table)
		if err != nil {
			a.logger.Error("planning failed", slog.String("error", err.Error()))
			continue
		}

		for _, instr := range instructions {
			if instr.Reason == "flash_crash_exit" {
				_ = deps.Notifier.Notify(ctx, "flash_crash", "Flash crash exit",
					instr.Symbol+" price collapse detected, exiting position")
			}
			result, err := deps.Executor.ExecuteInstruction(ctx, instr)
			if err != nil {
				a.logger.Error("instruction failed",
					slog.String("symbol", instr.Symbol),
					slog.String("reason", instr.Reason),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !result.Success {
				a.logger.Info("instruction skipped",
					slog.String("symbol", instr.Symbol),
					slog.String("message", result.Message),
				)
			}
		}
	}
}

// archiveLoop moves aged-out candles to object storage once a day.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := deps.Archiver.Run(ctx); err != nil {
			a.logger.Error("archival failed", slog.String("error", err.Error()))
		}
	}
}

func (a *App) startStream(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Stream == nil {
		return
	}
	g.Go(func() error {
		return deps.Stream.Run(ctx)
	})
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.New(a.cfg.Server.Addr, deps, deps.Gate, deps.Executor, deps.Ledger, a.logger)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
