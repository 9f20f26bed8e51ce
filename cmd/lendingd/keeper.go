package main

import (
	"context"
	"log/slog"
	"time"

	"intentlend/native/lending"
	daemonconfig "intentlend/services/lendingd/config"
)

// liquidationEngine is the slice of the engine the keeper drives.
type liquidationEngine interface {
	FindLiquidatable(limit int) ([]lending.Candidate, error)
	BatchLiquidate(ctx context.Context, call lending.Call, orderIDs []uint64) ([]lending.BatchOutcome, error)
}

// keeper periodically liquidates overdue and unhealthy orders under a fixed
// liquidator identity.
type keeper struct {
	engine   liquidationEngine
	call     lending.Call
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func newKeeper(engine liquidationEngine, cfg daemonconfig.KeeperConfig, logger *slog.Logger) (*keeper, error) {
	liquidator, err := cfg.LiquidatorAddress()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &keeper{
		engine:   engine,
		call:     lending.DirectCall(liquidator),
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		logger:   logger.With("component", "keeper"),
	}, nil
}

func (k *keeper) run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := k.sweep(ctx); err != nil && ctx.Err() == nil {
				k.logger.Warn("liquidation sweep failed", "error", err)
			}
		}
	}
}

// sweep runs one scan and returns how many orders were settled.
func (k *keeper) sweep(ctx context.Context) (int, error) {
	candidates, err := k.engine.FindLiquidatable(k.batch)
	if err != nil || len(candidates) == 0 {
		return 0, err
	}
	ids := make([]uint64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.OrderID
	}
	outcomes, err := k.engine.BatchLiquidate(ctx, k.call, ids)
	settled := 0
	for _, o := range outcomes {
		if o.Err == nil {
			settled++
		}
	}
	k.logger.Info("liquidation sweep", "candidates", len(ids), "settled", settled)
	return settled, err
}
