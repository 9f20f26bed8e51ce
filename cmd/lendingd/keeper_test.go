package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intentlend/crypto"
	"intentlend/native/lending"
	daemonconfig "intentlend/services/lendingd/config"
)

type fakeLiquidations struct {
	candidates []lending.Candidate
	calls      []lending.Call
	batches    [][]uint64
}

func (f *fakeLiquidations) FindLiquidatable(limit int) ([]lending.Candidate, error) {
	if limit > 0 && len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeLiquidations) BatchLiquidate(_ context.Context, call lending.Call, ids []uint64) ([]lending.BatchOutcome, error) {
	f.calls = append(f.calls, call)
	f.batches = append(f.batches, ids)
	out := make([]lending.BatchOutcome, len(ids))
	for i, id := range ids {
		out[i] = lending.BatchOutcome{OrderID: id}
		if id%2 == 0 {
			out[i].Err = errors.New("not liquidatable")
		}
	}
	return out, nil
}

func keeperConfig() daemonconfig.KeeperConfig {
	return daemonconfig.KeeperConfig{
		Liquidator: "0x1111111111111111111111111111111111111111",
		Interval:   time.Second,
		BatchSize:  2,
	}
}

func TestKeeperSweepLiquidatesCandidates(t *testing.T) {
	engine := &fakeLiquidations{candidates: []lending.Candidate{{OrderID: 1}, {OrderID: 2}, {OrderID: 3}}}
	k, err := newKeeper(engine, keeperConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	settled, err := k.sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, settled)
	require.Equal(t, [][]uint64{{1, 2}}, engine.batches)

	liquidator, err := crypto.ParseAddress(keeperConfig().Liquidator)
	require.NoError(t, err)
	require.Equal(t, liquidator, engine.calls[0].Origin)
}

func TestKeeperSweepSkipsEmptyScan(t *testing.T) {
	engine := &fakeLiquidations{}
	k, err := newKeeper(engine, keeperConfig(), nil)
	require.NoError(t, err)

	settled, err := k.sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, settled)
	require.Empty(t, engine.batches)
}

func TestKeeperRejectsBadLiquidator(t *testing.T) {
	cfg := keeperConfig()
	cfg.Liquidator = "nope"
	_, err := newKeeper(&fakeLiquidations{}, cfg, nil)
	require.Error(t, err)
}

func TestKeeperRunStopsOnCancel(t *testing.T) {
	k, err := newKeeper(&fakeLiquidations{}, keeperConfig(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, k.run(ctx))
}
