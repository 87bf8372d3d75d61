// Package pnl implements the PnL accountant (spec §4.9): on start it
// loads pnl_state.json if present, else seeds it with the current equity
// as the baseline. On each tick it reads balance and positions, computes
// equity minus baseline, and logs a snapshot. It never modifies exchange
// state.
//
// Grounded on internal/store/store.go's persistState/loadState atomic
// write-tmp-then-rename discipline, reused verbatim for pnl_state.json
// instead of collector_state_<market>.json.
package pnl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"marketmaker/pkg/types"
)

// BalanceReader is the subset of the exchange client the accountant needs.
type BalanceReader interface {
	GetBalance(ctx context.Context) ([]types.Balance, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
}

// Snapshot is one equity reading, ready to log.
type Snapshot struct {
	Equity    float64
	Baseline  float64
	PnL       float64
	Positions []types.Position
	At        time.Time
}

// Accountant tracks cumulative PnL against a persistent baseline.
type Accountant struct {
	path       string
	quoteAsset string
	client     BalanceReader
	logger     *slog.Logger
	state      types.PnLState

	mu   sync.RWMutex
	last Snapshot
}

// Open loads path if present, else seeds a new PnLState with the current
// equity as the baseline (spec §4.9). quoteAsset selects which balance
// entry counts as equity (e.g. "USDC").
func Open(ctx context.Context, path, quoteAsset string, client BalanceReader, logger *slog.Logger) (*Accountant, error) {
	a := &Accountant{
		path:       path,
		quoteAsset: quoteAsset,
		client:     client,
		logger:     logger.With("component", "pnl"),
	}

	loaded, err := a.load()
	if err != nil {
		return nil, err
	}
	if loaded {
		return a, nil
	}

	equity, err := a.readEquity(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed pnl baseline: %w", err)
	}
	a.state = types.PnLState{InitialEquity: equity, StartedAt: time.Now()}
	if err := a.persist(); err != nil {
		return nil, err
	}
	a.logger.Info("pnl baseline seeded", "initial_equity", equity)
	return a, nil
}

// load reads the PnL state file. Returns (false, nil) if it doesn't exist.
func (a *Accountant) load() (bool, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read pnl state: %w", err)
	}
	var st types.PnLState
	if err := json.Unmarshal(data, &st); err != nil {
		return false, fmt.Errorf("unmarshal pnl state: %w", err)
	}
	a.state = st
	return true, nil
}

// persist atomically writes the current state to disk (write-tmp,
// rename), matching internal/store.Store.persistState.
func (a *Accountant) persist() error {
	data, err := json.Marshal(a.state)
	if err != nil {
		return fmt.Errorf("marshal pnl state: %w", err)
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write pnl state: %w", err)
	}
	return os.Rename(tmp, a.path)
}

// Tick reads balance + positions, computes equity - baseline, and logs a
// snapshot. Never modifies exchange state.
func (a *Accountant) Tick(ctx context.Context) (Snapshot, error) {
	equity, err := a.readEquity(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read equity: %w", err)
	}
	positions, err := a.client.GetPositions(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read positions: %w", err)
	}

	snap := Snapshot{
		Equity:    equity,
		Baseline:  a.state.InitialEquity,
		PnL:       equity - a.state.InitialEquity,
		Positions: positions,
		At:        time.Now(),
	}

	a.logger.Info("pnl snapshot",
		"equity", snap.Equity,
		"baseline", snap.Baseline,
		"pnl", snap.PnL,
		"positions", len(positions),
	)

	a.mu.Lock()
	a.last = snap
	a.mu.Unlock()

	return snap, nil
}

// LastSnapshot returns the most recent Tick result, for the dashboard.
// Zero value until the first tick completes.
func (a *Accountant) LastSnapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

func (a *Accountant) readEquity(ctx context.Context) (float64, error) {
	balances, err := a.client.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == a.quoteAsset {
			f, _ := b.Total.Float64()
			return f, nil
		}
	}
	return 0, nil
}
