package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/alejandrodnm/cdpusd/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"
)

const (
	defaultWorkers = 4
	defaultRate    = 5 // rebalances por segundo
)

// Engine es la parte del engine que usa el keeper.
type Engine interface {
	GetPosition(ctx context.Context, account common.Address) (domain.Position, error)
	CollateralRatio(ctx context.Context, account common.Address) (*uint256.Int, bool, error)
	Rebalance(ctx context.Context, caller common.Address, req domain.RebalanceRequest) (domain.Event, error)
}

// Config es la política del keeper.
type Config struct {
	// Keeper es el llamante ante el engine; necesita el rol de rebalance.
	Keeper common.Address
	// Accounts a vigilar. Vacío = todas las posiciones abiertas del store.
	Accounts        []common.Address
	ThresholdRatio  uint64 // escalado por domain.RatioScale
	MaxCollateralIn *uint256.Int
	MinPeggedOut    *uint256.Int
	Route           []common.Address

	RatePerSecond float64 // ritmo de rebalances; <= 0 usa el default
	Burst         int
	Workers       int
}

// Keeper vigila posiciones y lanza un paso de rebalance acotado en cada una
// con el ratio por debajo del umbral.
type Keeper struct {
	engine    Engine
	store     ports.PositionStore
	notifiers []ports.Notifier
	limiter   *rate.Limiter
	cfg       Config
}

// New crea un keeper. store sólo se usa si cfg.Accounts está vacío.
func New(cfg Config, engine Engine, store ports.PositionStore, notifiers ...ports.Notifier) (*Keeper, error) {
	if engine == nil {
		return nil, errors.New("keeper.New: engine is nil")
	}
	if len(cfg.Accounts) == 0 && store == nil {
		return nil, errors.New("keeper.New: no accounts and no position store")
	}
	if cfg.MaxCollateralIn == nil || cfg.MaxCollateralIn.IsZero() {
		return nil, fmt.Errorf("keeper.New: max collateral in: %w", domain.ErrInvalidAmount)
	}
	if cfg.ThresholdRatio == 0 {
		cfg.ThresholdRatio = domain.DefaultLiquidationRatio
	}
	if cfg.MinPeggedOut == nil {
		cfg.MinPeggedOut = new(uint256.Int)
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	return &Keeper{
		engine:    engine,
		store:     store,
		notifiers: notifiers,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:       cfg,
	}, nil
}

// RunOnce evalúa una vez cada cuenta vigilada. Los fallos por cuenta van al
// informe; sólo aborta el ciclo si no se pueden listar las cuentas.
func (k *Keeper) RunOnce(ctx context.Context) (domain.KeeperReport, error) {
	start := time.Now()
	accounts, err := k.accounts(ctx)
	if err != nil {
		return domain.KeeperReport{}, fmt.Errorf("keeper.RunOnce: %w", err)
	}

	report := domain.KeeperReport{
		StartedAt: start.UTC(),
		Threshold: uint256.NewInt(k.cfg.ThresholdRatio),
		Entries:   k.evaluateConcurrent(ctx, accounts),
	}
	report.Duration = time.Since(start)

	slog.Info("keeper: cycle complete",
		"positions", len(report.Entries),
		"rebalanced", report.Count(domain.KeeperRebalanced),
		"failed", report.Count(domain.KeeperFailed),
		"duration", report.Duration.Round(time.Millisecond))

	for _, n := range k.notifiers {
		if err := n.Notify(ctx, report); err != nil {
			slog.Warn("keeper: notifier failed", "err", err)
		}
	}
	return report, nil
}

func (k *Keeper) accounts(ctx context.Context) ([]common.Address, error) {
	if len(k.cfg.Accounts) > 0 {
		return k.cfg.Accounts, nil
	}
	positions, err := k.store.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]common.Address, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.Account)
	}
	return out, nil
}

// evaluate revisa una cuenta y la rebalancea si hace falta.
func (k *Keeper) evaluate(ctx context.Context, account common.Address) domain.KeeperEntry {
	entry := domain.KeeperEntry{Account: account}

	pos, err := k.engine.GetPosition(ctx, account)
	if err != nil {
		return failed(entry, err)
	}
	entry.Collateral, entry.Debt = pos.Collateral, pos.Debt
	if !pos.HasDebt() {
		entry.Action = domain.KeeperSkipped
		slog.Debug("keeper: no debt, skipping", "account", account.Hex())
		return entry
	}

	ratio, defined, err := k.engine.CollateralRatio(ctx, account)
	if err != nil {
		return failed(entry, err)
	}
	if !defined {
		// la deuda se saldó entre las dos lecturas (close o rebalance concurrente)
		entry.Action = domain.KeeperSkipped
		slog.Debug("keeper: debt cleared before ratio read, skipping", "account", account.Hex())
		return entry
	}
	entry.Ratio = ratio
	if !ratio.Lt(uint256.NewInt(k.cfg.ThresholdRatio)) {
		entry.Action = domain.KeeperHealthy
		return entry
	}

	slog.Info("keeper: ratio below threshold, rebalancing",
		"account", account.Hex(),
		"ratio", domain.FormatRatio(ratio),
		"threshold", domain.FormatRatio(uint256.NewInt(k.cfg.ThresholdRatio)))

	if err := k.limiter.Wait(ctx); err != nil {
		return failed(entry, err)
	}
	ev, err := k.engine.Rebalance(ctx, k.cfg.Keeper, domain.RebalanceRequest{
		Account:         account,
		MaxCollateralIn: k.cfg.MaxCollateralIn,
		MinPeggedOut:    k.cfg.MinPeggedOut,
		Route:           k.cfg.Route,
	})
	if err != nil {
		return failed(entry, err)
	}
	entry.Action = domain.KeeperRebalanced
	entry.Event = &ev
	return entry
}

func failed(entry domain.KeeperEntry, err error) domain.KeeperEntry {
	slog.Warn("keeper: position failed", "account", entry.Account.Hex(), "err", err)
	entry.Action = domain.KeeperFailed
	entry.Err = err
	return entry
}
