package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/alejandrodnm/cdpusd/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config son los parámetros de riesgo del engine.
type Config struct {
	// Address es la cuenta del propio engine: custodia el colateral y recibe
	// el producto del swap en un rebalance.
	Address      common.Address
	MinMintRatio uint64 // escalado por domain.RatioScale
	// CloseFeeBps nil usa domain.DefaultCloseFeeBps; 0 es un cierre sin fee.
	CloseFeeBps *uint64
}

// FeeBps devuelve un puntero para Config.CloseFeeBps.
func FeeBps(bps uint64) *uint64 { return &bps }

// Deps son los colaboradores del engine. Sinks es opcional.
type Deps struct {
	Store      ports.PositionStore
	Collateral ports.CollateralAsset
	Pegged     ports.SyntheticAsset
	Oracle     ports.PriceFeed
	Router     ports.SwapRouter
	Access     ports.Authorizer
	Sinks      []ports.EventSink
}

// Engine es dueño del ledger de posiciones y aplica las reglas de solvencia en
// cada operación que cambia estado.
type Engine struct {
	cfg        Config
	store      ports.PositionStore
	collateral ports.CollateralAsset
	pegged     ports.SyntheticAsset
	oracle     ports.PriceFeed
	router     ports.SwapRouter
	access     ports.Authorizer
	sinks      []ports.EventSink
	locks      *accountLocks
}

// New crea el engine de posiciones.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine.New: position store is nil")
	case deps.Collateral == nil:
		return nil, errors.New("engine.New: collateral asset is nil")
	case deps.Pegged == nil:
		return nil, errors.New("engine.New: pegged asset is nil")
	case deps.Oracle == nil:
		return nil, errors.New("engine.New: price feed is nil")
	case deps.Router == nil:
		return nil, errors.New("engine.New: swap router is nil")
	case deps.Access == nil:
		return nil, errors.New("engine.New: authorizer is nil")
	}
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("engine.New: engine address is zero")
	}
	if cfg.MinMintRatio == 0 {
		cfg.MinMintRatio = domain.DefaultMinMintRatio
	}
	fee := uint64(domain.DefaultCloseFeeBps)
	if cfg.CloseFeeBps != nil {
		fee = *cfg.CloseFeeBps
	}
	if fee > domain.BpsScale {
		return nil, fmt.Errorf("engine.New: close fee %d bps above %d", fee, domain.BpsScale)
	}
	cfg.CloseFeeBps = FeeBps(fee)

	return &Engine{
		cfg:        cfg,
		store:      deps.Store,
		collateral: deps.Collateral,
		pegged:     deps.Pegged,
		oracle:     deps.Oracle,
		router:     deps.Router,
		access:     deps.Access,
		sinks:      deps.Sinks,
		locks:      newAccountLocks(),
	}, nil
}

// Address es la cuenta de custodia.
func (e *Engine) Address() common.Address { return e.cfg.Address }

// Config devuelve la configuración efectiva, con defaults aplicados.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.CloseFeeBps = FeeBps(*e.cfg.CloseFeeBps)
	return cfg
}

// Deposit mueve colateral de la cuenta a custodia. Sin chequeo de ratio: un
// depósito sólo puede mejorar la posición.
func (e *Engine) Deposit(ctx context.Context, account common.Address, amount *uint256.Int) (domain.Event, error) {
	if !positive(amount) {
		return domain.Event{}, fmt.Errorf("engine.Deposit: %w", domain.ErrInvalidAmount)
	}

	err := e.mutate(ctx, "deposit", account, func(pos *domain.Position, undo *undoLog) error {
		collateral, err := domain.Add(pos.Collateral, amount)
		if err != nil {
			return fmt.Errorf("engine.Deposit: collateral: %w", err)
		}
		if err := e.collateral.TransferIn(ctx, account, amount); err != nil {
			return fmt.Errorf("engine.Deposit: transfer in: %w", transferErr(err))
		}
		undo.push("transfer in", func(ctx context.Context) error {
			return e.collateral.TransferOut(ctx, account, amount)
		})
		pos.Collateral = collateral
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	ev := domain.NewEvent(domain.EventCollateralDeposited, account)
	ev.Amount = amount.Clone()
	e.emit(ctx, ev)
	return ev, nil
}

// Mint emite pegged contra la posición mientras el ratio resultante quede en
// o por encima del mínimo de mint.
func (e *Engine) Mint(ctx context.Context, account common.Address, amount *uint256.Int) (domain.Event, error) {
	if !positive(amount) {
		return domain.Event{}, fmt.Errorf("engine.Mint: %w", domain.ErrInvalidAmount)
	}
	val, err := e.Snapshot(ctx)
	if err != nil {
		return domain.Event{}, fmt.Errorf("engine.Mint: %w", err)
	}

	err = e.mutate(ctx, "mint", account, func(pos *domain.Position, undo *undoLog) error {
		newDebt, err := domain.Add(pos.Debt, amount)
		if err != nil {
			return fmt.Errorf("engine.Mint: debt: %w", err)
		}
		ratio, _, err := val.Ratio(pos.Collateral, newDebt)
		if err != nil {
			return fmt.Errorf("engine.Mint: ratio: %w", err)
		}
		if ratio.Lt(uint256.NewInt(e.cfg.MinMintRatio)) {
			return fmt.Errorf("engine.Mint: ratio %s below floor %d: %w",
				ratio.Dec(), e.cfg.MinMintRatio, domain.ErrInsufficientCollateral)
		}
		if err := e.pegged.Mint(ctx, account, amount); err != nil {
			return fmt.Errorf("engine.Mint: mint: %w", err)
		}
		undo.push("mint", func(ctx context.Context) error {
			return e.pegged.BurnFrom(ctx, account, amount)
		})
		pos.Debt = newDebt
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	ev := domain.NewEvent(domain.EventStablecoinMinted, account)
	ev.Amount = amount.Clone()
	e.emit(ctx, ev)
	return ev, nil
}

// Withdraw devuelve colateral a la cuenta. Con deuda pendiente, el colateral
// que queda tiene que mantener el ratio en o por encima del mínimo de mint.
func (e *Engine) Withdraw(ctx context.Context, account common.Address, amount *uint256.Int) (domain.Event, error) {
	if !positive(amount) {
		return domain.Event{}, fmt.Errorf("engine.Withdraw: %w", domain.ErrInvalidAmount)
	}

	err := e.mutate(ctx, "withdraw", account, func(pos *domain.Position, undo *undoLog) error {
		if amount.Gt(pos.Collateral) {
			return fmt.Errorf("engine.Withdraw: %s above collateral %s: %w",
				amount.Dec(), pos.Collateral.Dec(), domain.ErrInsufficientCollateral)
		}
		remaining, err := domain.Sub(pos.Collateral, amount)
		if err != nil {
			return fmt.Errorf("engine.Withdraw: collateral: %w", err)
		}
		if pos.HasDebt() {
			val, err := e.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("engine.Withdraw: %w", err)
			}
			ratio, _, err := val.Ratio(remaining, pos.Debt)
			if err != nil {
				return fmt.Errorf("engine.Withdraw: ratio: %w", err)
			}
			if ratio.Lt(uint256.NewInt(e.cfg.MinMintRatio)) {
				return fmt.Errorf("engine.Withdraw: ratio %s below floor %d: %w",
					ratio.Dec(), e.cfg.MinMintRatio, domain.ErrUnderwater)
			}
		}
		if err := e.collateral.TransferOut(ctx, account, amount); err != nil {
			return fmt.Errorf("engine.Withdraw: transfer out: %w", transferErr(err))
		}
		undo.push("transfer out", func(ctx context.Context) error {
			return e.collateral.TransferIn(ctx, account, amount)
		})
		pos.Collateral = remaining
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	ev := domain.NewEvent(domain.EventCollateralWithdrawn, account)
	ev.Amount = amount.Clone()
	e.emit(ctx, ev)
	return ev, nil
}

// RepayAndClose quema toda la deuda de la cuenta, quema el fee de cierre del
// colateral y devuelve el resto. Sin deuda falla con domain.ErrNoDebt: ese
// colateral se recupera sin fee con Withdraw.
func (e *Engine) RepayAndClose(ctx context.Context, account common.Address) (domain.Event, error) {
	var refund, fee *uint256.Int

	err := e.mutate(ctx, "close", account, func(pos *domain.Position, undo *undoLog) error {
		if !pos.HasDebt() {
			return fmt.Errorf("engine.RepayAndClose: %w", domain.ErrNoDebt)
		}
		var err error
		if fee, err = domain.BpsOf(pos.Collateral, *e.cfg.CloseFeeBps); err != nil {
			return fmt.Errorf("engine.RepayAndClose: fee: %w", err)
		}
		if refund, err = domain.Sub(pos.Collateral, fee); err != nil {
			return fmt.Errorf("engine.RepayAndClose: refund: %w", err)
		}

		debt := pos.Debt.Clone()
		if err := e.pegged.BurnFrom(ctx, account, debt); err != nil {
			return fmt.Errorf("engine.RepayAndClose: burn debt: %w", err)
		}
		undo.push("burn debt", func(ctx context.Context) error {
			return e.pegged.Mint(ctx, account, debt)
		})

		if !refund.IsZero() {
			if err := e.collateral.TransferOut(ctx, account, refund); err != nil {
				return fmt.Errorf("engine.RepayAndClose: refund: %w", transferErr(err))
			}
			undo.push("refund", func(ctx context.Context) error {
				return e.collateral.TransferIn(ctx, account, refund)
			})
		}
		// la quema del fee no tiene compensación: va la última
		if !fee.IsZero() {
			if err := e.collateral.Burn(ctx, fee); err != nil {
				return fmt.Errorf("engine.RepayAndClose: burn fee: %w", err)
			}
		}

		pos.Collateral = new(uint256.Int)
		pos.Debt = new(uint256.Int)
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	ev := domain.NewEvent(domain.EventPositionClosed, account)
	ev.Refund = refund
	ev.Fee = fee
	e.emit(ctx, ev)
	return ev, nil
}

// Rebalance es un paso de liquidación acotado: cambia como mucho
// req.MaxCollateralIn del colateral por pegged y quema lo obtenido contra la
// deuda. Lo que sobre por encima de la deuda va a la cuenta. El llamante
// necesita domain.RoleRebalance.
func (e *Engine) Rebalance(ctx context.Context, caller common.Address, req domain.RebalanceRequest) (domain.Event, error) {
	if err := e.access.Authorize(ctx, caller, domain.RoleRebalance); err != nil {
		return domain.Event{}, fmt.Errorf("engine.Rebalance: %w", err)
	}
	account := req.Account
	minOut := req.MinPeggedOut
	if minOut == nil {
		minOut = new(uint256.Int)
	}

	var spent, repaid, excess *uint256.Int
	err := e.mutate(ctx, "rebalance", account, func(pos *domain.Position, undo *undoLog) error {
		if !pos.HasDebt() {
			return fmt.Errorf("engine.Rebalance: %w", domain.ErrNoDebt)
		}
		if !positive(req.MaxCollateralIn) {
			return fmt.Errorf("engine.Rebalance: max collateral in: %w", domain.ErrInvalidAmount)
		}
		if pos.Collateral.IsZero() {
			return fmt.Errorf("engine.Rebalance: %w", domain.ErrInsufficientCollateral)
		}
		spent = domain.Min(req.MaxCollateralIn, pos.Collateral)

		out, err := e.router.Swap(ctx, domain.SwapRequest{
			AmountIn:     spent,
			AmountOutMin: minOut,
			Route:        req.Route,
			Payer:        e.cfg.Address,
			Recipient:    e.cfg.Address,
		})
		if err != nil {
			return fmt.Errorf("engine.Rebalance: swap: %w", err)
		}
		if out == nil {
			out = new(uint256.Int)
		}
		// a partir de aquí el swap ya ocurrió y no se puede deshacer
		undo.push("swap", func(context.Context) error {
			return fmt.Errorf("swap of %s collateral for %s pegged is final", spent.Dec(), out.Dec())
		})

		repaid = domain.Min(out, pos.Debt)
		if excess, err = domain.Sub(out, repaid); err != nil {
			return fmt.Errorf("engine.Rebalance: excess: %w", err)
		}
		if !repaid.IsZero() {
			if err := e.pegged.BurnFrom(ctx, e.cfg.Address, repaid); err != nil {
				return fmt.Errorf("engine.Rebalance: burn proceeds: %w", err)
			}
			undo.push("burn proceeds", func(ctx context.Context) error {
				return e.pegged.Mint(ctx, e.cfg.Address, repaid)
			})
		}
		if !excess.IsZero() {
			if err := e.pegged.Transfer(ctx, e.cfg.Address, account, excess); err != nil {
				return fmt.Errorf("engine.Rebalance: pay excess: %w", err)
			}
			undo.push("pay excess", func(ctx context.Context) error {
				return e.pegged.Transfer(ctx, account, e.cfg.Address, excess)
			})
		}

		if pos.Collateral, err = domain.Sub(pos.Collateral, spent); err != nil {
			return fmt.Errorf("engine.Rebalance: collateral: %w", err)
		}
		if pos.Debt, err = domain.Sub(pos.Debt, repaid); err != nil {
			return fmt.Errorf("engine.Rebalance: debt: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}

	ev := domain.NewEvent(domain.EventPositionRebalanced, account)
	ev.CollateralSpent = spent
	ev.DebtRepaid = repaid
	ev.Excess = excess
	e.emit(ctx, ev)
	return ev, nil
}

// GetPosition devuelve la posición de la cuenta, o la posición cero.
func (e *Engine) GetPosition(ctx context.Context, account common.Address) (domain.Position, error) {
	pos, err := e.store.Position(ctx, account)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine.GetPosition: %w", err)
	}
	return pos, nil
}

// CollateralRatio devuelve el ratio actual escalado por domain.RatioScale.
// defined es false si no hay deuda, y entonces no se consulta el oráculo.
func (e *Engine) CollateralRatio(ctx context.Context, account common.Address) (ratio *uint256.Int, defined bool, err error) {
	pos, err := e.store.Position(ctx, account)
	if err != nil {
		return nil, false, fmt.Errorf("engine.CollateralRatio: %w", err)
	}
	if !pos.HasDebt() {
		return nil, false, nil
	}
	val, err := e.Snapshot(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("engine.CollateralRatio: %w", err)
	}
	ratio, defined, err = val.Ratio(pos.Collateral, pos.Debt)
	if err != nil {
		return nil, false, fmt.Errorf("engine.CollateralRatio: %w", err)
	}
	return ratio, defined, nil
}

// mutate ejecuta fn con el lock de la cuenta dentro de un update atómico del
// ledger. Si el update no se confirma se compensan los efectos externos de fn.
func (e *Engine) mutate(ctx context.Context, op string, account common.Address, fn func(*domain.Position, *undoLog) error) error {
	unlock := e.locks.lock(account)
	defer unlock()

	undo := &undoLog{}
	err := e.store.Update(ctx, account, func(pos *domain.Position) error {
		return fn(pos, undo)
	})
	if err != nil {
		undo.unwind(ctx, op)
		slog.Debug("engine: operation rejected", "op", op, "account", account.Hex(), "err", err)
		return err
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	slog.Info("engine: "+string(ev.Kind), eventAttrs(ev)...)
	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			slog.Warn("engine: event sink failed", "kind", ev.Kind, "id", ev.ID, "err", err)
		}
	}
}

func eventAttrs(ev domain.Event) []any {
	attrs := []any{"account", ev.Account.Hex()}
	add := func(key string, v *uint256.Int) {
		if v != nil {
			attrs = append(attrs, key, v.Dec())
		}
	}
	add("amount", ev.Amount)
	add("refund", ev.Refund)
	add("fee", ev.Fee)
	add("collateral_spent", ev.CollateralSpent)
	add("debt_repaid", ev.DebtRepaid)
	add("excess", ev.Excess)
	return attrs
}

func positive(x *uint256.Int) bool {
	return x != nil && !x.IsZero()
}

func transferErr(err error) error {
	if errors.Is(err, domain.ErrTransferFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
}
