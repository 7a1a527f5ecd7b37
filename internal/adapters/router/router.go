package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/cdpusd/internal/adapters/token"
	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInvalidRoute: la ruta no empieza en el token de colateral o no acaba en
// el pegged.
var ErrInvalidRoute = errors.New("invalid route")

// Config identifica el venue y los dos tokens que opera.
type Config struct {
	Address         common.Address
	CollateralToken common.Address
	PeggedToken     common.Address
}

// Router es un venue de swap en proceso con su propia liquidez de pegged.
// Implementa ports.SwapRouter.
type Router struct {
	cfg        Config
	collateral *token.Ledger
	pegged     *token.Ledger
	quoter     Quoter

	mu sync.Mutex
}

func New(cfg Config, collateral, pegged *token.Ledger, quoter Quoter) *Router {
	return &Router{cfg: cfg, collateral: collateral, pegged: pegged, quoter: quoter}
}

func (r *Router) Address() common.Address { return r.cfg.Address }

// Route devuelve el camino directo colateral → pegged.
func (r *Router) Route() []common.Address {
	return []common.Address{r.cfg.CollateralToken, r.cfg.PeggedToken}
}

// Swap cobra req.AmountIn de colateral a req.Payer (que tiene que haber
// aprobado el venue) y paga el pegged cotizado a req.Recipient.
func (r *Router) Swap(ctx context.Context, req domain.SwapRequest) (*uint256.Int, error) {
	if err := r.checkRoute(req.Route); err != nil {
		return nil, fmt.Errorf("router.Swap: %w", err)
	}
	if req.AmountIn == nil || req.AmountIn.IsZero() {
		return nil, fmt.Errorf("router.Swap: amount in: %w", domain.ErrInvalidAmount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := r.quoter.Quote(ctx, req.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("router.Swap: quote: %w", err)
	}
	if req.AmountOutMin != nil && out.Lt(req.AmountOutMin) {
		return nil, fmt.Errorf("router.Swap: out %s below min %s: %w",
			out.Dec(), req.AmountOutMin.Dec(), domain.ErrSlippageExceeded)
	}
	liquidity, err := r.pegged.BalanceOf(ctx, r.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("router.Swap: liquidity: %w", err)
	}
	if liquidity.Lt(out) {
		return nil, fmt.Errorf("router.Swap: liquidity %s below out %s: %w",
			liquidity.Dec(), out.Dec(), domain.ErrInsufficientBalance)
	}

	if err := r.collateral.TransferFrom(ctx, r.cfg.Address, req.Payer, r.cfg.Address, req.AmountIn); err != nil {
		return nil, fmt.Errorf("router.Swap: pull collateral: %w", err)
	}
	if err := r.pegged.Transfer(ctx, r.cfg.Address, req.Recipient, out); err != nil {
		if rerr := r.collateral.Transfer(ctx, r.cfg.Address, req.Payer, req.AmountIn); rerr != nil {
			slog.Error("router: collateral refund failed", "payer", req.Payer.Hex(), "err", rerr)
		}
		return nil, fmt.Errorf("router.Swap: pay out: %w", err)
	}

	slog.Debug("router: swapped",
		"in", req.AmountIn.Dec(), "out", out.Dec(), "recipient", req.Recipient.Hex())
	return out, nil
}

func (r *Router) checkRoute(route []common.Address) error {
	if len(route) < 2 {
		return fmt.Errorf("%d hops: %w", len(route), ErrInvalidRoute)
	}
	if route[0] != r.cfg.CollateralToken {
		return fmt.Errorf("starts at %s: %w", route[0].Hex(), ErrInvalidRoute)
	}
	if last := route[len(route)-1]; last != r.cfg.PeggedToken {
		return fmt.Errorf("ends at %s: %w", last.Hex(), ErrInvalidRoute)
	}
	return nil
}
