package router

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/alejandrodnm/cdpusd/internal/ports"
	"github.com/holiman/uint256"
)

// Quoter cotiza un swap de amountIn de colateral en unidades de pegged.
type Quoter interface {
	Quote(ctx context.Context, amountIn *uint256.Int) (*uint256.Int, error)
}

// FixedOutput paga siempre lo mismo, sea cual sea la entrada. Es el venue
// mock con el que se fija el camino de liquidación.
type FixedOutput struct {
	Amount *uint256.Int
}

func (f FixedOutput) Quote(context.Context, *uint256.Int) (*uint256.Int, error) {
	return f.Amount.Clone(), nil
}

// OracleQuote cotiza al precio del oráculo menos FeeBps.
type OracleQuote struct {
	Feed               ports.PriceFeed
	CollateralDecimals uint8
	PeggedDecimals     uint8
	FeeBps             uint64
}

func (q OracleQuote) Quote(ctx context.Context, amountIn *uint256.Int) (*uint256.Int, error) {
	priceDec, err := q.Feed.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("router.OracleQuote: decimals: %w", err)
	}
	round, err := q.Feed.LatestRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("router.OracleQuote: latest round: %w", err)
	}

	// numerador y divisor a la misma escala antes de una única división
	num := new(uint256.Int).SetUint64(domain.BpsScale - min(q.FeeBps, domain.BpsScale))
	den := uint256.NewInt(domain.BpsScale)
	exp := int(q.PeggedDecimals) - int(q.CollateralDecimals) - int(priceDec)
	ten := uint256.NewInt(10)
	for ; exp > 0; exp-- {
		if _, overflow := num.MulOverflow(num, ten); overflow {
			return nil, fmt.Errorf("router.OracleQuote: %w", domain.ErrOverflow)
		}
	}
	for ; exp < 0; exp++ {
		if _, overflow := den.MulOverflow(den, ten); overflow {
			return nil, fmt.Errorf("router.OracleQuote: %w", domain.ErrOverflow)
		}
	}

	scaled, overflow := new(uint256.Int).MulOverflow(amountIn, num)
	if overflow {
		return nil, fmt.Errorf("router.OracleQuote: %w", domain.ErrOverflow)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(scaled, round.Price, den)
	if overflow {
		return nil, fmt.Errorf("router.OracleQuote: %w", domain.ErrOverflow)
	}
	return out, nil
}
