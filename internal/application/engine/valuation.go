package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/holiman/uint256"
)

// maxPow10 es el mayor exponente cuya potencia de diez cabe en 256 bits.
const maxPow10 = 77

// Valuation es una foto inmutable del precio. Cada operación toma una al
// empezar y no ve cambios de precio a mitad.
type Valuation struct {
	Round              domain.PriceRound
	PriceDecimals      uint8
	CollateralDecimals uint8
	PeggedDecimals     uint8
}

// Snapshot lee el oráculo una vez. Sin round o con precio no positivo
// devuelve domain.ErrOracleUnavailable.
func (e *Engine) Snapshot(ctx context.Context) (Valuation, error) {
	priceDec, err := e.oracle.Decimals(ctx)
	if err != nil {
		return Valuation{}, fmt.Errorf("engine.Snapshot: oracle decimals: %w", oracleErr(err))
	}
	round, err := e.oracle.LatestRound(ctx)
	if err != nil {
		return Valuation{}, fmt.Errorf("engine.Snapshot: latest round: %w", oracleErr(err))
	}
	if round.Price == nil || round.Price.IsZero() {
		return Valuation{}, fmt.Errorf("engine.Snapshot: round %d: %w: %w",
			round.RoundID, domain.ErrOracleUnavailable, domain.ErrInvalidPrice)
	}
	colDec, err := e.collateral.Decimals(ctx)
	if err != nil {
		return Valuation{}, fmt.Errorf("engine.Snapshot: collateral decimals: %w", err)
	}
	pegDec, err := e.pegged.Decimals(ctx)
	if err != nil {
		return Valuation{}, fmt.Errorf("engine.Snapshot: pegged decimals: %w", err)
	}
	return Valuation{
		Round:              round,
		PriceDecimals:      priceDec,
		CollateralDecimals: colDec,
		PeggedDecimals:     pegDec,
	}, nil
}

func oracleErr(err error) error {
	if errors.Is(err, domain.ErrOracleUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
}

// exponent = peggedDecimals - collateralDecimals - priceDecimals.
func (v Valuation) exponent() int {
	return int(v.PeggedDecimals) - int(v.CollateralDecimals) - int(v.PriceDecimals)
}

// ValueOf pasa una cantidad de colateral a unidades de pegged:
// collateral * price * 10^exponent, multiplicando antes de la única división.
func (v Valuation) ValueOf(collateral *uint256.Int) (*uint256.Int, error) {
	if collateral == nil || collateral.IsZero() {
		return new(uint256.Int), nil
	}
	exp := v.exponent()
	if exp >= 0 {
		scale, err := pow10(exp)
		if err != nil {
			return nil, err
		}
		out, overflow := new(uint256.Int).MulOverflow(collateral, v.Round.Price)
		if overflow {
			return nil, domain.ErrOverflow
		}
		if _, overflow = out.MulOverflow(out, scale); overflow {
			return nil, domain.ErrOverflow
		}
		return out, nil
	}
	div, err := pow10(-exp)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulDivOverflow(collateral, v.Round.Price, div)
	if overflow {
		return nil, domain.ErrOverflow
	}
	return out, nil
}

// CollateralFor es la inversa de ValueOf redondeando hacia arriba. Con precio
// <= 1 pegged por unidad de colateral da el menor colateral cuyo valor cubre
// pegged; por encima recupera la cantidad original exacta.
func (v Valuation) CollateralFor(pegged *uint256.Int) (*uint256.Int, error) {
	if pegged == nil || pegged.IsZero() {
		return new(uint256.Int), nil
	}
	exp := v.exponent()
	if exp <= 0 {
		scale, err := pow10(-exp)
		if err != nil {
			return nil, err
		}
		return mulDivCeil(pegged, scale, v.Round.Price)
	}
	scale, err := pow10(exp)
	if err != nil {
		return nil, err
	}
	div, overflow := new(uint256.Int).MulOverflow(v.Round.Price, scale)
	if overflow {
		return nil, domain.ErrOverflow
	}
	return mulDivCeil(pegged, uint256.NewInt(1), div)
}

// Ratio = ValueOf(collateral) * RatioScale / debt; ok es false sin deuda.
func (v Valuation) Ratio(collateral, debt *uint256.Int) (*uint256.Int, bool, error) {
	if debt == nil || debt.IsZero() {
		return nil, false, nil
	}
	value, err := v.ValueOf(collateral)
	if err != nil {
		return nil, false, err
	}
	return domain.Ratio(value, debt)
}

func pow10(n int) (*uint256.Int, error) {
	if n < 0 || n > maxPow10 {
		return nil, domain.ErrOverflow
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n))), nil
}

func mulDivCeil(x, y, d *uint256.Int) (*uint256.Int, error) {
	q, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, domain.ErrOverflow
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if _, overflow = q.AddOverflow(q, uint256.NewInt(1)); overflow {
			return nil, domain.ErrOverflow
		}
	}
	return q, nil
}
