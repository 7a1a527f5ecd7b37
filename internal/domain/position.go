package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// RatioScale da a los ratios dos decimales implícitos de porcentaje:
	// 100_000 se lee como 1000%.
	RatioScale = 10_000
	// BpsScale es el denominador de los fees en basis points.
	BpsScale = 10_000

	// DefaultMinMintRatio es el mínimo para mint (1000%, 10x colateralizado).
	DefaultMinMintRatio = 100_000
	// DefaultLiquidationRatio es el umbral del keeper (300%).
	DefaultLiquidationRatio = 30_000
	// DefaultCloseFeeBps es la parte del colateral que se quema al cerrar (5%).
	DefaultCloseFeeBps = 500
)

// Position es el par colateral/deuda que el engine guarda por cuenta.
// Collateral va en la unidad mínima del colateral y Debt en la del pegged.
type Position struct {
	Account    common.Address
	Collateral *uint256.Int
	Debt       *uint256.Int
}

// NewPosition devuelve la posición cero implícita de una cuenta.
func NewPosition(account common.Address) Position {
	return Position{
		Account:    account,
		Collateral: new(uint256.Int),
		Debt:       new(uint256.Int),
	}
}

// Clone devuelve una copia profunda.
func (p Position) Clone() Position {
	out := NewPosition(p.Account)
	if p.Collateral != nil {
		out.Collateral.Set(p.Collateral)
	}
	if p.Debt != nil {
		out.Debt.Set(p.Debt)
	}
	return out
}

// IsZero indica si ambos saldos son cero. Una posición cero no se distingue
// de una cuenta que nunca usó el engine.
func (p Position) IsZero() bool {
	return (p.Collateral == nil || p.Collateral.IsZero()) &&
		(p.Debt == nil || p.Debt.IsZero())
}

// HasDebt indica si la posición debe pegged.
func (p Position) HasDebt() bool {
	return p.Debt != nil && !p.Debt.IsZero()
}

// Ratio calcula value * RatioScale / debt. ok es false sin deuda: el ratio
// no está definido y la posición cuenta como sana.
func Ratio(value, debt *uint256.Int) (ratio *uint256.Int, ok bool, err error) {
	if debt == nil || debt.IsZero() {
		return nil, false, nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(value, uint256.NewInt(RatioScale), debt)
	if overflow {
		return nil, false, ErrOverflow
	}
	return out, true, nil
}

// Add devuelve a+b o ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Sub devuelve a-b. El underflow nunca hace wrap: falla con ErrOverflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Min devuelve una copia del menor de a y b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// BpsOf devuelve amount * bps / BpsScale, redondeando hacia abajo.
func BpsOf(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), uint256.NewInt(BpsScale))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}
