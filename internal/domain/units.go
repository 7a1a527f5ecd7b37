package domain

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// maxUnitDigits es el número de dígitos decimales de 2^256-1.
const maxUnitDigits = 78

// ParseUnits convierte una cantidad legible ("1000", "0.2") a la unidad mínima
// de un asset con los decimales dados. Rechaza negativos y fracciones que no
// caben en esa precisión.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("domain.ParseUnits: empty amount: %w", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("domain.ParseUnits: parse %q: %w", s, ErrInvalidAmount)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("domain.ParseUnits: negative amount %q: %w", s, ErrInvalidAmount)
	}
	// acotar el exponente antes de materializar: "1e50000000" son 10 bytes
	coef := d.Coefficient()
	if coef.Sign() == 0 {
		return new(uint256.Int), nil
	}
	digits := int64(len(coef.String()))
	exp := int64(d.Exponent()) + int64(decimals)
	if exp > 0 && digits+exp > maxUnitDigits {
		return nil, fmt.Errorf("domain.ParseUnits: %q: %w", s, ErrOverflow)
	}
	if -exp > digits {
		return nil, fmt.Errorf("domain.ParseUnits: %q has more than %d decimals: %w", s, decimals, ErrInvalidAmount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("domain.ParseUnits: %q has more than %d decimals: %w", s, decimals, ErrInvalidAmount)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("domain.ParseUnits: %q: %w", s, ErrOverflow)
	}
	return out, nil
}

// FormatUnits es la inversa de ParseUnits: 1500000000000000000 con 18
// decimales → "1.5".
func FormatUnits(x *uint256.Int, decimals uint8) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -int32(decimals)).String()
}

// FormatRatio muestra un ratio escalado por RatioScale como porcentaje
// ("1000.00%").
func FormatRatio(ratio *uint256.Int) string {
	if ratio == nil {
		return "∞"
	}
	// RatioScale = 10_000 → 100% por unidad, dos decimales implícitos.
	return decimal.NewFromBigInt(ratio.ToBig(), -2).StringFixed(2) + "%"
}
