package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// PriceRound es una observación publicada por el oráculo.
type PriceRound struct {
	RoundID   uint64       // empieza en 1, estrictamente creciente
	Price     *uint256.Int // escalado por los decimales del feed
	UpdatedAt time.Time
}

// Age devuelve la antigüedad del round respecto a now.
func (r PriceRound) Age(now time.Time) time.Duration {
	if r.UpdatedAt.IsZero() {
		return 0
	}
	return now.Sub(r.UpdatedAt)
}
