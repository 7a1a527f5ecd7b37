package ports

import (
	"context"

	"github.com/alejandrodnm/cdpusd/internal/domain"
)

// PriceFeed es el lado de lectura del oráculo colateral/USD.
type PriceFeed interface {
	// Decimals es la precisión con que el feed escala los precios.
	Decimals(ctx context.Context) (uint8, error)

	// LatestRound devuelve el último round publicado. Falla con
	// domain.ErrNoData si aún no hay ninguno.
	LatestRound(ctx context.Context) (domain.PriceRound, error)
}
