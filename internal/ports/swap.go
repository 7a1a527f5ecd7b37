package ports

import (
	"context"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/holiman/uint256"
)

// SwapRouter cambia colateral por pegged en un venue externo. El engine no
// controla el precio.
type SwapRouter interface {
	// Swap devuelve el pegged pagado a req.Recipient, siempre
	// >= req.AmountOutMin; si no, falla con domain.ErrSlippageExceeded.
	Swap(ctx context.Context, req domain.SwapRequest) (*uint256.Int, error)
}
