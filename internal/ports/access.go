package ports

import (
	"context"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Authorizer comprueba que el llamante tiene una capacidad.
type Authorizer interface {
	// Authorize devuelve un error que envuelve domain.ErrUnauthorized si caller
	// no tiene role.
	Authorize(ctx context.Context, caller common.Address, role domain.Role) error
}
