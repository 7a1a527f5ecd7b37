package ports

import (
	"context"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PositionStore persiste las posiciones. No contiene reglas de negocio: todas
// las validaciones viven en el engine.
type PositionStore interface {
	// Position devuelve la posición de la cuenta; la posición cero si no existe.
	Position(ctx context.Context, account common.Address) (domain.Position, error)

	// Update hace un read-modify-write atómico. fn recibe una copia; el cambio
	// solo se persiste si fn devuelve nil y el commit no falla. Las posiciones
	// que quedan en cero se eliminan.
	Update(ctx context.Context, account common.Address, fn func(*domain.Position) error) error

	// Positions devuelve todas las posiciones no nulas.
	Positions(ctx context.Context) ([]domain.Position, error)
}

// EventStore es el journal de eventos consultable por cuenta.
type EventStore interface {
	EventSink
	Events(ctx context.Context, account common.Address) ([]domain.Event, error)
}
