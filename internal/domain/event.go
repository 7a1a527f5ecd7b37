package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventKind nombra el registro de auditoría que emite cada operación.
type EventKind string

const (
	EventCollateralDeposited EventKind = "CollateralDeposited"
	EventStablecoinMinted    EventKind = "StablecoinMinted"
	EventCollateralWithdrawn EventKind = "CollateralWithdrawn"
	EventPositionClosed      EventKind = "PositionClosed"
	EventPositionRebalanced  EventKind = "PositionRebalanced"
)

// Event es el resultado de una operación del engine con éxito. Sólo se
// rellenan los campos que aplican a Kind; el resto queda a nil.
type Event struct {
	ID      uuid.UUID
	Kind    EventKind
	Account common.Address

	Amount *uint256.Int // deposit, mint, withdraw

	Refund *uint256.Int // close
	Fee    *uint256.Int // close

	CollateralSpent *uint256.Int // rebalance
	DebtRepaid      *uint256.Int // rebalance
	Excess          *uint256.Int // rebalance: pegged por encima de la deuda, enviado a la cuenta

	At time.Time
}

// NewEvent crea un evento con ID aleatorio y la hora actual.
func NewEvent(kind EventKind, account common.Address) Event {
	return Event{
		ID:      uuid.New(),
		Kind:    kind,
		Account: account,
		At:      time.Now().UTC(),
	}
}

// SwapRequest pide al venue cambiar como mucho AmountIn de colateral por al
// menos AmountOutMin de pegged siguiendo Route.
type SwapRequest struct {
	AmountIn     *uint256.Int
	AmountOutMin *uint256.Int
	Route        []common.Address
	Payer        common.Address // de dónde sale el colateral
	Recipient    common.Address // quién recibe el pegged
}

// RebalanceRequest son los parámetros del keeper para un paso de rebalance.
type RebalanceRequest struct {
	Account         common.Address
	MaxCollateralIn *uint256.Int
	MinPeggedOut    *uint256.Int
	Route           []common.Address
}
