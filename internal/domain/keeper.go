package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// KeeperAction es lo que hizo el keeper con una posición en un ciclo.
type KeeperAction string

const (
	KeeperSkipped    KeeperAction = "skip"      // sin deuda
	KeeperHealthy    KeeperAction = "healthy"   // ratio >= umbral
	KeeperRebalanced KeeperAction = "rebalance" // se ejecutó un paso
	KeeperFailed     KeeperAction = "failed"
)

// KeeperEntry es una fila del informe: estado de la posición al evaluarla y,
// si hubo rebalance, el evento resultante.
type KeeperEntry struct {
	Account    common.Address
	Collateral *uint256.Int
	Debt       *uint256.Int
	Ratio      *uint256.Int // nil si no hay deuda
	Action     KeeperAction
	Event      *Event
	Err        error
}

// KeeperReport agrupa el resultado de un ciclo del keeper.
type KeeperReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Threshold *uint256.Int
	Entries   []KeeperEntry
}

// Count devuelve cuántas entradas terminaron con la acción dada.
func (r KeeperReport) Count(action KeeperAction) int {
	n := 0
	for _, e := range r.Entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
