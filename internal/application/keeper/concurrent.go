package keeper

// concurrent.go: worker pool para evaluar posiciones en paralelo. Cuentas
// distintas pueden rebalancearse a la vez; el engine serializa por cuenta y
// el rate limiter acota el ritmo global de rebalances.

import (
	"context"
	"sync"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// evaluateConcurrent devuelve una entrada por cuenta, en el orden de entrada.
func (k *Keeper) evaluateConcurrent(ctx context.Context, accounts []common.Address) []domain.KeeperEntry {
	entries := make([]domain.KeeperEntry, len(accounts))
	if len(accounts) == 0 {
		return entries
	}

	workers := min(k.cfg.Workers, len(accounts))
	workCh := make(chan int, len(accounts))
	for i := range accounts {
		workCh <- i
	}
	close(workCh)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workCh {
				// cada worker escribe solo su índice: sin mutex
				entries[i] = k.evaluate(ctx, accounts[i])
			}
		}()
	}
	wg.Wait()
	return entries
}
