package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/application/keeper"
	"github.com/alejandrodnm/cdpusd/internal/domain"
)

const stopFile = "STOP_KEEPER"

// runKeeper ejecuta un ciclo al arrancar y luego uno por tick, hasta señal o
// hasta que aparezca el fichero STOP_KEEPER.
func runKeeper(ctx context.Context, k *keeper.Keeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("keeper started: press Ctrl+C or create "+stopFile+" to exit", "interval", interval)

	cycle := 1
	runKeeperCycle(ctx, k, cycle)

	for {
		select {
		case <-ctx.Done():
			slog.Info("keeper stopped (signal)", "total_cycles", cycle)
			return
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info(stopFile+" detected, shutting down keeper", "total_cycles", cycle)
				os.Remove(stopFile)
				return
			}
			cycle++
			runKeeperCycle(ctx, k, cycle)
		}
	}
}

// runKeeperCycle devuelve false si el ciclo no pudo ni listar posiciones.
func runKeeperCycle(ctx context.Context, k *keeper.Keeper, cycle int) bool {
	report, err := k.RunOnce(ctx)
	if err != nil {
		slog.Error("keeper cycle failed", "cycle", cycle, "err", err)
		return false
	}
	if n := report.Count(domain.KeeperFailed); n > 0 {
		slog.Warn("keeper: cycle with failures", "cycle", cycle, "failed", n)
	}
	return true
}
