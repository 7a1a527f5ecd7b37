package ports

import (
	"context"

	"github.com/alejandrodnm/cdpusd/internal/domain"
)

// Notifier presenta el resultado de cada ciclo del keeper.
type Notifier interface {
	Notify(ctx context.Context, report domain.KeeperReport) error
}
