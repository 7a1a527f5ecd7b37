package ports

import (
	"context"

	"github.com/alejandrodnm/cdpusd/internal/domain"
)

// EventSink recibe el registro de cada operación del engine con éxito. Un sink
// nunca cambia el resultado: si falla se loguea y se ignora.
type EventSink interface {
	Publish(ctx context.Context, ev domain.Event) error
}
