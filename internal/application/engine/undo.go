package engine

import (
	"context"
	"log/slog"
)

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// undoLog guarda las compensaciones de los efectos externos aplicados dentro
// de un update del ledger. Se ejecutan en orden inverso si no hay commit.
type undoLog struct {
	steps []undoStep
}

func (u *undoLog) push(name string, fn func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// unwind ejecuta todas las compensaciones aunque alguna falle. Los fallos se
// loguean: dejan los ledgers de assets desalineados con la posición.
func (u *undoLog) unwind(ctx context.Context, op string) {
	ctx = context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		if err := step.fn(ctx); err != nil {
			slog.Error("engine: compensation failed",
				"op", op, "step", step.name, "err", err)
			continue
		}
		slog.Debug("engine: compensated", "op", op, "step", step.name)
	}
	u.steps = nil
}
