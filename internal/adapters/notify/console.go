package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier: imprime el informe del keeper.
type Console struct {
	out    io.Writer
	table  bool
	colDec uint8
	pegDec uint8
}

// NewConsole crea un notificador que escribe a stdout. Los decimales son los
// de los assets de colateral y pegged, para mostrar importes legibles.
func NewConsole(table bool, colDec, pegDec uint8) *Console {
	return &Console{out: os.Stdout, table: table, colDec: colDec, pegDec: pegDec}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, colDec: 18, pegDec: 18}
}

// Notify imprime el informe en el modo configurado.
func (c *Console) Notify(_ context.Context, r domain.KeeperReport) error {
	now := r.StartedAt.Local().Format("15:04:05")
	if len(r.Entries) == 0 {
		fmt.Fprintf(c.out, "[%s] no positions to watch\n", now)
		return nil
	}

	if c.table {
		c.printFull(r)
	} else {
		c.printCompact(r)
	}
	return nil
}

// printCompact imprime una línea por ciclo con las posiciones tocadas.
func (c *Console) printCompact(r domain.KeeperReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d pos → rebal:%d ok:%d skip:%d fail:%d",
		r.StartedAt.Local().Format("15:04:05"), len(r.Entries),
		r.Count(domain.KeeperRebalanced), r.Count(domain.KeeperHealthy),
		r.Count(domain.KeeperSkipped), r.Count(domain.KeeperFailed))

	for _, e := range r.Entries {
		switch e.Action {
		case domain.KeeperRebalanced:
			fmt.Fprintf(&sb, " | %s %s -%s col -%s debt",
				shortAddr(e.Account.Hex()), domain.FormatRatio(e.Ratio),
				domain.FormatUnits(e.Event.CollateralSpent, c.colDec),
				domain.FormatUnits(e.Event.DebtRepaid, c.pegDec))
		case domain.KeeperFailed:
			fmt.Fprintf(&sb, " | %s FAIL", shortAddr(e.Account.Hex()))
		}
	}
	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime la tabla completa del ciclo.
func (c *Console) printFull(r domain.KeeperReport) {
	fmt.Fprintf(c.out, "\n[%s] keeper cycle: %d positions, threshold %s, %s\n",
		r.StartedAt.Local().Format("15:04:05"), len(r.Entries),
		domain.FormatRatio(r.Threshold), r.Duration.Round(time.Millisecond))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Account", "Collateral", "Debt", "Ratio", "Action", "Detail")
	for i, e := range r.Entries {
		table.Append(
			fmt.Sprintf("%d", i+1),
			e.Account.Hex(),
			domain.FormatUnits(e.Collateral, c.colDec),
			domain.FormatUnits(e.Debt, c.pegDec),
			domain.FormatRatio(e.Ratio),
			string(e.Action),
			c.detail(e),
		)
	}
	table.Render()
}

func (c *Console) detail(e domain.KeeperEntry) string {
	switch {
	case e.Err != nil:
		return truncate(e.Err.Error(), 60)
	case e.Event != nil:
		s := fmt.Sprintf("spent %s, repaid %s",
			domain.FormatUnits(e.Event.CollateralSpent, c.colDec),
			domain.FormatUnits(e.Event.DebtRepaid, c.pegDec))
		if e.Event.Excess != nil && !e.Event.Excess.IsZero() {
			s += ", excess " + domain.FormatUnits(e.Event.Excess, c.pegDec)
		}
		return s
	}
	return ""
}

// shortAddr acorta 0x1234…abcd para la vista compacta.
func shortAddr(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
