package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/trfolio/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// PublishOverview imprime la valoración en el modo configurado.
func (c *Console) PublishOverview(_ context.Context, ov domain.Overview) error {
	if c.table {
		c.printTable(ov)
	}
	c.printSummary(ov)
	return nil
}

// printTable imprime todas las posiciones valoradas.
func (c *Console) printTable(ov domain.Overview) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Name", "ISIN", "Qty", "AvgCost", "Price", "BuyCost", "NetValue", "Δ", "Δ%")

	for i, pos := range ov.Positions {
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(pos.Name, 25),
			pos.ISIN,
			fmt.Sprintf("%.6f", pos.Quantity),
			fmt.Sprintf("%.2f", pos.AvgCost),
			fmt.Sprintf("%.2f", pos.Price),
			fmt.Sprintf("%.2f", pos.BuyCost),
			fmt.Sprintf("%.2f", pos.NetValue),
			fmt.Sprintf("%+.2f", pos.Diff),
			fmt.Sprintf("%+.1f%%", pos.DiffPct),
		)
	}

	table.Render()
}

// printSummary imprime los totales en una línea compacta.
func (c *Console) printSummary(ov domain.Overview) {
	now := time.Now().Format("15:04:05")
	s := ov.Summary
	fmt.Fprintf(c.out, "[%s] %d positions | invested %.2f → %.2f (%+.2f, %+.1f%%) | cash %.2f | total %.2f\n",
		now, len(ov.Positions), s.TotalBuyCost, s.TotalNetValue, s.Diff, s.DiffPct, s.Cash, s.TotalWithNet)
}

// truncate corta un nombre largo para que la tabla quepa en pantalla.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
