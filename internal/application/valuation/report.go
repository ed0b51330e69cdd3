package valuation

// report.go — informe de valoración para la capa web.
//
// Camino independiente del socket: valora posiciones que el
// colaborador externo ya conoce (ISIN, cantidad neta, total invertido)
// usando la fuente de mercado concurrente.

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/trfolio/internal/domain"
	"github.com/alejandrodnm/trfolio/internal/ports"
)

// BuildReport valora las posiciones dadas con precios de la fuente de
// mercado y devuelve el informe serializable que consume la capa web.
// Cuando el precio de un ISIN no se pudo obtener, la posición cae al
// precio medio de compra en vez de romper el informe completo.
func BuildReport(ctx context.Context, holdings []domain.HoldingInput, source ports.PriceSource, maxConcurrent int) domain.Report {
	isins := make([]string, 0, len(holdings))
	for _, h := range holdings {
		isins = append(isins, h.ISIN)
	}

	prices := source.FetchMany(ctx, isins, maxConcurrent)

	var totalValue, totalInvested float64
	positions := make([]domain.ReportPosition, 0, len(holdings))

	for _, h := range holdings {
		avgPrice := 0.0
		if h.NetQuantity > 0 {
			avgPrice = h.TotalInvested / h.NetQuantity
		}

		name := "Unknown (" + h.ISIN + ")"
		currentPrice := avgPrice

		if res, ok := prices[h.ISIN]; ok {
			if res.Name != "" {
				name = res.Name
			}
			if res.Success {
				currentPrice = res.Price
			} else {
				slog.Warn("falling back to average price", "isin", h.ISIN)
			}
		}

		value := h.NetQuantity * currentPrice
		totalValue += value
		totalInvested += h.TotalInvested

		positions = append(positions, domain.ReportPosition{
			ISIN:          h.ISIN,
			Name:          name,
			Shares:        h.NetQuantity,
			AvgPrice:      avgPrice,
			CurrentPrice:  currentPrice,
			Value:         value,
			TotalInvested: h.TotalInvested,
		})
	}

	gainLossPct := 0.0
	if totalInvested > 0 {
		gainLossPct = (totalValue - totalInvested) / totalInvested * 100
	}

	return domain.Report{
		Positions: positions,
		Summary: domain.ReportSummary{
			TotalValue:       totalValue,
			TotalGainLossPct: gainLossPct,
			HoldingsCount:    len(positions),
		},
	}
}
