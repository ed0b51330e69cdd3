package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Holding es una posición valorada, lista para presentar o persistir.
type Holding struct {
	Name     string  `json:"name"`
	ISIN     string  `json:"isin"`
	AvgCost  float64 `json:"avgCost"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	BuyCost  float64 `json:"buyCost"`
	NetValue float64 `json:"netValue"`
	Diff     float64 `json:"diff"`
	DiffPct  float64 `json:"diffP"`
}

// OverviewSummary agrega los totales del portfolio.
type OverviewSummary struct {
	TotalBuyCost  float64 `json:"totalBuyCost"`
	TotalNetValue float64 `json:"totalNetValue"`
	Diff          float64 `json:"diff"`
	DiffPct       float64 `json:"diffP"`
	Cash          float64 `json:"cash"`
	Total         float64 `json:"total"`
	TotalWithNet  float64 `json:"totalWithNet"`
}

// Overview es el resultado completo de una valoración: posiciones
// ordenadas por valor descendente más el resumen con efectivo.
type Overview struct {
	Positions []Holding       `json:"positions"`
	Summary   OverviewSummary `json:"summary"`
}

// BuildOverview calcula coste de compra, diferencia y porcentaje por
// posición y los totales. Las posiciones llegan ya valoradas (NetValue
// calculado); aquí solo se agrega y se da formato.
func BuildOverview(positions []Position, cash decimal.Decimal) Overview {
	totalBuyCost := decimal.Zero
	totalNetValue := decimal.Zero

	holdings := make([]Holding, 0, len(positions))
	for _, pos := range positions {
		buyCost := RoundMoney(pos.AverageCost.Mul(pos.Quantity))
		diff := pos.NetValue.Sub(buyCost)

		diffPct := decimal.Zero
		if !buyCost.IsZero() {
			diffPct = pos.NetValue.Div(buyCost).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
		}

		totalBuyCost = totalBuyCost.Add(buyCost)
		totalNetValue = totalNetValue.Add(pos.NetValue)

		holdings = append(holdings, Holding{
			Name:     pos.Name,
			ISIN:     pos.InstrumentID,
			AvgCost:  pos.AverageCost.InexactFloat64(),
			Quantity: pos.Quantity.InexactFloat64(),
			Price:    pos.Price.InexactFloat64(),
			BuyCost:  buyCost.InexactFloat64(),
			NetValue: pos.NetValue.InexactFloat64(),
			Diff:     diff.InexactFloat64(),
			DiffPct:  diffPct.InexactFloat64(),
		})
	}

	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].NetValue > holdings[j].NetValue
	})

	diff := totalNetValue.Sub(totalBuyCost)
	diffPct := decimal.Zero
	if !totalBuyCost.IsZero() {
		diffPct = totalNetValue.Div(totalBuyCost).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
	}

	return Overview{
		Positions: holdings,
		Summary: OverviewSummary{
			TotalBuyCost:  totalBuyCost.InexactFloat64(),
			TotalNetValue: totalNetValue.InexactFloat64(),
			Diff:          diff.InexactFloat64(),
			DiffPct:       diffPct.InexactFloat64(),
			Cash:          cash.InexactFloat64(),
			Total:         cash.Add(totalBuyCost).InexactFloat64(),
			TotalWithNet:  cash.Add(totalNetValue).InexactFloat64(),
		},
	}
}
