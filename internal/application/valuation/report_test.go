package valuation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/trfolio/internal/application/valuation"
	"github.com/alejandrodnm/trfolio/internal/domain"
)

// fakeSource implementa ports.PriceSource con resultados fijos.
type fakeSource struct {
	results map[string]domain.PriceResult
	gotMax  int
}

func (f *fakeSource) FetchMany(ctx context.Context, isins []string, maxConcurrent int) map[string]domain.PriceResult {
	f.gotMax = maxConcurrent
	out := make(map[string]domain.PriceResult, len(isins))
	for _, isin := range isins {
		if res, ok := f.results[isin]; ok {
			out[isin] = res
		} else {
			out[isin] = domain.PriceResult{ISIN: isin, Name: "Unknown (" + isin + ")"}
		}
	}
	return out
}

func TestBuildReport(t *testing.T) {
	source := &fakeSource{results: map[string]domain.PriceResult{
		"US0378331005": {ISIN: "US0378331005", Name: "Apple", Price: 185, Success: true},
		"IE00B4L5Y983": {ISIN: "IE00B4L5Y983", Name: "MSCI World", Price: 82, Success: true},
	}}

	holdings := []domain.HoldingInput{
		{ISIN: "US0378331005", NetQuantity: 10, TotalInvested: 1500},
		{ISIN: "IE00B4L5Y983", NetQuantity: 100, TotalInvested: 7050},
	}

	report := valuation.BuildReport(context.Background(), holdings, source, 4)
	require.Len(t, report.Positions, 2)
	assert.Equal(t, 4, source.gotMax)

	apple := report.Positions[0]
	assert.Equal(t, "Apple", apple.Name)
	assert.InDelta(t, 150, apple.AvgPrice, 0.001)
	assert.InDelta(t, 185, apple.CurrentPrice, 0.001)
	assert.InDelta(t, 1850, apple.Value, 0.001)

	sum := report.Summary
	assert.Equal(t, 2, sum.HoldingsCount)
	assert.InDelta(t, 1850+8200, sum.TotalValue, 0.001)
	// (10050 - 8550) / 8550 * 100
	assert.InDelta(t, 17.5438, sum.TotalGainLossPct, 0.001)
}

func TestBuildReport_FallsBackToAveragePrice(t *testing.T) {
	source := &fakeSource{results: map[string]domain.PriceResult{}}

	holdings := []domain.HoldingInput{
		{ISIN: "XX0000000000", NetQuantity: 4, TotalInvested: 100},
	}

	report := valuation.BuildReport(context.Background(), holdings, source, 1)
	require.Len(t, report.Positions, 1)

	// Sin precio de mercado, la posición se valora al precio medio de
	// compra: el informe nunca pierde la posición.
	pos := report.Positions[0]
	assert.Equal(t, "Unknown (XX0000000000)", pos.Name)
	assert.InDelta(t, 25, pos.AvgPrice, 0.001)
	assert.InDelta(t, 25, pos.CurrentPrice, 0.001)
	assert.InDelta(t, 100, pos.Value, 0.001)
	assert.Zero(t, report.Summary.TotalGainLossPct)
}

func TestBuildReport_ZeroQuantity(t *testing.T) {
	source := &fakeSource{results: map[string]domain.PriceResult{
		"US0378331005": {ISIN: "US0378331005", Name: "Apple", Price: 185, Success: true},
	}}

	holdings := []domain.HoldingInput{
		{ISIN: "US0378331005", NetQuantity: 0, TotalInvested: 0},
	}

	report := valuation.BuildReport(context.Background(), holdings, source, 1)
	require.Len(t, report.Positions, 1)
	assert.Zero(t, report.Positions[0].AvgPrice)
	assert.Zero(t, report.Positions[0].Value)
}
