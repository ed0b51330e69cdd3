package traderepublic

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// routeBroker responde a cada tipo de suscripción con un cuerpo fijo.
func routeBroker(t *testing.T, answers map[string]string) *fakeBroker {
	t.Helper()
	return newFakeBroker(t, func(conn *websocket.Conn, frame string) {
		parts := strings.SplitN(frame, " ", 3)
		if len(parts) < 3 || parts[0] != "sub" {
			return
		}
		var req struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		require.NoError(t, json.Unmarshal([]byte(parts[2]), &req))

		key := req.Type
		if req.ID != "" {
			key = req.Type + ":" + req.ID
		}
		body, ok := answers[key]
		if !ok {
			body = `E{"errors":[{"errorCode":"UNKNOWN"}]}`
		}
		conn.WriteMessage(websocket.TextMessage, []byte(parts[1]+" "+body))
	})
}

func TestCompactPortfolio(t *testing.T) {
	fb := routeBroker(t, map[string]string{
		"compactPortfolio": `A{"positions":[
			{"instrumentId":"US0378331005","netSize":"10","averageBuyIn":"150.00"},
			{"instrumentId":"DE0001102580","netSize":"1000","averageBuyIn":"0.98"}
		]}`,
	})
	c := newWSClient(t, fb, time.Second)

	positions, err := c.CompactPortfolio(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "US0378331005", positions[0].InstrumentID)
	assert.True(t, positions[0].Quantity.Equal(dec("10")))
	assert.True(t, positions[0].AverageCost.Equal(dec("150")))
	assert.False(t, positions[0].FromWatchlist)
}

func TestCash(t *testing.T) {
	fb := routeBroker(t, map[string]string{
		"cash": `A[{"amount":"500.25","currencyId":"EUR"}]`,
	})
	c := newWSClient(t, fb, time.Second)

	balances, err := c.Cash(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].Amount.Equal(dec("500.25")))
	assert.Equal(t, "EUR", balances[0].Currency)
}

func TestWatchlist(t *testing.T) {
	fb := routeBroker(t, map[string]string{
		"watchlist": `A[{"instrumentId":"DE0007164600"}]`,
	})
	c := newWSClient(t, fb, time.Second)

	positions, err := c.Watchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "DE0007164600", positions[0].InstrumentID)
	assert.True(t, positions[0].FromWatchlist)
	assert.True(t, positions[0].Quantity.IsZero())
}

func TestInstrumentDetailsAndTicker(t *testing.T) {
	fb := routeBroker(t, map[string]string{
		"instrument:US0378331005": `A{"shortName":"Apple","exchangeIds":["LSX","TDG"]}`,
		"ticker:US0378331005.LSX": `A{"bid":{"price":"184.90"},"ask":{"price":"185.10"},"last":{"price":"185.00"}}`,
	})
	c := newWSClient(t, fb, time.Second)
	ctx := context.Background()

	inst, err := c.InstrumentDetails(ctx, "US0378331005")
	require.NoError(t, err)
	assert.Equal(t, "Apple", inst.ShortName)
	assert.Equal(t, []string{"LSX", "TDG"}, inst.ExchangeIDs)

	quote, err := c.Ticker(ctx, "US0378331005", "LSX")
	require.NoError(t, err)
	assert.True(t, quote.Last.Equal(dec("185")))
	assert.True(t, quote.Bid.Equal(dec("184.90")))
	assert.True(t, quote.Ask.Equal(dec("185.10")))
}

func TestLimitOrder_RequestShape(t *testing.T) {
	capturedCh := make(chan string, 1)
	fb := newFakeBroker(t, func(conn *websocket.Conn, frame string) {
		parts := strings.SplitN(frame, " ", 3)
		if parts[0] != "sub" {
			return
		}
		capturedCh <- parts[2]
		conn.WriteMessage(websocket.TextMessage, []byte(parts[1]+` A{"orderId":"ord-1"}`))
	})
	c := newWSClient(t, fb, time.Second)

	raw, err := c.LimitOrder(context.Background(), OrderParams{
		ISIN:     "US0378331005",
		Exchange: "LSX",
		Side:     "buy",
		Size:     2,
		Expiry:   "gtd",
		ExpiryDate: "2026-12-31",
	}, 180.50)
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":"ord-1"}`, string(raw))

	captured := <-capturedCh
	var req struct {
		Type            string `json:"type"`
		ClientProcessID string `json:"clientProcessId"`
		Parameters      struct {
			InstrumentID string  `json:"instrumentId"`
			ExchangeID   string  `json:"exchangeId"`
			Mode         string  `json:"mode"`
			Limit        float64 `json:"limit"`
			Size         float64 `json:"size"`
			OrderType    string  `json:"type"`
			Expiry       struct {
				Type  string `json:"type"`
				Value string `json:"value"`
			} `json:"expiry"`
		} `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal([]byte(captured), &req))

	assert.Equal(t, "simpleCreateOrder", req.Type)
	assert.NotEmpty(t, req.ClientProcessID)
	assert.Equal(t, "limit", req.Parameters.Mode)
	assert.Equal(t, "buy", req.Parameters.OrderType)
	assert.InDelta(t, 180.50, req.Parameters.Limit, 0.001)
	assert.Equal(t, "gtd", req.Parameters.Expiry.Type)
	assert.Equal(t, "2026-12-31", req.Parameters.Expiry.Value)
}
