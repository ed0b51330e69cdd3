package traderepublic

// subscriptions.go — operaciones tipadas sobre el socket.
//
// Cada operación es un wrapper síncrono explícito sobre Do: construye
// la petición, espera una respuesta y la parsea a tipos del dominio.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/trfolio/internal/domain"
)

// wirePosition es una posición tal como llega del broker. Cantidades y
// precios llegan como strings decimales.
type wirePosition struct {
	InstrumentID string          `json:"instrumentId"`
	NetSize      decimal.Decimal `json:"netSize"`
	AverageBuyIn decimal.Decimal `json:"averageBuyIn"`
}

func (w wirePosition) toDomain() domain.Position {
	return domain.Position{
		InstrumentID: w.InstrumentID,
		Quantity:     w.NetSize,
		AverageCost:  w.AverageBuyIn,
	}
}

// CompactPortfolio devuelve las posiciones actuales de la cuenta.
func (c *Client) CompactPortfolio(ctx context.Context) ([]domain.Position, error) {
	raw, err := c.Do(ctx, map[string]any{"type": "compactPortfolio"})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Positions []wirePosition `json:"positions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("traderepublic: parse compactPortfolio: %w", err)
	}
	positions := make([]domain.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		positions = append(positions, p.toDomain())
	}
	return positions, nil
}

// Cash devuelve los saldos en efectivo.
func (c *Client) Cash(ctx context.Context) ([]domain.CashBalance, error) {
	raw, err := c.Do(ctx, map[string]any{"type": "cash"})
	if err != nil {
		return nil, err
	}
	var resp []struct {
		Amount     decimal.Decimal `json:"amount"`
		CurrencyID string          `json:"currencyId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("traderepublic: parse cash: %w", err)
	}
	balances := make([]domain.CashBalance, 0, len(resp))
	for _, b := range resp {
		balances = append(balances, domain.CashBalance{Amount: b.Amount, Currency: b.CurrencyID})
	}
	return balances, nil
}

// Watchlist devuelve los instrumentos seguidos. Llegan sin cantidad ni
// coste medio; la valoración los completa después.
func (c *Client) Watchlist(ctx context.Context) ([]domain.Position, error) {
	raw, err := c.Do(ctx, map[string]any{"type": "watchlist"})
	if err != nil {
		return nil, err
	}
	var resp []wirePosition
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("traderepublic: parse watchlist: %w", err)
	}
	positions := make([]domain.Position, 0, len(resp))
	for _, p := range resp {
		pos := p.toDomain()
		pos.FromWatchlist = true
		positions = append(positions, pos)
	}
	return positions, nil
}

// InstrumentDetails devuelve nombre corto y exchanges de un ISIN.
func (c *Client) InstrumentDetails(ctx context.Context, isin string) (domain.Instrument, error) {
	raw, err := c.Do(ctx, map[string]any{"type": "instrument", "id": isin})
	if err != nil {
		return domain.Instrument{}, err
	}
	var resp struct {
		ShortName   string   `json:"shortName"`
		ExchangeIDs []string `json:"exchangeIds"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.Instrument{}, fmt.Errorf("traderepublic: parse instrument %s: %w", isin, err)
	}
	return domain.Instrument{ShortName: resp.ShortName, ExchangeIDs: resp.ExchangeIDs}, nil
}

// Ticker devuelve la cotización del ISIN en el exchange dado.
func (c *Client) Ticker(ctx context.Context, isin, exchange string) (domain.TickerQuote, error) {
	raw, err := c.Do(ctx, map[string]any{"type": "ticker", "id": isin + "." + exchange})
	if err != nil {
		return domain.TickerQuote{}, err
	}
	var resp struct {
		Bid struct {
			Price decimal.Decimal `json:"price"`
		} `json:"bid"`
		Ask struct {
			Price decimal.Decimal `json:"price"`
		} `json:"ask"`
		Last struct {
			Price decimal.Decimal `json:"price"`
		} `json:"last"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.TickerQuote{}, fmt.Errorf("traderepublic: parse ticker %s.%s: %w", isin, exchange, err)
	}
	return domain.TickerQuote{Bid: resp.Bid.Price, Ask: resp.Ask.Price, Last: resp.Last.Price}, nil
}

// Portfolio devuelve el portfolio completo sin parsear, con todos los
// campos que el broker adjunta y que la valoración no necesita.
func (c *Client) Portfolio(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, map[string]any{"type": "portfolio"})
}

// Performance devuelve las métricas de rendimiento del instrumento en
// el exchange dado, sin parsear.
func (c *Client) Performance(ctx context.Context, isin, exchange string) (json.RawMessage, error) {
	return c.Do(ctx, map[string]any{"type": "performance", "id": isin + "." + exchange})
}

// PortfolioHistory devuelve la serie agregada del portfolio para un
// rango ("1d", "1y", "max"...), sin parsear.
func (c *Client) PortfolioHistory(ctx context.Context, timeframe string) (json.RawMessage, error) {
	return c.Do(ctx, map[string]any{"type": "portfolioAggregateHistory", "range": timeframe})
}

// TimelineTransactions pagina el histórico de transacciones; after es
// el cursor de la página anterior, vacío para la primera.
func (c *Client) TimelineTransactions(ctx context.Context, after string) (json.RawMessage, error) {
	req := map[string]any{"type": "timelineTransactions"}
	if after != "" {
		req["after"] = after
	}
	return c.Do(ctx, req)
}

// OrderParams son los parámetros comunes de una orden simple.
type OrderParams struct {
	ISIN     string
	Exchange string
	// Side es "buy" o "sell".
	Side   string
	Size   float64
	Expiry string // "gfd", "gtd", "gtc"
	// ExpiryDate solo aplica con Expiry "gtd".
	ExpiryDate string
}

func (p OrderParams) base(mode string) map[string]any {
	expiry := map[string]any{"type": p.Expiry}
	if p.Expiry == "gtd" && p.ExpiryDate != "" {
		expiry["value"] = p.ExpiryDate
	}
	return map[string]any{
		"type": "simpleCreateOrder",
		// Idempotencia del lado del servidor: cada intento de orden
		// lleva un id de proceso propio.
		"clientProcessId": uuid.NewString(),
		"warningsShown":   []string{},
		"parameters": map[string]any{
			"instrumentId": p.ISIN,
			"exchangeId":   p.Exchange,
			"expiry":       expiry,
			"mode":         mode,
			"size":         p.Size,
			"type":         p.Side,
		},
	}
}

// LimitOrder crea una orden limitada y devuelve la respuesta cruda.
func (c *Client) LimitOrder(ctx context.Context, p OrderParams, limit float64) (json.RawMessage, error) {
	req := p.base("limit")
	req["parameters"].(map[string]any)["limit"] = limit
	return c.Do(ctx, req)
}

// MarketOrder crea una orden a mercado.
func (c *Client) MarketOrder(ctx context.Context, p OrderParams, sellFractions bool) (json.RawMessage, error) {
	req := p.base("market")
	req["parameters"].(map[string]any)["sellFractions"] = sellFractions
	return c.Do(ctx, req)
}

// CancelOrder cancela una orden existente.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.Do(ctx, map[string]any{"type": "cancelOrder", "orderId": orderID})
}
