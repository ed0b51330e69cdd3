package lstc

// fetch.go — fan-out acotado sobre la fuente de precios.

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/trfolio/internal/domain"
)

// FetchMany consulta todos los ISINs en paralelo con como mucho
// maxConcurrent peticiones en vuelo (semáforo contador). Cada fallo se
// absorbe en el resultado de su ISIN como Success=false; un lookup que
// falla nunca cancela ni tumba a sus hermanos. El mapa devuelto tiene
// exactamente una entrada por ISIN pedido.
func FetchMany(ctx context.Context, c *Client, isins []string, maxConcurrent int) map[string]domain.PriceResult {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	sem := make(chan struct{}, maxConcurrent)
	results := make(map[string]domain.PriceResult, len(isins))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, isin := range isins {
		wg.Add(1)
		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			res := c.fetchOne(ctx, isin)
			mu.Lock()
			results[isin] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results
}

// fetchOne resuelve y valora un solo ISIN; los errores se convierten
// en un resultado fallido, nunca se propagan.
func (c *Client) fetchOne(ctx context.Context, isin string) domain.PriceResult {
	id, name, err := c.Lookup(ctx, isin)
	if err != nil {
		slog.Warn("price lookup failed", "isin", isin, "err", err)
		return domain.PriceResult{ISIN: isin, Name: "Unknown (" + isin + ")"}
	}

	series, err := c.Intraday(ctx, id)
	if err != nil {
		slog.Warn("intraday fetch failed", "isin", isin, "err", err)
		return domain.PriceResult{ISIN: isin, Name: name}
	}
	if len(series) == 0 {
		slog.Warn("empty intraday series", "isin", isin)
		return domain.PriceResult{ISIN: isin, Name: name}
	}

	return domain.PriceResult{
		ISIN:    isin,
		Name:    name,
		Price:   series[len(series)-1][1],
		Success: true,
		Series:  series,
	}
}

// Source adapta el cliente al puerto ports.PriceSource.
type Source struct {
	client *Client
}

// NewSource crea el adaptador de puerto sobre un Client.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// FetchMany implementa ports.PriceSource.
func (s *Source) FetchMany(ctx context.Context, isins []string, maxConcurrent int) map[string]domain.PriceResult {
	return FetchMany(ctx, s.client, isins, maxConcurrent)
}
