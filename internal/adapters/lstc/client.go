package lstc

// client.go — fuente de precios de ls-tc.de.
//
// Fuente HTTP independiente del socket del broker: resuelve el id
// interno del instrumento a partir del ISIN y baja la serie intradía;
// la última muestra es el precio actual.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultSearchBase = "https://www.ls-tc.de/_rpc/json/.lstc/instrument/search/main"
	defaultChartBase  = "https://www.ls-tc.de/_rpc/json/instrument/chart/dataForInstrument"

	// Sin límites documentados; contención conservadora para no
	// castigar al proveedor durante un fan-out grande.
	requestsPerSec = 10

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/102.0.0.0 Safari/537.36"
)

// Client es el HTTP client de ls-tc.de con rate limiting.
type Client struct {
	http       *http.Client
	searchBase string
	chartBase  string
	limiter    *rate.Limiter
}

// NewClient crea un Client. Bases vacías usan los URLs de producción.
func NewClient(searchBase, chartBase string) *Client {
	if searchBase == "" {
		searchBase = defaultSearchBase
	}
	if chartBase == "" {
		chartBase = defaultChartBase
	}
	return &Client{
		http:       &http.Client{Timeout: 10 * time.Second},
		searchBase: searchBase,
		chartBase:  chartBase,
		limiter:    rate.NewLimiter(requestsPerSec, 5),
	}
}

// instrumentRef es un resultado de búsqueda del proveedor.
type instrumentRef struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayname"`
}

// Lookup resuelve el id interno del proveedor y el nombre a mostrar
// para un ISIN.
func (c *Client) Lookup(ctx context.Context, isin string) (int64, string, error) {
	var refs []instrumentRef
	u := c.searchBase + "?q=" + url.QueryEscape(isin)
	if err := c.get(ctx, u, &refs); err != nil {
		return 0, "", fmt.Errorf("lstc: search %s: %w", isin, err)
	}
	if len(refs) == 0 {
		return 0, "", fmt.Errorf("lstc: no instrument found for %s", isin)
	}
	return refs[0].ID, refs[0].DisplayName, nil
}

// Intraday baja la serie intradía [timestamp_ms, precio] de un
// instrumento ya resuelto.
func (c *Client) Intraday(ctx context.Context, instrumentID int64) ([][2]float64, error) {
	var resp struct {
		Series struct {
			Intraday struct {
				Data [][2]float64 `json:"data"`
			} `json:"intraday"`
		} `json:"series"`
	}
	u := fmt.Sprintf("%s?instrumentId=%d", c.chartBase, instrumentID)
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("lstc: chart %d: %w", instrumentID, err)
	}
	return resp.Series.Intraday.Data, nil
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
