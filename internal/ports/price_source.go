package ports

import (
	"context"

	"github.com/alejandrodnm/trfolio/internal/domain"
)

// PriceSource consulta precios actuales en una fuente de mercado
// externa, independiente del socket del broker.
type PriceSource interface {
	// FetchMany consulta todos los ISINs en paralelo con como mucho
	// maxConcurrent peticiones en vuelo. Devuelve exactamente un
	// resultado por ISIN pedido; los fallos individuales se absorben
	// como Success=false y nunca tumban al resto.
	FetchMany(ctx context.Context, isins []string, maxConcurrent int) map[string]domain.PriceResult
}
