package ports

import (
	"context"

	"github.com/alejandrodnm/trfolio/internal/domain"
)

// Broker es la vista que el agregador tiene del cliente del broker:
// operaciones síncronas de una sola respuesta (suscribir, esperar la
// respuesta, desuscribir). Pueden llamarse concurrentemente; el
// cliente demultiplexa el socket compartido por id de suscripción.
type Broker interface {
	// CompactPortfolio devuelve las posiciones actuales de la cuenta.
	CompactPortfolio(ctx context.Context) ([]domain.Position, error)

	// Cash devuelve los saldos en efectivo de la cuenta.
	Cash(ctx context.Context) ([]domain.CashBalance, error)

	// Watchlist devuelve los instrumentos seguidos sin posición.
	Watchlist(ctx context.Context) ([]domain.Position, error)

	// InstrumentDetails devuelve nombre y exchanges de un ISIN.
	InstrumentDetails(ctx context.Context, isin string) (domain.Instrument, error)

	// Ticker devuelve la última cotización del ISIN en el exchange dado.
	Ticker(ctx context.Context, isin, exchange string) (domain.TickerQuote, error)
}
