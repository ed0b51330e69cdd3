package valuation

// aggregator.go — workflow de valoración en tres fases.
//
// Fase 1: portfolio compacto + efectivo (+ watchlist opcional), en
// paralelo. Fase 2: detalles de instrumento por ISIN. Fase 3: ticker
// en el primer exchange listado. Cada fase drena por completo antes de
// empezar la siguiente. Los fallos por instrumento degradan la entrada
// (precio cero) sin abortar la valoración.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/trfolio/internal/domain"
	"github.com/alejandrodnm/trfolio/internal/ports"
)

// detailWorkers acota las suscripciones de las fases 2 y 3 en vuelo.
const detailWorkers = 8

// Aggregator calcula la valoración completa del portfolio contra el
// broker.
type Aggregator struct {
	broker           ports.Broker
	includeWatchlist bool
}

// New crea un Aggregator.
func New(broker ports.Broker, includeWatchlist bool) *Aggregator {
	return &Aggregator{broker: broker, includeWatchlist: includeWatchlist}
}

// Run ejecuta las tres fases y devuelve la valoración completa.
func (a *Aggregator) Run(ctx context.Context) (domain.Overview, error) {
	positions, cash, err := a.bulkState(ctx)
	if err != nil {
		return domain.Overview{}, err
	}

	a.populateDetails(ctx, positions)
	a.populatePrices(ctx, positions)

	valued := make([]domain.Position, 0, len(positions))
	for _, pos := range positions {
		if !pos.Priced {
			// Visto con instrumentos no listados durante capital
			// measures: sin precio, la posición vale cero pero la
			// valoración sigue.
			slog.Warn("missing price, defaulting to zero",
				"isin", pos.InstrumentID, "name", pos.Name)
			pos.Price = decimal.Zero
			pos.NetValue = decimal.Zero
		}
		valued = append(valued, *pos)
	}

	return domain.BuildOverview(valued, cash), nil
}

// bulkState es la fase 1: las tres suscripciones de estado en
// paralelo, cada una con su propio waiter. Portfolio y efectivo son
// imprescindibles; un fallo del watchlist solo avisa.
func (a *Aggregator) bulkState(ctx context.Context) ([]*domain.Position, decimal.Decimal, error) {
	var (
		wg        sync.WaitGroup
		positions []domain.Position
		balances  []domain.CashBalance
		watchlist []domain.Position

		posErr, cashErr, watchErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		positions, posErr = a.broker.CompactPortfolio(ctx)
	}()
	go func() {
		defer wg.Done()
		balances, cashErr = a.broker.Cash(ctx)
	}()
	if a.includeWatchlist {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchlist, watchErr = a.broker.Watchlist(ctx)
		}()
	}
	wg.Wait()

	if posErr != nil {
		return nil, decimal.Zero, fmt.Errorf("valuation: fetch portfolio: %w", posErr)
	}
	if cashErr != nil {
		return nil, decimal.Zero, fmt.Errorf("valuation: fetch cash: %w", cashErr)
	}
	if watchErr != nil {
		slog.Warn("watchlist fetch failed, continuing without it", "err", watchErr)
	}

	// Merge por ISIN con las posiciones reales por delante: una
	// entrada del watchlist que ya está en el portfolio no aporta nada.
	merged := make([]*domain.Position, 0, len(positions)+len(watchlist))
	seen := make(map[string]bool, len(positions))
	for i := range positions {
		seen[positions[i].InstrumentID] = true
		merged = append(merged, &positions[i])
	}
	for i := range watchlist {
		if seen[watchlist[i].InstrumentID] {
			continue
		}
		seen[watchlist[i].InstrumentID] = true
		merged = append(merged, &watchlist[i])
	}

	cash := decimal.Zero
	if len(balances) > 0 {
		cash = balances[0].Amount
	}
	return merged, cash, nil
}

// populateDetails es la fase 2: nombre y exchanges por posición. Un
// fallo deja la posición sin exchanges (y por tanto sin precio en la
// fase 3) pero no detiene a las demás.
func (a *Aggregator) populateDetails(ctx context.Context, positions []*domain.Position) {
	forEachBounded(positions, detailWorkers, func(pos *domain.Position) {
		inst, err := a.broker.InstrumentDetails(ctx, pos.InstrumentID)
		if err != nil {
			slog.Warn("instrument details failed", "isin", pos.InstrumentID, "err", err)
			pos.Name = "Unknown (" + pos.InstrumentID + ")"
			return
		}
		pos.Name = inst.ShortName
		pos.ExchangeIDs = inst.ExchangeIDs
	})
}

// populatePrices es la fase 3: ticker en el primer exchange listado
// (el orden del broker decide el desempate), convención de valor
// nominal para bonos, y valor neto redondeado half-up a céntimos.
func (a *Aggregator) populatePrices(ctx context.Context, positions []*domain.Position) {
	forEachBounded(positions, detailWorkers, func(pos *domain.Position) {
		if len(pos.ExchangeIDs) == 0 {
			return
		}

		quote, err := a.broker.Ticker(ctx, pos.InstrumentID, pos.ExchangeIDs[0])
		if err != nil {
			slog.Warn("ticker failed", "isin", pos.InstrumentID,
				"exchange", pos.ExchangeIDs[0], "err", err)
			return
		}

		pos.Price = domain.NormalizePrice(pos.Name, quote.Last)

		// Las entradas del watchlist no tienen tamaño ni coste: entran
		// con cantidad cero y coste igual al precio actual (ganancia
		// latente cero por construcción).
		if pos.FromWatchlist {
			pos.AverageCost = pos.Price
		}

		pos.NetValue = domain.RoundMoney(pos.Price.Mul(pos.Quantity))
		pos.Priced = true
	})
}

// forEachBounded procesa las posiciones con un pool acotado de workers.
func forEachBounded(positions []*domain.Position, workers int, fn func(*domain.Position)) {
	workCh := make(chan *domain.Position, len(positions))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range workCh {
				fn(pos)
			}
		}()
	}

	for _, pos := range positions {
		workCh <- pos
	}
	close(workCh)
	wg.Wait()
}
