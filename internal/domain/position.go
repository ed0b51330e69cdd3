package domain

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// Position es una posición del portfolio en el broker. Las fases del
// agregador la van completando: cantidad y coste medio llegan con el
// portfolio compacto, nombre y exchanges con los detalles del
// instrumento, y precio y valor con el ticker.
type Position struct {
	InstrumentID  string // ISIN
	Name          string
	ExchangeIDs   []string
	Quantity      decimal.Decimal
	AverageCost   decimal.Decimal
	Price         decimal.Decimal
	NetValue      decimal.Decimal
	Priced        bool
	FromWatchlist bool
}

// CashBalance es el saldo en efectivo de la cuenta.
type CashBalance struct {
	Amount   decimal.Decimal
	Currency string
}

// Instrument son los detalles mínimos de un instrumento que necesita
// la valoración: nombre corto y exchanges donde cotiza.
type Instrument struct {
	ShortName   string
	ExchangeIDs []string
}

// TickerQuote es la última cotización de un instrumento en un exchange.
type TickerQuote struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal
}

// bondPattern identifica bonos por su nombre ("... Jan 2030"): mes en
// inglés o alemán, punto opcional, y un año 20xx. El broker no expone
// el tipo de instrumento en el portfolio compacto, así que el nombre
// es la única señal disponible.
var bondPattern = regexp.MustCompile(`(?i)(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec|January|February|March|April|June|July|August|September|October|November|December|Januar|Februar|März|Mai|Juni|Juli|Oktober|Dezember)\.?\s+20\d{2}`)

// IsBondName devuelve true si el nombre del instrumento encaja con el
// patrón mes + año de los bonos.
func IsBondName(name string) bool {
	return bondPattern.MatchString(name)
}

// NormalizePrice aplica la convención de valor nominal: los bonos
// cotizan por 100 unidades de nominal, así que su precio real es el
// cotizado dividido entre 100. El resto de instrumentos no cambia.
func NormalizePrice(name string, raw decimal.Decimal) decimal.Decimal {
	if IsBondName(name) {
		return raw.Div(decimal.NewFromInt(100))
	}
	return raw
}

// RoundMoney redondea a 2 decimales con half-up (mitad hacia arriba,
// no banker's rounding), igual que redondea céntimos el broker.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
