package domain

// PriceResult es el resultado de una consulta de precio para un ISIN
// en la fuente de mercado externa. Siempre hay un resultado por ISIN
// pedido: si la consulta falla, Success es false y Price no es válido.
type PriceResult struct {
	ISIN    string
	Name    string
	Price   float64
	Success bool
	// Series son las muestras intradía crudas [timestamp_ms, precio];
	// la última muestra es el precio actual.
	Series [][2]float64
}

// HoldingInput es lo que el colaborador externo (la capa CRUD) conoce
// de cada posición: ISIN, cantidad neta y total invertido.
type HoldingInput struct {
	ISIN          string
	NetQuantity   float64
	TotalInvested float64
}

// ReportPosition es una posición del informe de valoración que se
// expone a la capa web. Es la única frontera entre el núcleo y el
// colaborador excluido.
type ReportPosition struct {
	ISIN          string  `json:"isin"`
	Name          string  `json:"name"`
	Shares        float64 `json:"shares"`
	AvgPrice      float64 `json:"avg_price"`
	CurrentPrice  float64 `json:"current_price"`
	Value         float64 `json:"value"`
	TotalInvested float64 `json:"total_invested"`
}

// ReportSummary agrega el informe completo.
type ReportSummary struct {
	TotalValue       float64 `json:"total_value"`
	TotalGainLossPct float64 `json:"total_gain_loss_pct"`
	HoldingsCount    int     `json:"holdings_count"`
}

// Report es el informe de valoración serializable a JSON.
type Report struct {
	Positions []ReportPosition `json:"positions"`
	Summary   ReportSummary    `json:"summary"`
}
