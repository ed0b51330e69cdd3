package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/trfolio/internal/domain"
)

// Snapshot es el resumen persistido de una valoración.
type Snapshot struct {
	TakenAt       time.Time
	Positions     int
	TotalBuyCost  float64
	TotalNetValue float64
	Cash          float64
}

// Storage persiste las valoraciones del portfolio.
type Storage interface {
	// SaveOverview persiste el resultado de una valoración completa.
	SaveOverview(ctx context.Context, at time.Time, ov domain.Overview) error

	// History devuelve los resúmenes registrados en el rango dado.
	History(ctx context.Context, from, to time.Time) ([]Snapshot, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
