package ports

import (
	"context"

	"github.com/alejandrodnm/trfolio/internal/domain"
)

// Notifier publica el resultado de una valoración (consola, etc.).
type Notifier interface {
	PublishOverview(ctx context.Context, ov domain.Overview) error
}
