package repo

import (
	"context"
	"errors"

	"github.com/milad/usagewatch/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ReadingStore persists properties, utility readings and detected anomalies.
type ReadingStore interface {
	// CreateProperty returns ErrAlreadyExists when the id is taken.
	CreateProperty(ctx context.Context, p domain.Property) (domain.Property, error)
	// GetProperty returns ErrNotFound for unknown ids.
	GetProperty(ctx context.Context, id string) (domain.Property, error)
	// ListProperties returns properties ordered by name.
	ListProperties(ctx context.Context) ([]domain.Property, error)

	AddReading(ctx context.Context, r domain.Reading) (domain.Reading, error)
	// ListReadings returns the newest `limit` readings of a property in ascending
	// ReadingDate order. limit <= 0 returns every reading.
	// The returned slice must be treated as read-only by callers.
	ListReadings(ctx context.Context, propertyID string, limit int) ([]domain.Reading, error)
	// MarkAnomalous flags a stored reading; ErrNotFound for unknown ids.
	MarkAnomalous(ctx context.Context, readingID string) error

	AddAnomaly(ctx context.Context, a domain.Anomaly) (domain.Anomaly, error)
	// ListAnomalies returns anomalies newest first; an empty propertyID lists all.
	ListAnomalies(ctx context.Context, propertyID string) ([]domain.Anomaly, error)

	Close() error
}
