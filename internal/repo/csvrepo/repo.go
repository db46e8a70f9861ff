package csvrepo

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/milad/usagewatch/internal/anomaly"
	"github.com/milad/usagewatch/internal/domain"
	"github.com/milad/usagewatch/internal/repo"
)

var _ repo.ReadingStore = (*Repo)(nil)

// Repo is an in-memory store, optionally seeded from a CSV file at startup.
type Repo struct {
	mu         sync.RWMutex
	properties map[string]domain.Property
	readings   []domain.Reading // sorted ascending by ReadingDate
	anomalies  []domain.Anomaly
}

// NewFromFile loads a readings CSV, validating utility types against cfg.
func NewFromFile(path string, cfg anomaly.Config) (*Repo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %q: %w", path, err)
	}
	defer f.Close()

	seed, parseErr := ParseReadingsCSV(f, cfg)
	if len(seed.Readings) == 0 && parseErr != nil {
		return nil, fmt.Errorf("parse csv %q: %w", path, parseErr)
	}
	r := New(seed.Properties, seed.Readings)

	// Parsing can be partially successful; surface warnings to the caller.
	if parseErr != nil {
		return r, fmt.Errorf("parse csv %q: %w", path, parseErr)
	}
	return r, nil
}

// New returns a store holding copies of the given properties and readings.
// Readings without an id are assigned one.
func New(properties []domain.Property, readings []domain.Reading) *Repo {
	r := &Repo{properties: make(map[string]domain.Property, len(properties))}
	for _, p := range properties {
		r.properties[p.ID] = p
	}
	r.readings = make([]domain.Reading, 0, len(readings))
	for _, rd := range readings {
		if rd.ID == "" {
			rd.ID = uuid.NewString()
		}
		r.readings = append(r.readings, rd)
	}
	sort.SliceStable(r.readings, func(i, j int) bool {
		return r.readings[i].ReadingDate.Before(r.readings[j].ReadingDate)
	})
	return r
}

func (r *Repo) CreateProperty(ctx context.Context, p domain.Property) (domain.Property, error) {
	_ = ctx

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.properties[p.ID]; ok {
		return domain.Property{}, fmt.Errorf("property %q: %w", p.ID, repo.ErrAlreadyExists)
	}
	r.properties[p.ID] = p
	return p, nil
}

func (r *Repo) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.properties[id]
	if !ok {
		return domain.Property{}, fmt.Errorf("property %q: %w", id, repo.ErrNotFound)
	}
	return p, nil
}

func (r *Repo) ListProperties(ctx context.Context) ([]domain.Property, error) {
	_ = ctx

	r.mu.RLock()
	out := make([]domain.Property, 0, len(r.properties))
	for _, p := range r.properties {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Repo) AddReading(ctx context.Context, rd domain.Reading) (domain.Reading, error) {
	_ = ctx

	if rd.ID == "" {
		rd.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.properties[rd.PropertyID]; !ok {
		return domain.Reading{}, fmt.Errorf("property %q: %w", rd.PropertyID, repo.ErrNotFound)
	}

	// One reading per property, utility type and calendar month.
	for _, existing := range r.readings {
		if existing.PropertyID == rd.PropertyID &&
			strings.EqualFold(existing.UtilityType, rd.UtilityType) &&
			anomaly.PeriodOf(existing.ReadingDate) == anomaly.PeriodOf(rd.ReadingDate) {
			return domain.Reading{}, fmt.Errorf("reading %s %s for property %q: %w",
				rd.UtilityType, anomaly.PeriodOf(rd.ReadingDate), rd.PropertyID, repo.ErrAlreadyExists)
		}
	}

	// Insert after any reading with the same date to keep insertion order stable.
	i := sort.Search(len(r.readings), func(i int) bool { return r.readings[i].ReadingDate.After(rd.ReadingDate) })
	r.readings = append(r.readings, domain.Reading{})
	copy(r.readings[i+1:], r.readings[i:])
	r.readings[i] = rd
	return rd, nil
}

func (r *Repo) ListReadings(ctx context.Context, propertyID string, limit int) ([]domain.Reading, error) {
	_ = ctx // reserved for future cancellation-aware backends

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Reading
	for _, rd := range r.readings {
		if rd.PropertyID == propertyID {
			out = append(out, rd)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []domain.Reading{}
	}
	return out, nil
}

func (r *Repo) MarkAnomalous(ctx context.Context, readingID string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.readings {
		if r.readings[i].ID == readingID {
			r.readings[i].IsAnomaly = true
			return nil
		}
	}
	return fmt.Errorf("reading %q: %w", readingID, repo.ErrNotFound)
}

func (r *Repo) AddAnomaly(ctx context.Context, a domain.Anomaly) (domain.Anomaly, error) {
	_ = ctx

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, a)
	return a, nil
}

func (r *Repo) ListAnomalies(ctx context.Context, propertyID string) ([]domain.Anomaly, error) {
	_ = ctx

	r.mu.RLock()
	out := make([]domain.Anomaly, 0, len(r.anomalies))
	for i := len(r.anomalies) - 1; i >= 0; i-- {
		if propertyID == "" || r.anomalies[i].PropertyID == propertyID {
			out = append(out, r.anomalies[i])
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (r *Repo) Close() error { return nil }
