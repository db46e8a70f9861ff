package sqliterepo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milad/usagewatch/internal/domain"
	"github.com/milad/usagewatch/internal/repo"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func month(y int, m time.Month) time.Time { return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC) }

func TestPropertyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateProperty(ctx, domain.Property{ID: "p1", Name: "Maple Court", Address: "1 Maple St"})
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = s.CreateProperty(ctx, domain.Property{ID: "p1", Name: "Dup"})
	assert.ErrorIs(t, err, repo.ErrAlreadyExists)

	got, err := s.GetProperty(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Maple Court", got.Name)
	assert.Equal(t, "1 Maple St", got.Address)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetProperty(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = s.CreateProperty(ctx, domain.Property{Name: "Birch Lofts"})
	require.NoError(t, err)

	all, err := s.ListProperties(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Birch Lofts", all[0].Name)
	assert.NotEmpty(t, all[0].ID)
}

func TestReadingsNewestWindowAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProperty(ctx, domain.Property{ID: "p1", Name: "Maple Court"})
	require.NoError(t, err)

	for i, m := range []time.Month{time.March, time.January, time.February, time.April} {
		_, err := s.AddReading(ctx, domain.Reading{PropertyID: "p1", UtilityType: "Water", Value: float64(i), Unit: "gal", ReadingDate: month(2024, m)})
		require.NoError(t, err)
	}

	_, err = s.AddReading(ctx, domain.Reading{PropertyID: "ghost", UtilityType: "Water", ReadingDate: month(2024, time.May)})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	last2, err := s.ListReadings(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, month(2024, time.March), last2[0].ReadingDate)
	assert.Equal(t, month(2024, time.April), last2[1].ReadingDate)

	all, err := s.ListReadings(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, month(2024, time.January), all[0].ReadingDate)

	none, err := s.ListReadings(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestAnomaliesAndFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		_, err := s.CreateProperty(ctx, domain.Property{ID: id})
		require.NoError(t, err)
	}
	rd, err := s.AddReading(ctx, domain.Reading{PropertyID: "p1", UtilityType: "Gas", Value: 200, ReadingDate: month(2024, time.June)})
	require.NoError(t, err)

	require.NoError(t, s.MarkAnomalous(ctx, rd.ID))
	assert.ErrorIs(t, s.MarkAnomalous(ctx, "missing"), repo.ErrNotFound)

	base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	for i, pid := range []string{"p1", "p2", "p1"} {
		_, err := s.AddAnomaly(ctx, domain.Anomaly{
			PropertyID:     pid,
			ReadingID:      rd.ID,
			UtilityType:    "Gas",
			Severity:       "high",
			ThresholdValue: 120,
			ActualValue:    200,
			DetectedAt:     base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	all, err := s.ListAnomalies(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, base.Add(2*time.Minute), all[0].DetectedAt)
	assert.Equal(t, 120.0, all[0].ThresholdValue)

	p1, err := s.ListAnomalies(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, p1, 2)

	readings, err := s.ListReadings(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.True(t, readings[0].IsAnomaly)
}

func TestSeedIsIdempotentAndReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()

	props := []domain.Property{{ID: "p1", Name: "Maple Court"}}
	readings := []domain.Reading{
		{PropertyID: "p1", UtilityType: "Water", Value: 5000, ReadingDate: month(2024, time.January)},
		{PropertyID: "p1", UtilityType: "Water", Value: 5100, ReadingDate: month(2024, time.February)},
	}

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Seed(ctx, props, readings))
	require.NoError(t, s.Seed(ctx, props, readings))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(ctx))

	got, err := s.ListReadings(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAddReadingRejectsTakenMonth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProperty(ctx, domain.Property{ID: "p1", Name: "Maple Court"})
	require.NoError(t, err)

	_, err = s.AddReading(ctx, domain.Reading{PropertyID: "p1", UtilityType: "Water", Value: 5000, ReadingDate: month(2024, time.June)})
	require.NoError(t, err)

	late := time.Date(2024, time.June, 28, 9, 30, 0, 0, time.UTC)
	_, err = s.AddReading(ctx, domain.Reading{PropertyID: "p1", UtilityType: "water", Value: 5200, ReadingDate: late})
	assert.ErrorIs(t, err, repo.ErrAlreadyExists)

	// Another type or month is fine.
	_, err = s.AddReading(ctx, domain.Reading{PropertyID: "p1", UtilityType: "Gas", Value: 80, ReadingDate: late})
	require.NoError(t, err)
	_, err = s.AddReading(ctx, domain.Reading{PropertyID: "p1", UtilityType: "Water", Value: 5100, ReadingDate: month(2024, time.July)})
	require.NoError(t, err)

	all, err := s.ListReadings(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSeedRejectsTakenMonth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Seed(ctx, []domain.Property{{ID: "p1", Name: "Maple Court"}}, []domain.Reading{
		{PropertyID: "p1", UtilityType: "Water", Value: 5000, ReadingDate: month(2024, time.January)},
		{PropertyID: "p1", UtilityType: "Water", Value: 5200, ReadingDate: time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)},
	})
	require.ErrorIs(t, err, repo.ErrAlreadyExists)

	// The transaction rolled back.
	_, err = s.GetProperty(ctx, "p1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
