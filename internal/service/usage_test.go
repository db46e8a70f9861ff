package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milad/usagewatch/internal/anomaly"
	"github.com/milad/usagewatch/internal/domain"
	"github.com/milad/usagewatch/internal/events"
	"github.com/milad/usagewatch/internal/repo"
	"github.com/milad/usagewatch/internal/repo/csvrepo"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []events.AlertEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, ev events.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

// stallingPublisher blocks until its context ends, like a broker that never acks.
type stallingPublisher struct {
	err chan error
}

func (p *stallingPublisher) Publish(ctx context.Context, _ events.AlertEvent) error {
	<-ctx.Done()
	p.err <- ctx.Err()
	return ctx.Err()
}

func (p *stallingPublisher) Close() error { return nil }

// slowStore widens the window between a writer's checks and its insert.
type slowStore struct {
	repo.ReadingStore
	delay time.Duration
}

func (s slowStore) AddReading(ctx context.Context, rd domain.Reading) (domain.Reading, error) {
	time.Sleep(s.delay)
	return s.ReadingStore.AddReading(ctx, rd)
}

var fixedNow = time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC)

func month(m time.Month) time.Time { return time.Date(2024, m, 10, 0, 0, 0, 0, time.UTC) }

// seeded returns a service over one property with five months of steady water usage.
func seeded(t *testing.T, pub events.Publisher) (*UsageService, *csvrepo.Repo) {
	t.Helper()
	store := seededStore()
	engine, err := anomaly.New(anomaly.DefaultConfig())
	require.NoError(t, err)
	return NewUsageService(store, engine,
		WithPublisher(pub),
		WithClock(func() time.Time { return fixedNow }),
	), store
}

func seededStore() *csvrepo.Repo {
	readings := []domain.Reading{
		{PropertyID: "p1", UtilityType: "Water", Value: 5000, Unit: "gal", ReadingDate: month(time.January)},
		{PropertyID: "p1", UtilityType: "Water", Value: 5100, Unit: "gal", ReadingDate: month(time.February)},
		{PropertyID: "p1", UtilityType: "Water", Value: 4900, Unit: "gal", ReadingDate: month(time.March)},
		{PropertyID: "p1", UtilityType: "Water", Value: 5050, Unit: "gal", ReadingDate: month(time.April)},
		{PropertyID: "p1", UtilityType: "Water", Value: 4950, Unit: "gal", ReadingDate: month(time.May)},
		{PropertyID: "p2", UtilityType: "Gas", Value: 80, Unit: "therms", ReadingDate: month(time.January)},
	}
	return csvrepo.New(
		[]domain.Property{{ID: "p1", Name: "Maple Court"}, {ID: "p2", Name: "Oak Villas"}},
		readings,
	)
}

func TestRecordReading_SpikeStoresAnomalyAndPublishes(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	svc, _ := seeded(t, pub)
	ctx := context.Background()

	res, err := svc.RecordReading(ctx, RecordReadingInput{
		PropertyID:  "p1",
		UtilityType: "water",
		Value:       12500,
		ReadingDate: month(time.June),
	})
	require.NoError(t, err)

	assert.True(t, res.AnomalyDetected)
	assert.True(t, res.Reading.IsAnomaly)
	assert.Equal(t, "Water", res.Reading.UtilityType)
	assert.Equal(t, "gal", res.Reading.Unit)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, anomaly.SeverityHigh, res.Analysis.Severity)
	assert.InDelta(t, 7500, res.Analysis.AnomalyThreshold, 0.001)
	require.NotNil(t, res.Anomaly)
	assert.Equal(t, "high", res.Anomaly.Severity)
	assert.Equal(t, fixedNow, res.Anomaly.DetectedAt)
	assert.NotEmpty(t, res.Anomaly.Message)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "p1", pub.events[0].PropertyID)
	assert.Equal(t, "2024-06", pub.events[0].Period)
	assert.Equal(t, res.Anomaly.ID, pub.events[0].AnomalyID)

	stored, err := svc.ListAnomalies(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Reading.ID, stored[0].ReadingID)

	readings, err := svc.ListReadings(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, readings, 6)
	assert.True(t, readings[5].IsAnomaly)
}

func TestRecordReading_NormalReadingIsNotFlagged(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	svc, _ := seeded(t, pub)

	res, err := svc.RecordReading(context.Background(), RecordReadingInput{
		PropertyID:  "p1",
		UtilityType: "Water",
		Value:       5200,
		Unit:        "gallons",
		ReadingDate: month(time.June),
	})
	require.NoError(t, err)
	assert.False(t, res.AnomalyDetected)
	assert.Nil(t, res.Anomaly)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, anomaly.SeverityNone, res.Analysis.Severity)
	assert.Equal(t, "gallons", res.Reading.Unit)
	assert.Empty(t, pub.events)
}

func TestRecordReading_ShortHistoryHasNoAnalysis(t *testing.T) {
	t.Parallel()
	svc, _ := seeded(t, &fakePublisher{})

	res, err := svc.RecordReading(context.Background(), RecordReadingInput{
		PropertyID:  "p2",
		UtilityType: "Gas",
		Value:       500,
		ReadingDate: month(time.February),
	})
	require.NoError(t, err)
	assert.False(t, res.AnomalyDetected)
	assert.Nil(t, res.Analysis)
	assert.Equal(t, "therms", res.Reading.Unit)
}

func TestRecordReading_BackdatedReadingIsNotFlagged(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	svc, store := seeded(t, pub)
	ctx := context.Background()

	_, err := store.AddReading(ctx, domain.Reading{PropertyID: "p1", UtilityType: "Water", Value: 5000, ReadingDate: month(time.July)})
	require.NoError(t, err)

	// June is still free but July is already newer.
	res, err := svc.RecordReading(ctx, RecordReadingInput{PropertyID: "p1", UtilityType: "Water", Value: 90000, ReadingDate: month(time.June)})
	require.NoError(t, err)
	assert.False(t, res.AnomalyDetected)
	assert.Empty(t, pub.events)
}

func TestRecordReading_PublishFailureDoesNotFailWrite(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{err: errors.New("broker down")}
	svc, _ := seeded(t, pub)

	res, err := svc.RecordReading(context.Background(), RecordReadingInput{
		PropertyID:  "p1",
		UtilityType: "Water",
		Value:       12500,
		ReadingDate: month(time.June),
	})
	require.NoError(t, err)
	assert.True(t, res.AnomalyDetected)
	assert.Len(t, pub.events, 1)
}

func TestRecordReading_PublishIsBounded(t *testing.T) {
	t.Parallel()
	pub := &stallingPublisher{err: make(chan error, 1)}
	store := seededStore()
	engine, err := anomaly.New(anomaly.DefaultConfig())
	require.NoError(t, err)
	svc := NewUsageService(store, engine,
		WithPublisher(pub),
		WithPublishTimeout(20*time.Millisecond),
		WithClock(func() time.Time { return fixedNow }),
	)

	start := time.Now()
	res, err := svc.RecordReading(context.Background(), RecordReadingInput{
		PropertyID:  "p1",
		UtilityType: "Water",
		Value:       12500,
		ReadingDate: month(time.June),
	})
	require.NoError(t, err)
	assert.True(t, res.AnomalyDetected)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, <-pub.err, context.DeadlineExceeded)
}

func TestRecordReading_ConcurrentSameMonthStoresOne(t *testing.T) {
	t.Parallel()
	base := seededStore()
	engine, err := anomaly.New(anomaly.DefaultConfig())
	require.NoError(t, err)
	svc := NewUsageService(slowStore{ReadingStore: base, delay: 5 * time.Millisecond}, engine,
		WithPublisher(&fakePublisher{}),
		WithClock(func() time.Time { return fixedNow }),
	)
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordReading(ctx, RecordReadingInput{
				PropertyID:  "p1",
				UtilityType: "Water",
				Value:       5000,
				ReadingDate: time.Date(2024, time.June, 10+i, 0, 0, 0, 0, time.UTC),
			})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicatePeriod):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)

	readings, err := svc.ListReadings(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, readings, 6)

	// History stays analyzable, so a later spike is still caught.
	res, err := svc.RecordReading(ctx, RecordReadingInput{
		PropertyID:  "p1",
		UtilityType: "Water",
		Value:       50000,
		ReadingDate: month(time.July),
	})
	require.NoError(t, err)
	assert.True(t, res.AnomalyDetected)
}

func TestRecordReading_Errors(t *testing.T) {
	t.Parallel()
	svc, _ := seeded(t, &fakePublisher{})
	ctx := context.Background()

	cases := []struct {
		name string
		in   RecordReadingInput
		want error
	}{
		{"missing property", RecordReadingInput{UtilityType: "Water", Value: 1}, ErrInvalidInput},
		{"missing utility", RecordReadingInput{PropertyID: "p1", Value: 1}, ErrInvalidInput},
		{"unknown utility", RecordReadingInput{PropertyID: "p1", UtilityType: "Steam", Value: 1}, ErrInvalidInput},
		{"negative value", RecordReadingInput{PropertyID: "p1", UtilityType: "Water", Value: -1}, ErrInvalidInput},
		{"nan value", RecordReadingInput{PropertyID: "p1", UtilityType: "Water", Value: math.NaN()}, ErrInvalidInput},
		{"infinite value", RecordReadingInput{PropertyID: "p1", UtilityType: "Water", Value: math.Inf(1)}, ErrInvalidInput},
		{"unknown property", RecordReadingInput{PropertyID: "nope", UtilityType: "Water", Value: 1}, ErrNotFound},
		{"duplicate month", RecordReadingInput{PropertyID: "p1", UtilityType: "Water", Value: 1, ReadingDate: time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)}, ErrDuplicatePeriod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RecordReading(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateProperty(t *testing.T) {
	t.Parallel()
	svc, _ := seeded(t, &fakePublisher{})
	ctx := context.Background()

	p, err := svc.CreateProperty(ctx, CreatePropertyInput{Name: "  Birch Lofts ", Address: "9 Birch Rd"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Birch Lofts", p.Name)
	assert.Equal(t, fixedNow, p.CreatedAt)

	_, err = svc.CreateProperty(ctx, CreatePropertyInput{ID: "p1", Name: "Again"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = svc.CreateProperty(ctx, CreatePropertyInput{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAnalyzeProperty(t *testing.T) {
	t.Parallel()
	svc, _ := seeded(t, &fakePublisher{})
	ctx := context.Background()

	a, err := svc.AnalyzeProperty(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Maple Court", a.PropertyName)
	require.Len(t, a.DetectionResults, 1)
	assert.False(t, a.DetectionResults[0].AnomalyDetected)

	_, err = svc.AnalyzeProperty(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.AnalyzeProperty(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	all, err := svc.ListReadings(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, "p1", all[0].PropertyID)
	assert.Equal(t, "p2", all[1].PropertyID)

	anomalies, err := svc.ListAnomalies(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, anomalies, "analysis must not persist anything")
}

func TestAnalyzePortfolio(t *testing.T) {
	t.Parallel()
	svc, _ := seeded(t, &fakePublisher{})
	ctx := context.Background()

	_, err := svc.RecordReading(ctx, RecordReadingInput{PropertyID: "p1", UtilityType: "Water", Value: 12500, ReadingDate: month(time.June)})
	require.NoError(t, err)

	got, err := svc.AnalyzePortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PropertiesWithHistory)
	assert.Equal(t, 1, got.TotalPropertiesAnalyzed)
	assert.Equal(t, 1, got.PropertiesWithAnomalies)
	assert.Equal(t, "1 of 1 analyzed properties show anomalous usage", got.Message)
	require.Len(t, got.Analyses, 1)
	assert.Equal(t, "p1", got.Analyses[0].PropertyID)
}

func TestAnalyzePortfolio_EmptyAndShortHistory(t *testing.T) {
	t.Parallel()
	engine, err := anomaly.New(anomaly.DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	empty := NewUsageService(csvrepo.New(nil, nil), engine)
	got, err := empty.AnalyzePortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, "No properties found in database", got.Message)
	assert.Equal(t, 0, got.TotalPropertiesAnalyzed)
	assert.NotNil(t, got.Analyses)

	short := NewUsageService(csvrepo.New(
		[]domain.Property{{ID: "p1"}},
		[]domain.Reading{{PropertyID: "p1", UtilityType: "Gas", Value: 1, ReadingDate: month(time.January)}},
	), engine)
	got, err = short.AnalyzePortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, got.PropertiesWithHistory)
	assert.Contains(t, got.Message, "Insufficient reading history")
}

func TestAnalyzePortfolio_InvalidStoredHistoryIsIsolated(t *testing.T) {
	t.Parallel()
	engine, err := anomaly.New(anomaly.DefaultConfig())
	require.NoError(t, err)

	readings := []domain.Reading{
		{PropertyID: "bad", UtilityType: "Water", Value: 1, ReadingDate: month(time.January)},
		{PropertyID: "bad", UtilityType: "Water", Value: 2, ReadingDate: month(time.January)},
		{PropertyID: "bad", UtilityType: "Water", Value: 3, ReadingDate: month(time.February)},
	}
	for i, v := range []float64{100, 110, 105} {
		readings = append(readings, domain.Reading{PropertyID: "good", UtilityType: "Gas", Value: v, ReadingDate: month(time.Month(i + 1))})
	}
	svc := NewUsageService(csvrepo.New([]domain.Property{{ID: "bad"}, {ID: "good"}}, readings), engine)

	got, err := svc.AnalyzePortfolio(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, got.PropertiesWithHistory)
	assert.Equal(t, 1, got.TotalPropertiesAnalyzed)
	assert.Equal(t, 1, got.PropertiesFailed)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, "bad", got.Failures[0].PropertyID)
}

func TestAnalyzePortfolio_AllStoredHistoryInvalid(t *testing.T) {
	t.Parallel()
	engine, err := anomaly.New(anomaly.DefaultConfig())
	require.NoError(t, err)

	svc := NewUsageService(csvrepo.New([]domain.Property{{ID: "bad"}}, []domain.Reading{
		{PropertyID: "bad", UtilityType: "Water", Value: 1, ReadingDate: month(time.January)},
		{PropertyID: "bad", UtilityType: "Water", Value: 2, ReadingDate: month(time.January)},
		{PropertyID: "bad", UtilityType: "Water", Value: 3, ReadingDate: month(time.February)},
	}), engine, WithClock(func() time.Time { return fixedNow }))

	got, err := svc.AnalyzePortfolio(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.PropertiesWithHistory)
	assert.Equal(t, 0, got.TotalPropertiesAnalyzed)
	assert.Equal(t, 1, got.PropertiesFailed)
	assert.NotNil(t, got.Analyses)
	assert.Equal(t, fixedNow, got.GeneratedAt)
	assert.Equal(t, "No properties could be analyzed; 1 with invalid stored history", got.Message)
}
