package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/milad/usagewatch/internal/anomaly"
	"github.com/milad/usagewatch/internal/domain"
	"github.com/milad/usagewatch/internal/events"
	"github.com/milad/usagewatch/internal/repo"
)

var (
	ErrInvalidInput    = anomaly.ErrInvalidInput
	ErrNotFound        = repo.ErrNotFound
	ErrAlreadyExists   = repo.ErrAlreadyExists
	ErrDuplicatePeriod = errors.New("reading already recorded for this period")
)

// DefaultHistoryLimit bounds the readings fetched per property for one analysis.
const DefaultHistoryLimit = 100

// DefaultPublishTimeout bounds one alert publish.
const DefaultPublishTimeout = 2 * time.Second

type RecordReadingInput struct {
	PropertyID  string    `validate:"required,max=64"`
	UtilityType string    `validate:"required,max=64"`
	Value       float64   `validate:"gte=0"`
	Unit        string    `validate:"max=32"`
	ReadingDate time.Time // zero means now
}

type RecordReadingResult struct {
	Reading         domain.Reading
	AnomalyDetected bool
	// Analysis is the result for the recorded utility type; nil when the type
	// has less history than the engine needs.
	Analysis *anomaly.DetectionResult
	Anomaly  *domain.Anomaly
}

type CreatePropertyInput struct {
	ID      string `validate:"omitempty,max=64"`
	Name    string `validate:"required,max=200"`
	Address string `validate:"max=500"`
}

// PortfolioSummary is a portfolio report plus the number of stored properties
// that had enough readings to be handed to the engine.
type PortfolioSummary struct {
	anomaly.PortfolioReport
	PropertiesWithHistory int `json:"properties_with_history"`
}

type Option func(*UsageService)

func WithLogger(l *zap.Logger) Option {
	return func(s *UsageService) { s.log = l }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *UsageService) { s.pub = p }
}

func WithHistoryLimit(n int) Option {
	return func(s *UsageService) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithPublishTimeout bounds how long an alert publish may take.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *UsageService) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *UsageService) { s.now = now }
}

type UsageService struct {
	store          repo.ReadingStore
	engine         *anomaly.Engine
	cfg            anomaly.Config
	pub            events.Publisher
	log            *zap.Logger
	validate       *validator.Validate
	historyLimit   int
	publishTimeout time.Duration
	now            func() time.Time
}

func NewUsageService(store repo.ReadingStore, engine *anomaly.Engine, opts ...Option) *UsageService {
	s := &UsageService{
		store:          store,
		engine:         engine,
		cfg:            engine.Config(),
		pub:            events.NopPublisher{},
		log:            zap.NewNop(),
		validate:       validator.New(),
		historyLimit:   DefaultHistoryLimit,
		publishTimeout: DefaultPublishTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("service")
	return s
}

func (s *UsageService) CreateProperty(ctx context.Context, in CreatePropertyInput) (domain.Property, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return domain.Property{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p, err := s.store.CreateProperty(ctx, domain.Property{
		ID:        in.ID,
		Name:      in.Name,
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Property{}, fmt.Errorf("create property: %w", err)
	}
	s.log.Info("property created", zap.String("property_id", p.ID))
	return p, nil
}

// RecordReading stores a reading, re-analyzes the property and, when the recorded
// reading is flagged, persists an anomaly and publishes an alert.
func (s *UsageService) RecordReading(ctx context.Context, in RecordReadingInput) (RecordReadingResult, error) {
	in.PropertyID = strings.TrimSpace(in.PropertyID)
	in.UtilityType = strings.TrimSpace(in.UtilityType)
	in.Unit = strings.TrimSpace(in.Unit)
	if err := s.validate.Struct(in); err != nil {
		return RecordReadingResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if math.IsInf(in.Value, 0) {
		return RecordReadingResult{}, fmt.Errorf("%w: value must be finite", ErrInvalidInput)
	}
	ut, ok := s.cfg.Lookup(in.UtilityType)
	if !ok {
		return RecordReadingResult{}, fmt.Errorf("%w: unknown utility type %q", ErrInvalidInput, in.UtilityType)
	}
	if in.Unit == "" {
		in.Unit = ut.Unit
	}
	if in.ReadingDate.IsZero() {
		in.ReadingDate = s.now()
	}
	in.ReadingDate = in.ReadingDate.UTC()

	prop, err := s.store.GetProperty(ctx, in.PropertyID)
	if err != nil {
		return RecordReadingResult{}, err
	}

	// The store owns the one-reading-per-month rule so concurrent writers
	// cannot both pass it.
	period := anomaly.PeriodOf(in.ReadingDate)
	stored, err := s.store.AddReading(ctx, domain.Reading{
		PropertyID:  prop.ID,
		UtilityType: ut.Name,
		Value:       in.Value,
		Unit:        in.Unit,
		ReadingDate: in.ReadingDate,
	})
	if errors.Is(err, repo.ErrAlreadyExists) {
		return RecordReadingResult{}, fmt.Errorf("%w: %s %s for property %q", ErrDuplicatePeriod, ut.Name, period, prop.ID)
	}
	if err != nil {
		return RecordReadingResult{}, fmt.Errorf("store reading: %w", err)
	}
	readingsRecordedTotal.WithLabelValues(ut.Name).Inc()
	out := RecordReadingResult{Reading: stored}

	analysis, err := s.analyze(ctx, prop)
	if err != nil {
		// The reading is stored; stale history must not turn the write into a failure.
		analysisFailuresTotal.WithLabelValues("record").Inc()
		s.log.Warn("analysis after record failed",
			zap.String("property_id", prop.ID),
			zap.String("reading_id", stored.ID),
			zap.Error(err),
		)
		return out, nil
	}
	res, ok := analysis.Result(ut.Name)
	if !ok {
		return out, nil
	}
	out.Analysis = &res
	// Only the newest reading is tested; a back-dated reading is never flagged itself.
	if !res.AnomalyDetected || res.Period != period {
		return out, nil
	}

	a, err := s.flag(ctx, prop, stored, res)
	if err != nil {
		return RecordReadingResult{}, err
	}
	out.Reading.IsAnomaly = true
	out.AnomalyDetected = true
	out.Anomaly = &a
	return out, nil
}

func (s *UsageService) flag(ctx context.Context, prop domain.Property, rd domain.Reading, res anomaly.DetectionResult) (domain.Anomaly, error) {
	if err := s.store.MarkAnomalous(ctx, rd.ID); err != nil {
		return domain.Anomaly{}, fmt.Errorf("mark reading: %w", err)
	}
	var msg string
	if res.AlertMessage != nil {
		msg = *res.AlertMessage
	}
	a, err := s.store.AddAnomaly(ctx, domain.Anomaly{
		PropertyID:     prop.ID,
		ReadingID:      rd.ID,
		UtilityType:    res.UtilityType,
		Severity:       string(res.Severity),
		Message:        msg,
		ThresholdValue: res.AnomalyThreshold,
		ActualValue:    res.ActualValue,
		DetectedAt:     s.now().UTC(),
	})
	if err != nil {
		return domain.Anomaly{}, fmt.Errorf("store anomaly: %w", err)
	}
	anomaliesDetectedTotal.WithLabelValues(res.UtilityType, string(res.Severity)).Inc()
	s.log.Info("anomaly detected",
		zap.String("property_id", prop.ID),
		zap.String("utility_type", res.UtilityType),
		zap.String("severity", string(res.Severity)),
		zap.Float64("actual", res.ActualValue),
		zap.Float64("threshold", res.AnomalyThreshold),
	)

	ev := events.AlertEvent{
		AnomalyID:      a.ID,
		PropertyID:     prop.ID,
		PropertyName:   prop.Name,
		ReadingID:      rd.ID,
		UtilityType:    a.UtilityType,
		Period:         res.Period.String(),
		Severity:       a.Severity,
		Message:        a.Message,
		ThresholdValue: a.ThresholdValue,
		ActualValue:    a.ActualValue,
		BaselineValue:  res.BaselineValue,
		DetectedAt:     a.DetectedAt,
	}
	// A slow broker must not hold the request; the anomaly is already stored.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.pub.Publish(pctx, ev); err != nil {
		alertPublishFailuresTotal.Inc()
		s.log.Error("publish alert failed", zap.String("anomaly_id", a.ID), zap.Error(err))
	}
	return a, nil
}

// ListReadings returns a property's readings in ascending date order. An empty
// propertyID returns the readings of every property.
func (s *UsageService) ListReadings(ctx context.Context, propertyID string) ([]domain.Reading, error) {
	if propertyID != "" {
		if _, err := s.store.GetProperty(ctx, propertyID); err != nil {
			return nil, err
		}
		return s.store.ListReadings(ctx, propertyID, 0)
	}

	props, err := s.store.ListProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	out := []domain.Reading{}
	for _, p := range props {
		rs, err := s.store.ListReadings(ctx, p.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("list readings for %q: %w", p.ID, err)
		}
		out = append(out, rs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReadingDate.Before(out[j].ReadingDate) })
	return out, nil
}

// ListAnomalies lists stored anomalies newest first; an empty propertyID lists all.
func (s *UsageService) ListAnomalies(ctx context.Context, propertyID string) ([]domain.Anomaly, error) {
	if propertyID != "" {
		if _, err := s.store.GetProperty(ctx, propertyID); err != nil {
			return nil, err
		}
	}
	return s.store.ListAnomalies(ctx, propertyID)
}

// AnalyzeProperty runs the engine over a property's recent history without
// persisting anything.
func (s *UsageService) AnalyzeProperty(ctx context.Context, propertyID string) (anomaly.PropertyAnalysis, error) {
	if strings.TrimSpace(propertyID) == "" {
		return anomaly.PropertyAnalysis{}, fmt.Errorf("%w: property id is required", ErrInvalidInput)
	}
	prop, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return anomaly.PropertyAnalysis{}, err
	}
	return s.analyze(ctx, prop)
}

func (s *UsageService) analyze(ctx context.Context, prop domain.Property) (anomaly.PropertyAnalysis, error) {
	readings, err := s.store.ListReadings(ctx, prop.ID, s.historyLimit)
	if err != nil {
		return anomaly.PropertyAnalysis{}, fmt.Errorf("list readings: %w", err)
	}
	profile, err := anomaly.NewProfile(s.cfg, prop.ID, prop.Name, toEngineReadings(readings))
	if err != nil {
		return anomaly.PropertyAnalysis{}, err
	}
	return s.engine.AnalyzeProperty(profile)
}

// AnalyzePortfolio analyzes every stored property with at least MinReadings
// readings. Empty or history-less portfolios yield an informational message.
func (s *UsageService) AnalyzePortfolio(ctx context.Context) (PortfolioSummary, error) {
	props, err := s.store.ListProperties(ctx)
	if err != nil {
		portfolioRunsTotal.WithLabelValues("error").Inc()
		return PortfolioSummary{}, fmt.Errorf("list properties: %w", err)
	}

	var (
		profiles []anomaly.PropertyUsageProfile
		invalid  []anomaly.PropertyFailure
	)
	for _, p := range props {
		readings, err := s.store.ListReadings(ctx, p.ID, s.historyLimit)
		if err != nil {
			portfolioRunsTotal.WithLabelValues("error").Inc()
			return PortfolioSummary{}, fmt.Errorf("list readings for %q: %w", p.ID, err)
		}
		if len(readings) < s.cfg.MinReadings {
			continue
		}
		profile, err := anomaly.NewProfile(s.cfg, p.ID, p.Name, toEngineReadings(readings))
		if err != nil {
			analysisFailuresTotal.WithLabelValues("portfolio").Inc()
			s.log.Warn("invalid stored history", zap.String("property_id", p.ID), zap.Error(err))
			invalid = append(invalid, anomaly.PropertyFailure{PropertyID: p.ID, Error: err.Error()})
			continue
		}
		profiles = append(profiles, profile)
	}

	withHistory := len(profiles) + len(invalid)
	out := PortfolioSummary{PropertiesWithHistory: withHistory}
	if withHistory == 0 {
		out.PortfolioReport = anomaly.PortfolioReport{
			Analyses:    []anomaly.PropertyAnalysis{},
			GeneratedAt: s.now().UTC(),
		}
		if len(props) == 0 {
			out.Message = "No properties found in database"
		} else {
			out.Message = fmt.Sprintf("Insufficient reading history for analysis (need at least %d readings per property)", s.cfg.MinReadings)
		}
		portfolioRunsTotal.WithLabelValues("empty").Inc()
		return out, nil
	}

	if len(profiles) == 0 {
		out.PortfolioReport = anomaly.PortfolioReport{
			PropertiesFailed: len(invalid),
			Failures:         invalid,
			Analyses:         []anomaly.PropertyAnalysis{},
			Message:          fmt.Sprintf("No properties could be analyzed; %d with invalid stored history", len(invalid)),
			GeneratedAt:      s.now().UTC(),
		}
	} else {
		out.PortfolioReport = s.engine.AnalyzePortfolio(ctx, profiles)
		if len(invalid) > 0 {
			out.PropertiesFailed += len(invalid)
			out.Failures = append(out.Failures, invalid...)
			out.Message = fmt.Sprintf("%s; %d with invalid stored history", out.Message, len(invalid))
		}
	}

	result := "ok"
	if out.PropertiesFailed > 0 {
		result = "partial"
	}
	portfolioRunsTotal.WithLabelValues(result).Inc()
	s.log.Info("portfolio analyzed",
		zap.Int("properties", len(props)),
		zap.Int("with_history", withHistory),
		zap.Int("analyzed", out.TotalPropertiesAnalyzed),
		zap.Int("with_anomalies", out.PropertiesWithAnomalies),
		zap.Int("failed", out.PropertiesFailed),
	)
	return out, nil
}

func toEngineReadings(in []domain.Reading) []anomaly.Reading {
	out := make([]anomaly.Reading, 0, len(in))
	for _, rd := range in {
		out = append(out, anomaly.Reading{
			UtilityType: rd.UtilityType,
			Period:      anomaly.PeriodOf(rd.ReadingDate),
			Value:       rd.Value,
		})
	}
	return out
}
