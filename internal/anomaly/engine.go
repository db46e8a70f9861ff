package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DetectionResult is the outcome of testing the newest reading of one utility type.
type DetectionResult struct {
	UtilityType      string   `json:"utility_type"`
	Period           Period   `json:"period"`
	AnomalyDetected  bool     `json:"anomaly_detected"`
	Severity         Severity `json:"severity"`
	AnomalyThreshold float64  `json:"anomaly_threshold"`
	ActualValue      float64  `json:"actual_value"`
	BaselineValue    float64  `json:"baseline_value"`
	DeviationRatio   float64  `json:"deviation_ratio"`
	ZScore           float64  `json:"z_score"`
	SampleSize       int      `json:"sample_size"`
	AlertMessage     *string  `json:"alert_message,omitempty"`
}

// PropertyAnalysis holds one result per analyzable utility type of a property.
type PropertyAnalysis struct {
	PropertyID       string            `json:"property_id"`
	PropertyName     string            `json:"property_name"`
	DetectionResults []DetectionResult `json:"detection_results"`
}

// HasAnomaly reports whether any utility type was flagged.
func (a PropertyAnalysis) HasAnomaly() bool {
	for _, r := range a.DetectionResults {
		if r.AnomalyDetected {
			return true
		}
	}
	return false
}

// Result returns the detection result for a utility type, matched case-insensitively.
func (a PropertyAnalysis) Result(utilityType string) (DetectionResult, bool) {
	for _, r := range a.DetectionResults {
		if strings.EqualFold(r.UtilityType, utilityType) {
			return r, true
		}
	}
	return DetectionResult{}, false
}

// PropertyFailure records a property rejected during a portfolio run.
type PropertyFailure struct {
	PropertyID string `json:"property_id"`
	Error      string `json:"error"`
}

// PortfolioReport aggregates the analyses of a batch run.
type PortfolioReport struct {
	TotalPropertiesAnalyzed int                `json:"total_properties_analyzed"`
	PropertiesWithAnomalies int                `json:"properties_with_anomalies"`
	PropertiesSkipped       int                `json:"properties_skipped"`
	PropertiesFailed        int                `json:"properties_failed"`
	Failures                []PropertyFailure  `json:"failures,omitempty"`
	Analyses                []PropertyAnalysis `json:"analyses"`
	Message                 string             `json:"message"`
	GeneratedAt             time.Time          `json:"generated_at"`
}

// Engine runs the detection policy. It is safe for concurrent use.
type Engine struct {
	cfg Config
	now func() time.Time
}

type Option func(*Engine)

// WithClock overrides the clock used for PortfolioReport.GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("anomaly config: %w", err)
	}
	cfg.UtilityTypes = append([]UtilityType(nil), cfg.UtilityTypes...)
	e := &Engine{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns a copy of the engine's policy.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.UtilityTypes = append([]UtilityType(nil), e.cfg.UtilityTypes...)
	return cfg
}

// AnalyzeProperty tests the newest reading of every utility type that has at least
// MinReadings points. Types with less history are omitted, not reported as errors.
func (e *Engine) AnalyzeProperty(p PropertyUsageProfile) (PropertyAnalysis, error) {
	histories, err := normalize(e.cfg, p)
	if err != nil {
		return PropertyAnalysis{}, fmt.Errorf("property %q: %w", p.PropertyID, err)
	}

	out := PropertyAnalysis{
		PropertyID:       p.PropertyID,
		PropertyName:     p.PropertyName,
		DetectionResults: []DetectionResult{},
	}
	for _, ut := range e.cfg.UtilityTypes {
		h, ok := histories[ut.Name]
		if !ok || len(h) < e.cfg.MinReadings {
			continue
		}
		out.DetectionResults = append(out.DetectionResults, e.detect(ut, h))
	}
	return out, nil
}

func (e *Engine) detect(ut UtilityType, h UtilityHistory) DetectionResult {
	newest := h[len(h)-1]
	b := ComputeBaseline(baselineValues(h, e.cfg.BaselineWindow))
	ev := evaluate(e.cfg, b, newest.Value)

	return DetectionResult{
		UtilityType:      ut.Name,
		Period:           newest.Period,
		AnomalyDetected:  ev.anomalous,
		Severity:         ev.severity,
		AnomalyThreshold: ev.threshold,
		ActualValue:      newest.Value,
		BaselineValue:    b.Mean,
		DeviationRatio:   ev.ratio,
		ZScore:           ev.zScore,
		SampleSize:       b.SampleSize,
		AlertMessage:     AlertMessage(ut.Name, ut.Unit, newest.Value, b.Mean, ev.severity),
	}
}

type outcome struct {
	analysis PropertyAnalysis
	err      error
}

// AnalyzePortfolio analyzes every profile and aggregates the results. A failing
// property is reported in Failures and never aborts the batch. Analyses keep the
// input order.
func (e *Engine) AnalyzePortfolio(ctx context.Context, profiles []PropertyUsageProfile) PortfolioReport {
	outcomes := make([]outcome, len(profiles))

	var g errgroup.Group
	g.SetLimit(max(e.cfg.Parallelism, 1))
	for i := range profiles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			a, err := e.AnalyzeProperty(profiles[i])
			outcomes[i] = outcome{analysis: a, err: err}
			return nil
		})
	}
	_ = g.Wait()

	report := PortfolioReport{
		Analyses:    []PropertyAnalysis{},
		GeneratedAt: e.now().UTC(),
	}
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			report.PropertiesFailed++
			report.Failures = append(report.Failures, PropertyFailure{
				PropertyID: profiles[i].PropertyID,
				Error:      o.err.Error(),
			})
		case len(o.analysis.DetectionResults) == 0:
			report.PropertiesSkipped++
		default:
			report.TotalPropertiesAnalyzed++
			if o.analysis.HasAnomaly() {
				report.PropertiesWithAnomalies++
			}
			report.Analyses = append(report.Analyses, o.analysis)
		}
	}
	report.Message = e.summarize(len(profiles), report)
	return report
}

func (e *Engine) summarize(supplied int, r PortfolioReport) string {
	if supplied == 0 {
		return "No properties supplied for analysis"
	}
	if r.TotalPropertiesAnalyzed == 0 && r.PropertiesFailed == 0 {
		return fmt.Sprintf("Insufficient reading history for analysis (need at least %d readings per property)", e.cfg.MinReadings)
	}

	msg := fmt.Sprintf("%d of %d analyzed properties show anomalous usage", r.PropertiesWithAnomalies, r.TotalPropertiesAnalyzed)
	if r.PropertiesSkipped > 0 {
		msg += fmt.Sprintf("; %d skipped for insufficient history", r.PropertiesSkipped)
	}
	if r.PropertiesFailed > 0 {
		msg += fmt.Sprintf("; %d could not be analyzed", r.PropertiesFailed)
	}
	return msg
}
