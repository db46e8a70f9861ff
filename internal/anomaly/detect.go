package anomaly

import "fmt"

// Severity ranks how urgently an anomaly should be triaged.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities: none < low < medium < high.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// ParseSeverity accepts the lower-case severity names.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeverityNone, SeverityLow, SeverityMedium, SeverityHigh:
		return sev, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, s)
}

type evaluation struct {
	anomalous bool
	severity  Severity
	ratio     float64
	zScore    float64
	threshold float64
}

// evaluate tests actual against the baseline.
//
// A zero baseline cannot produce a ratio; any positive usage against it is high
// severity and the ratio is reported as 0.
func evaluate(cfg Config, b Baseline, actual float64) evaluation {
	ev := evaluation{
		severity:  SeverityNone,
		threshold: b.Mean * (1 + cfg.RelativeThreshold),
	}
	if b.StdDev > 0 {
		ev.zScore = (actual - b.Mean) / b.StdDev
	}

	if b.Mean <= 0 {
		if actual > 0 {
			ev.anomalous = true
			ev.severity = SeverityHigh
		}
		return ev
	}

	ev.ratio = (actual - b.Mean) / b.Mean
	ev.anomalous = ev.ratio > cfg.RelativeThreshold
	if !ev.anomalous && cfg.ZScoreThreshold > 0 && b.StdDev > 0 {
		ev.anomalous = ev.zScore > cfg.ZScoreThreshold
	}
	if ev.anomalous {
		ev.severity = classify(cfg, ev.ratio)
	}
	return ev
}

// classify maps a deviation ratio of a flagged reading to a severity.
// A ratio sitting exactly on a cut point takes the higher tier.
func classify(cfg Config, ratio float64) Severity {
	switch {
	case ratio >= cfg.HighRatio:
		return SeverityHigh
	case ratio >= cfg.MediumRatio:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
