// Package anomaly detects unusual utility consumption in a property's reading history.
//
// The engine is pure: every call recomputes its baseline from the supplied history
// window and keeps no state between calls.
package anomaly

import (
	"errors"
	"fmt"
	"strings"
)

// UtilityType is a configured category of metered consumption.
type UtilityType struct {
	Name string `json:"name" mapstructure:"name"`
	Unit string `json:"unit" mapstructure:"unit"`
}

// Config holds the detection policy. It is passed to New and never read from globals,
// so callers can tune thresholds per engine.
type Config struct {
	// RelativeThreshold is the fraction above the baseline mean that flags a reading
	// (0.5 flags usage more than 50% above baseline).
	RelativeThreshold float64
	// ZScoreThreshold enables the standard-deviation gate when > 0.
	ZScoreThreshold float64
	// MediumRatio and HighRatio are deviation ratios at which severity escalates.
	MediumRatio float64
	HighRatio   float64
	// MinReadings is the minimum history length, newest reading included.
	MinReadings int
	// BaselineWindow limits the baseline to the trailing N readings; 0 means all.
	BaselineWindow int
	// Parallelism bounds concurrent property analyses in AnalyzePortfolio.
	Parallelism int
	// UtilityTypes is the known set, in result order.
	UtilityTypes []UtilityType
}

// DefaultConfig returns the default detection policy.
func DefaultConfig() Config {
	return Config{
		RelativeThreshold: 0.5,
		ZScoreThreshold:   0,
		MediumRatio:       1.0,
		HighRatio:         1.5,
		MinReadings:       3,
		BaselineWindow:    12,
		Parallelism:       4,
		UtilityTypes: []UtilityType{
			{Name: "Water", Unit: "gal"},
			{Name: "Electric", Unit: "kWh"},
			{Name: "Gas", Unit: "therms"},
		},
	}
}

// Validate reports every problem with the policy at once.
func (c Config) Validate() error {
	var errs []error
	if c.RelativeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("relative threshold must be > 0, got %v", c.RelativeThreshold))
	}
	if c.ZScoreThreshold < 0 {
		errs = append(errs, fmt.Errorf("z-score threshold must be >= 0, got %v", c.ZScoreThreshold))
	}
	if c.MediumRatio < c.RelativeThreshold {
		errs = append(errs, fmt.Errorf("medium ratio %v must be >= relative threshold %v", c.MediumRatio, c.RelativeThreshold))
	}
	if c.HighRatio < c.MediumRatio {
		errs = append(errs, fmt.Errorf("high ratio %v must be >= medium ratio %v", c.HighRatio, c.MediumRatio))
	}
	if c.MinReadings < 2 {
		errs = append(errs, fmt.Errorf("min readings must be >= 2, got %d", c.MinReadings))
	}
	if c.BaselineWindow < 0 {
		errs = append(errs, fmt.Errorf("baseline window must be >= 0, got %d", c.BaselineWindow))
	}
	if c.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("parallelism must be >= 0, got %d", c.Parallelism))
	}
	if len(c.UtilityTypes) == 0 {
		errs = append(errs, errors.New("at least one utility type is required"))
	}
	seen := make(map[string]bool, len(c.UtilityTypes))
	for _, ut := range c.UtilityTypes {
		key := strings.ToLower(strings.TrimSpace(ut.Name))
		if key == "" {
			errs = append(errs, errors.New("utility type name is required"))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("duplicate utility type %q", ut.Name))
		}
		seen[key] = true
	}
	return errors.Join(errs...)
}

// Lookup resolves a utility type name case-insensitively to its configured form.
func (c Config) Lookup(name string) (UtilityType, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return UtilityType{}, false
	}
	for _, ut := range c.UtilityTypes {
		if strings.EqualFold(ut.Name, name) {
			return ut, true
		}
	}
	return UtilityType{}, false
}
